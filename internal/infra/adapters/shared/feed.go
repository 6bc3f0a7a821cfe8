// Package shared provides venue-agnostic connectivity building blocks for adapters.
package shared

import (
	"sync"

	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
)

// Feed fans a value out to registered listeners synchronously, in registration order.
type Feed[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []feedListener[T]
}

type feedListener[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (f *Feed[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, feedListener[T]{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Feed[T]) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, l := range f.listeners {
		if l.id == id {
			f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every listener on the caller's goroutine.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	snapshot := make([]feedListener[T], len(f.listeners))
	copy(snapshot, f.listeners)
	f.mu.Unlock()
	for _, l := range snapshot {
		l.fn(v)
	}
}

// Len reports the number of registered listeners.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// StatusFeed tracks a connectivity status and notifies listeners on change.
//
// A new listener observes the current status before Subscribe returns.
// Notifications are serialised, so every listener sees transitions in order.
// Listeners must not call Subscribe from inside a notification.
type StatusFeed struct {
	emitMu sync.Mutex
	mu     sync.Mutex
	status schema.ConnectivityStatus
	feed   Feed[schema.ConnectivityStatus]
}

// Status returns the current status.
func (s *StatusFeed) Status() schema.ConnectivityStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe registers fn, replays the current status to it and returns an unsubscribe function.
func (s *StatusFeed) Subscribe(fn func(schema.ConnectivityStatus)) func() {
	if fn == nil {
		return func() {}
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	unsubscribe := s.feed.Subscribe(fn)
	fn(s.Status())
	return unsubscribe
}

// Set records status and notifies listeners when it differs from the previous value.
// It reports whether a transition happened.
func (s *StatusFeed) Set(status schema.ConnectivityStatus) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return false
	}
	s.status = status
	s.mu.Unlock()
	s.feed.Publish(status)
	return true
}
