package shared

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"
)

// Future is the eventual result of an asynchronous venue call.
type Future[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	value    T
	err      error
	pending  []func()
}

// NewFuture returns an unresolved future and the function that settles it.
// Only the first call to the settle function has any effect.
func NewFuture[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.resolve
}

// Go runs fn on wg and settles the returned future with its result.
func Go[T any](wg *conc.WaitGroup, fn func() (T, error)) *Future[T] {
	f, settle := NewFuture[T]()
	wg.Go(func() {
		v, err := fn()
		settle(v, err)
	})
	return f
}

// Failed returns a future already settled with err.
func Failed[T any](err error) *Future[T] {
	f, settle := NewFuture[T]()
	var zero T
	settle(zero, err)
	return f
}

func (f *Future[T]) resolve(v T, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.value = v
	f.err = err
	pending := f.pending
	f.pending = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// Then registers exactly one of two continuations to run once the future settles.
// Both continuations are required. A continuation registered after settlement
// runs on the caller's goroutine; otherwise it runs on the settling goroutine.
func (f *Future[T]) Then(onSuccess func(T), onFailure func(error)) {
	if onSuccess == nil || onFailure == nil {
		panic("shared: Future.Then requires both success and failure continuations")
	}
	run := func() {
		if f.err != nil {
			onFailure(f.err)
			return
		}
		onSuccess(f.value)
	}

	f.mu.Lock()
	if !f.resolved {
		f.pending = append(f.pending, run)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	run()
}

// Await blocks until the future settles or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
