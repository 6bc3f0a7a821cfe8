// Package venuefake provides in-process stand-ins for venue endpoints used by tests.
package venuefake

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// Frame is one text frame read from a client connection.
type Frame struct {
	Conn int
	Data []byte
}

// StreamServer is a websocket endpoint that records what clients send and can push frames back.
type StreamServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn

	frames   chan Frame
	accepted chan int

	// OnAccept runs for every new connection before its frames are read.
	OnAccept func(ctx context.Context, conn *websocket.Conn)
}

// NewStreamServer starts a server that is closed when the test ends.
func NewStreamServer(t testing.TB) *StreamServer {
	t.Helper()
	s := &StreamServer{
		frames:   make(chan Frame, 1024),
		accepted: make(chan int, 64),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the server.
func (s *StreamServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close drops every connection and stops the listener.
func (s *StreamServer) Close() {
	s.DropAll()
	s.srv.Close()
}

func (s *StreamServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	idx := len(s.conns)
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	ctx := context.Background()
	if s.OnAccept != nil {
		s.OnAccept(ctx, conn)
	}
	s.accepted <- idx

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.frames <- Frame{Conn: idx, Data: data}
	}
}

// Push writes data to the most recent connection.
func (s *StreamServer) Push(data []byte) error {
	s.mu.Lock()
	if len(s.conns) == 0 {
		s.mu.Unlock()
		return context.Canceled
	}
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// DropAll closes every accepted connection abruptly.
func (s *StreamServer) DropAll() {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseNow()
	}
}

// Connections reports how many connections have been accepted so far.
func (s *StreamServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// WaitAccepted blocks until the next connection is accepted and returns its index.
func (s *StreamServer) WaitAccepted(t testing.TB, timeout time.Duration) int {
	t.Helper()
	select {
	case idx := <-s.accepted:
		return idx
	case <-time.After(timeout):
		t.Fatalf("no connection accepted within %s", timeout)
		return -1
	}
}

// NextFrame returns the next frame sent by any client.
func (s *StreamServer) NextFrame(t testing.TB, timeout time.Duration) Frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(timeout):
		t.Fatalf("no frame received within %s", timeout)
		return Frame{}
	}
}

// Frames collects n frames.
func (s *StreamServer) Frames(t testing.TB, n int, timeout time.Duration) []Frame {
	t.Helper()
	out := make([]Frame, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case f := <-s.frames:
			out = append(out, f)
		case <-deadline:
			t.Fatalf("received %d of %d frames within %s", len(out), n, timeout)
		}
	}
	return out
}

// NoFrame asserts that no frame arrives within d.
func (s *StreamServer) NoFrame(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case f := <-s.frames:
		t.Fatalf("unexpected frame on conn %d: %s", f.Conn, f.Data)
	case <-time.After(d):
	}
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
