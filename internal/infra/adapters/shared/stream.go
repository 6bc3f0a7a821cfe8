package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/meltica-bitmex/errs"
	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
	"github.com/coachpo/meltica-bitmex/internal/observability"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 20 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultReadLimit      = 2 * 1024 * 1024
)

// MessageHandler receives every inbound frame with the time it was read.
type MessageHandler func(data []byte, received time.Time)

// StreamOptions configures a StreamTransport.
type StreamOptions struct {
	URL   string
	Venue string
	// ReconnectDelay is the fixed wait between a close and the next dial.
	ReconnectDelay time.Duration
	// PingInterval is the keepalive period. Negative disables pings.
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	OnMessage    MessageHandler
	// OnError receives transport faults. They are never returned to callers.
	OnError func(error)
	Metrics *StreamMetrics
	Now     func() time.Time
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.PingInterval == 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	if strings.TrimSpace(o.Venue) == "" {
		o.Venue = "stream"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// StreamTransport keeps one websocket to a venue alive, redialling after a
// fixed delay whenever it drops, and reports connectivity transitions.
type StreamTransport struct {
	opts   StreamOptions
	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.RWMutex
	conn   *websocket.Conn

	status StatusFeed
	redial chan struct{}
	done   chan struct{}

	closeOnce sync.Once
}

// NewStreamTransport starts connecting immediately and keeps reconnecting until Close.
func NewStreamTransport(ctx context.Context, opts StreamOptions) *StreamTransport {
	transportCtx, cancel := context.WithCancel(ctx)
	t := &StreamTransport{
		opts:   opts.withDefaults(),
		ctx:    transportCtx,
		cancel: cancel,
		redial: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go t.connectLoop()
	return t
}

// Connect drops the live socket, if any, and dials again without waiting for the reconnect delay.
func (t *StreamTransport) Connect() {
	// serve drains redial while holding connMu, so a request made before the
	// socket is published is consumed by that socket and never outlives it.
	t.connMu.Lock()
	select {
	case t.redial <- struct{}{}:
	default:
	}
	conn := t.conn
	t.connMu.Unlock()
	if conn != nil {
		_ = conn.CloseNow()
	}
}

// Send writes one text frame on the live socket.
func (t *StreamTransport) Send(ctx context.Context, data []byte) error {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		return errs.New(t.opts.Venue, errs.CodeUnavailable,
			errs.WithMessage("stream not connected"),
			errs.WithCanonicalCode(errs.CanonicalNotConnected))
	}
	if ctx == nil {
		ctx = t.ctx
	}
	writeCtx, cancel := context.WithTimeout(ctx, t.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return errs.New(t.opts.Venue, errs.CodeNetwork,
			errs.WithMessage("write stream frame"),
			errs.WithCause(err))
	}
	return nil
}

// OnConnectivityChange registers fn for status transitions. fn observes the
// current status before this call returns.
func (t *StreamTransport) OnConnectivityChange(fn func(schema.ConnectivityStatus)) func() {
	return t.status.Subscribe(fn)
}

// Status returns the current connectivity status.
func (t *StreamTransport) Status() schema.ConnectivityStatus {
	return t.status.Status()
}

// Close stops reconnecting, closes the socket and waits for the connect loop to exit.
// The status is Disconnected once Close returns.
func (t *StreamTransport) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		t.connMu.Lock()
		conn := t.conn
		t.conn = nil
		t.connMu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
		}
		<-t.done
		t.status.Set(schema.Disconnected)
	})
}

func (t *StreamTransport) connectLoop() {
	defer close(t.done)
	schedule := backoff.NewConstantBackOff(t.opts.ReconnectDelay)

	for {
		if t.ctx.Err() != nil {
			return
		}
		t.drainRedial()

		conn, _, err := websocket.Dial(t.ctx, t.opts.URL, nil)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.opts.Metrics.recordDial(t.ctx, t.opts.Venue, false)
			t.reportError(fmt.Errorf("dial %s: %w", t.opts.URL, err))
		} else {
			t.opts.Metrics.recordDial(t.ctx, t.opts.Venue, true)
			schedule.Reset()
			t.serve(conn)
		}

		if !t.wait(schedule.NextBackOff()) {
			return
		}
	}
}

func (t *StreamTransport) serve(conn *websocket.Conn) {
	conn.SetReadLimit(t.opts.ReadLimit)

	t.connMu.Lock()
	if t.ctx.Err() != nil {
		t.connMu.Unlock()
		_ = conn.CloseNow()
		return
	}
	t.conn = conn
	t.drainRedial()
	t.connMu.Unlock()

	observability.Log().Info("stream connected",
		observability.Field{Key: "venue", Value: t.opts.Venue},
		observability.Field{Key: "url", Value: t.opts.URL})

	// Listeners run before the first read so subscriptions precede any data.
	t.status.Set(schema.Connected)

	connCtx, connCancel := context.WithCancel(t.ctx)
	errCh := make(chan error, 2)
	var wg conc.WaitGroup
	wg.Go(func() {
		errCh <- t.readLoop(connCtx, conn)
	})
	if t.opts.PingInterval > 0 {
		wg.Go(func() {
			errCh <- t.pingLoop(connCtx, conn)
		})
	}

	firstErr := <-errCh
	connCancel()

	t.connMu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.connMu.Unlock()
	_ = conn.CloseNow()
	wg.Wait()

	t.status.Set(schema.Disconnected)

	if firstErr != nil && !isClosure(firstErr) && t.ctx.Err() == nil {
		t.reportError(fmt.Errorf("stream connection: %w", firstErr))
	}
	observability.Log().Info("stream disconnected",
		observability.Field{Key: "venue", Value: t.opts.Venue},
		observability.Err(firstErr))
}

func (t *StreamTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read websocket: %w", err)
		}
		if t.opts.OnMessage != nil {
			t.opts.OnMessage(data, t.opts.Now())
		}
	}
}

func (t *StreamTransport) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
			start := time.Now()
			err := conn.Ping(pingCtx)
			cancel()
			t.opts.Metrics.recordPing(ctx, t.opts.Venue, time.Since(start), err == nil)
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (t *StreamTransport) wait(delay time.Duration) bool {
	if delay == backoff.Stop {
		delay = t.opts.ReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-t.ctx.Done():
		return false
	case <-t.redial:
		return true
	case <-timer.C:
		return true
	}
}

func (t *StreamTransport) drainRedial() {
	select {
	case <-t.redial:
	default:
	}
}

func (t *StreamTransport) reportError(err error) {
	if err == nil {
		return
	}
	observability.Log().Error("stream fault",
		observability.Field{Key: "venue", Value: t.opts.Venue},
		observability.Err(err))
	if t.opts.OnError != nil {
		t.opts.OnError(err)
	}
}

func isClosure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
