package bitmex

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/meltica-bitmex/errs"
	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
	"github.com/coachpo/meltica-bitmex/internal/observability"
)

const (
	subscribeWriteTimeout = 5 * time.Second
	unroutedLogInterval   = 30 * time.Second
)

// Stream is the transport surface the router drives.
type Stream interface {
	Send(ctx context.Context, data []byte) error
	OnConnectivityChange(fn func(schema.ConnectivityStatus)) func()
	Status() schema.ConnectivityStatus
}

// Envelope is one routed table message with its records decoded to T.
type Envelope[T any] struct {
	Topic    string
	Action   string
	Keys     []string
	Records  []T
	Received time.Time
}

// Subscription is a standing interest in one topic, optionally scoped by a filter.
type Subscription struct {
	Topic  string
	Filter string
}

// Arg renders the wire argument, topic or topic:filter.
func (s Subscription) Arg() string {
	return subscriptionArg(s.Topic, s.Filter)
}

type routeFunc func(frame inboundFrame, received time.Time) error

// Router owns the subscription list and dispatches inbound frames to one handler per topic.
type Router struct {
	venue   string
	metrics *gatewayMetrics

	mu        sync.Mutex
	subs      []Subscription
	handlers  map[string]routeFunc
	connected bool

	stream Stream
	detach func()

	unrouted rate.Sometimes
}

// NewRouter creates a router with no stream attached.
func NewRouter(venue string, metrics *gatewayMetrics) *Router {
	return &Router{
		venue:    venue,
		metrics:  metrics,
		handlers: make(map[string]routeFunc),
		unrouted: rate.Sometimes{First: 1, Interval: unroutedLogInterval},
	}
}

// Subscribe registers handler as the only consumer of topic and makes sure the
// venue is (or will be) subscribed to topic:filter.
func Subscribe[T any](r *Router, topic, filter string, handler func(Envelope[T])) error {
	if handler == nil {
		return errs.New(r.venue, errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("nil handler for topic %q", topic)))
	}
	route := func(frame inboundFrame, received time.Time) error {
		var records []T
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &records); err != nil {
				return fmt.Errorf("decode %s records: %w", frame.Table, err)
			}
		}
		handler(Envelope[T]{
			Topic:    frame.Table,
			Action:   frame.Action,
			Keys:     frame.Keys,
			Records:  records,
			Received: received,
		})
		return nil
	}
	return r.register(Subscription{Topic: strings.TrimSpace(topic), Filter: strings.TrimSpace(filter)}, route)
}

func (r *Router) register(sub Subscription, route routeFunc) error {
	if sub.Topic == "" {
		return errs.New(r.venue, errs.CodeInvalid, errs.WithMessage("topic required"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[sub.Topic]; exists {
		return errs.New(r.venue, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("topic %q already has a handler", sub.Topic)),
			errs.WithCanonicalCode(errs.CanonicalDuplicateTopic),
			errs.WithVenueField("topic", sub.Topic))
	}
	r.handlers[sub.Topic] = route
	r.subs = append(r.subs, sub)

	// While disconnected the next Connected transition replays the full list.
	if r.connected {
		r.sendSubscribeLocked(sub)
	}
	return nil
}

// Subscriptions returns the standing subscription list in registration order.
func (r *Router) Subscriptions() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Subscription(nil), r.subs...)
}

// Attach binds the router to stream. Every Connected transition replays all
// subscriptions before stream reads resume.
func (r *Router) Attach(stream Stream) {
	r.mu.Lock()
	r.stream = stream
	r.mu.Unlock()
	detach := stream.OnConnectivityChange(r.onConnectivity)
	r.mu.Lock()
	r.detach = detach
	r.mu.Unlock()
}

// Detach stops reacting to the stream's connectivity changes.
func (r *Router) Detach() {
	r.mu.Lock()
	detach := r.detach
	r.detach = nil
	r.connected = false
	r.mu.Unlock()
	if detach != nil {
		detach()
	}
}

// OnConnectivityChange forwards to the attached stream.
func (r *Router) OnConnectivityChange(fn func(schema.ConnectivityStatus)) func() {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()
	if stream == nil {
		fn(schema.Disconnected)
		return func() {}
	}
	return stream.OnConnectivityChange(fn)
}

func (r *Router) onConnectivity(status schema.ConnectivityStatus) {
	r.metrics.recordConnectivity(status)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = status == schema.Connected
	if !r.connected {
		return
	}
	for _, sub := range r.subs {
		r.sendSubscribeLocked(sub)
	}
}

func (r *Router) sendSubscribeLocked(sub Subscription) {
	if r.stream == nil {
		return
	}
	payload, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: sub.Arg()})
	if err != nil {
		observability.Log().Error("marshal subscribe", observability.Field{Key: "arg", Value: sub.Arg()}, observability.Err(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), subscribeWriteTimeout)
	defer cancel()
	if err := r.stream.Send(ctx, payload); err != nil {
		// The stream is going down; the next Connected transition resends.
		observability.Log().Error("send subscribe",
			observability.Field{Key: "venue", Value: r.venue},
			observability.Field{Key: "arg", Value: sub.Arg()},
			observability.Err(err))
		return
	}
	observability.Log().Debug("subscribe sent",
		observability.Field{Key: "venue", Value: r.venue},
		observability.Field{Key: "arg", Value: sub.Arg()})
}

// Publish dispatches one inbound frame. It runs on the stream's read goroutine.
func (r *Router) Publish(data []byte, received time.Time) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.metrics.recordDrop("", "malformed")
		observability.Log().Error("malformed stream message",
			observability.Field{Key: "venue", Value: r.venue},
			observability.Field{Key: "payload", Value: truncate(string(data), 256)},
			observability.Err(err))
		return
	}

	switch {
	case frame.errorText() != "":
		r.metrics.recordVenueError("stream", fmt.Sprintf("status_%d", frame.Status))
		observability.Log().Error("venue stream error",
			observability.Field{Key: "venue", Value: r.venue},
			observability.Field{Key: "status", Value: frame.Status},
			observability.Field{Key: "error", Value: frame.errorText()})
	case frame.Subscribe != "" || frame.Success != nil:
		ok := frame.Success != nil && *frame.Success
		fields := []observability.Field{
			{Key: "venue", Value: r.venue},
			{Key: "subscribe", Value: frame.Subscribe},
			{Key: "success", Value: ok},
		}
		if ok {
			observability.Log().Info("subscription acknowledged", fields...)
		} else {
			observability.Log().Error("subscription refused", fields...)
		}
	case frame.Info != "":
		observability.Log().Debug("venue info",
			observability.Field{Key: "venue", Value: r.venue},
			observability.Field{Key: "info", Value: frame.Info},
			observability.Field{Key: "version", Value: frame.Version})
	case frame.Table != "":
		r.route(frame, received)
	default:
		r.metrics.recordDrop("", "unrecognized")
		observability.Log().Debug("unrecognized stream message",
			observability.Field{Key: "venue", Value: r.venue},
			observability.Field{Key: "payload", Value: truncate(string(data), 256)})
	}
}

func (r *Router) route(frame inboundFrame, received time.Time) {
	r.mu.Lock()
	handler := r.handlers[frame.Table]
	r.mu.Unlock()

	if handler == nil {
		r.metrics.recordDrop(frame.Table, "unrouted")
		r.unrouted.Do(func() {
			observability.Log().Info("no handler for topic",
				observability.Field{Key: "venue", Value: r.venue},
				observability.Field{Key: "topic", Value: frame.Table})
		})
		return
	}
	if err := handler(frame, received); err != nil {
		r.metrics.recordDrop(frame.Table, "decode")
		observability.Log().Error("drop stream message",
			observability.Field{Key: "venue", Value: r.venue},
			observability.Field{Key: "topic", Value: frame.Table},
			observability.Err(err))
		return
	}
	r.metrics.recordRouted(frame.Table)
}
