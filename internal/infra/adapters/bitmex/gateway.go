// Package bitmex implements the BitMEX venue gateway: realtime market data over
// a reconnecting websocket and signed REST order entry.
package bitmex

import (
	"context"
	"sync"

	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
	"github.com/coachpo/meltica-bitmex/internal/infra/adapters/shared"
	"github.com/coachpo/meltica-bitmex/internal/observability"
)

// Gateway composes the BitMEX connectivity pieces.
type Gateway struct {
	opts Options

	transport *shared.StreamTransport
	router    *Router
	rest      *RESTClient

	marketData *MarketData
	orderEntry *OrderEntry
	positions  *Positions
	descriptor *Descriptor

	closeOnce sync.Once
}

// New wires the gateway and starts connecting. Subscriptions are registered
// before the first dial so the initial Connected transition sends them.
func New(ctx context.Context, opts Options) (*Gateway, error) {
	opts = withDefaults(opts)
	if err := opts.validate(); err != nil {
		return nil, err
	}
	venue := opts.Config.Name
	metrics := newGatewayMetrics(opts.Meter, venue)

	router := NewRouter(venue, metrics)
	marketData, err := NewMarketData(router, opts.Config.Symbol)
	if err != nil {
		return nil, err
	}

	var signer *Signer
	if opts.hasCredentials() {
		signer = NewSigner(opts.Config.APIKey, opts.Config.APISecret, opts.Clock)
	} else {
		observability.Log().Info("no api credentials configured; order entry disabled",
			observability.Field{Key: "venue", Value: venue})
	}
	rest := NewRESTClient(ctx, venue, opts.Config.RESTURL, opts.httpClient(), signer, metrics)

	var streamMetrics *shared.StreamMetrics
	if opts.Meter != nil {
		streamMetrics = shared.NewStreamMetrics(opts.Meter)
	}
	transport := shared.NewStreamTransport(ctx, shared.StreamOptions{
		URL:            opts.Config.WebsocketURL,
		Venue:          venue,
		ReconnectDelay: opts.Config.ReconnectDelay,
		PingInterval:   opts.Config.PingInterval,
		OnMessage:      router.Publish,
		OnError: func(error) {
			metrics.recordVenueError("stream", "transport")
		},
		Metrics: streamMetrics,
		Now:     opts.Clock,
	})
	router.Attach(transport)

	return &Gateway{
		opts:       opts,
		transport:  transport,
		router:     router,
		rest:       rest,
		marketData: marketData,
		orderEntry: NewOrderEntry(venue, opts.Config.Symbol, rest, opts.Clock, metrics),
		positions:  &Positions{},
		descriptor: NewDescriptor(opts.Config.Symbol, opts.Config.MakerFee.Decimal, opts.Config.TakerFee.Decimal),
	}, nil
}

// MarketData returns the market data adapter.
func (g *Gateway) MarketData() *MarketData { return g.marketData }

// OrderEntry returns the order entry adapter.
func (g *Gateway) OrderEntry() *OrderEntry { return g.orderEntry }

// Positions returns the position adapter.
func (g *Gateway) Positions() *Positions { return g.positions }

// Descriptor returns the venue descriptor.
func (g *Gateway) Descriptor() *Descriptor { return g.descriptor }

// Status reports the stream's connectivity.
func (g *Gateway) Status() schema.ConnectivityStatus { return g.transport.Status() }

// Reconnect drops the stream and dials again immediately.
func (g *Gateway) Reconnect() { g.transport.Connect() }

// Close stops reconnecting, closes the stream and waits for in-flight order calls.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		g.transport.Close()
		g.router.Detach()
		g.rest.Close()
		observability.Log().Info("gateway closed", observability.Field{Key: "venue", Value: g.opts.Config.Name})
	})
}
