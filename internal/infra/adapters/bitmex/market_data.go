package bitmex

import (
	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
	"github.com/coachpo/meltica-bitmex/internal/infra/adapters/shared"
	"github.com/coachpo/meltica-bitmex/internal/observability"
)

// MarketData normalises the book and trade topics of one instrument.
type MarketData struct {
	symbol string
	router *Router

	snapshots shared.Feed[schema.MarketSnapshot]
	trades    shared.Feed[schema.MarketTrade]
}

// NewMarketData subscribes to orderBook10 and trade for symbol.
func NewMarketData(router *Router, symbol string) (*MarketData, error) {
	md := &MarketData{symbol: symbol, router: router}
	if err := Subscribe(router, topicOrderBook10, symbol, md.handleBook); err != nil {
		return nil, err
	}
	if err := Subscribe(router, topicTrade, symbol, md.handleTrade); err != nil {
		return nil, err
	}
	return md, nil
}

// Symbol returns the instrument this adapter follows.
func (m *MarketData) Symbol() string { return m.symbol }

// OnMarketData registers a listener for top-of-book snapshots.
func (m *MarketData) OnMarketData(fn func(schema.MarketSnapshot)) func() {
	return m.snapshots.Subscribe(fn)
}

// OnMarketTrade registers a listener for trade prints.
func (m *MarketData) OnMarketTrade(fn func(schema.MarketTrade)) func() {
	return m.trades.Subscribe(fn)
}

// OnConnectivityChange forwards the stream's connectivity events.
func (m *MarketData) OnConnectivityChange(fn func(schema.ConnectivityStatus)) func() {
	return m.router.OnConnectivityChange(fn)
}

func (m *MarketData) handleBook(env Envelope[bookRecord]) {
	for _, rec := range env.Records {
		symbol := rec.Symbol
		if symbol == "" {
			symbol = m.symbol
		}
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = env.Received
		}
		m.snapshots.Publish(schema.MarketSnapshot{
			Symbol: symbol,
			Bids:   convertLevels(rec.Bids),
			Asks:   convertLevels(rec.Asks),
			Time:   ts,
		})
	}
}

func (m *MarketData) handleTrade(env Envelope[tradeRecord]) {
	onStartup := env.Action == actionPartial
	for _, rec := range env.Records {
		side, ok := makerSideFromTaker(rec.Side)
		if !ok {
			observability.Log().Error("skip trade with unknown side",
				observability.Field{Key: "symbol", Value: rec.Symbol},
				observability.Field{Key: "side", Value: rec.Side},
				observability.Field{Key: "trdMatchID", Value: rec.TrdMatchID})
			continue
		}
		symbol := rec.Symbol
		if symbol == "" {
			symbol = m.symbol
		}
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = env.Received
		}
		m.trades.Publish(schema.MarketTrade{
			Symbol:    symbol,
			Price:     rec.Price,
			Size:      rec.Size,
			Time:      ts,
			Side:      side,
			OnStartup: onStartup,
		})
	}
}

// convertLevels keeps the venue's best-first order and at most MaxBookDepth levels.
func convertLevels(levels []wireLevel) []schema.PriceLevel {
	n := len(levels)
	if n > schema.MaxBookDepth {
		n = schema.MaxBookDepth
	}
	out := make([]schema.PriceLevel, 0, n)
	for _, lvl := range levels[:n] {
		out = append(out, schema.PriceLevel{Price: lvl[0], Size: lvl[1]})
	}
	return out
}

// makerSideFromTaker maps the venue's taker side to the resting order's side.
func makerSideFromTaker(side string) (schema.Side, bool) {
	switch side {
	case venueSideBuy:
		return schema.Ask, true
	case venueSideSell:
		return schema.Bid, true
	default:
		return "", false
	}
}
