package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the canonical book side of an order or of a trade's resting order.
type Side string

const (
	// Bid is the buy side of the book.
	Bid Side = "Bid"
	// Ask is the sell side of the book.
	Ask Side = "Ask"
)

// Opposite returns the other book side.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == Bid || s == Ask
}

// MaxBookDepth bounds the number of price levels kept per side of a snapshot.
const MaxBookDepth = 5

// PriceLevel is one aggregated book level.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// MarketSnapshot is a full top-of-book replacement, best level first.
type MarketSnapshot struct {
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
	Time   time.Time    `json:"time"`
}

// BestBid returns the top bid level when one exists.
func (s MarketSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level when one exists.
func (s MarketSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// MarketTrade is a public execution print.
//
// Side is the side of the resting (maker) order. A trade whose taker bought
// lifted an offer and therefore carries Ask.
type MarketTrade struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Time      time.Time       `json:"time"`
	Side      Side            `json:"side"`
	OnStartup bool            `json:"onStartup"`
}

// AggressorBuy reports whether the taker of the trade was a buyer.
func (t MarketTrade) AggressorBuy() bool {
	return t.Side == Ask
}
