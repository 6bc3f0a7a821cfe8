package schema

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Exchange identifies a trading venue.
type Exchange string

// ExchangeBitmex is the BitMEX derivatives venue.
const ExchangeBitmex Exchange = "bitmex"

// CurrencyPair names a tradable pair.
type CurrencyPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p CurrencyPair) String() string {
	return strings.ToUpper(p.Base) + "/" + strings.ToUpper(p.Quote)
}

// Position is the net exposure held in one instrument.
type Position struct {
	Symbol     string
	Quantity   decimal.Decimal
	AvgPrice   decimal.Decimal
	Unrealized decimal.Decimal
	IsOpen     bool
}
