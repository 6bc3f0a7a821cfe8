package bitmex

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
)

// Descriptor exposes static venue facts.
type Descriptor struct {
	name     string
	exchange schema.Exchange
	makeFee  decimal.Decimal
	takeFee  decimal.Decimal
	pairs    []schema.CurrencyPair
}

// NewDescriptor describes BitMEX trading symbol with the given fee schedule.
func NewDescriptor(symbol string, makeFee, takeFee decimal.Decimal) *Descriptor {
	return &Descriptor{
		name:     bitmexMetadata.displayName,
		exchange: schema.ExchangeBitmex,
		makeFee:  makeFee,
		takeFee:  takeFee,
		pairs:    []schema.CurrencyPair{pairForSymbol(symbol)},
	}
}

// Name is the human-readable venue name.
func (d *Descriptor) Name() string { return d.name }

// Exchange identifies the venue.
func (d *Descriptor) Exchange() schema.Exchange { return d.exchange }

// MakeFee is the maker fee rate; negative values are rebates.
func (d *Descriptor) MakeFee() decimal.Decimal { return d.makeFee }

// TakeFee is the taker fee rate.
func (d *Descriptor) TakeFee() decimal.Decimal { return d.takeFee }

// SupportedCurrencyPairs lists the pairs this gateway trades.
func (d *Descriptor) SupportedCurrencyPairs() []schema.CurrencyPair {
	return append([]schema.CurrencyPair(nil), d.pairs...)
}

// HasSelfTradePrevention reports whether the venue blocks self-crossing orders.
func (d *Descriptor) HasSelfTradePrevention() bool { return false }

var quoteSuffixes = []string{"USDT", "USD", "EUR", "XBT"}

// pairForSymbol splits a perpetual symbol such as XBTUSD into XBT/USD.
func pairForSymbol(symbol string) schema.CurrencyPair {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, quote := range quoteSuffixes {
		if base, ok := strings.CutSuffix(symbol, quote); ok && base != "" {
			return schema.CurrencyPair{Base: base, Quote: quote}
		}
	}
	return schema.CurrencyPair{Base: symbol, Quote: ""}
}
