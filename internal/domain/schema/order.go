package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType enumerates canonical order types.
type OrderType string

const (
	// OrderTypeLimit represents limit orders.
	OrderTypeLimit OrderType = "Limit"
	// OrderTypeMarket represents market orders.
	OrderTypeMarket OrderType = "Market"
	// OrderTypeStop represents stop orders. Not every venue mapping accepts it.
	OrderTypeStop OrderType = "Stop"
)

// TimeInForce enumerates canonical time-in-force instructions.
type TimeInForce string

const (
	// TimeInForceGTC keeps the order working until cancelled.
	TimeInForceGTC TimeInForce = "GTC"
	// TimeInForceIOC fills what it can immediately and cancels the rest.
	TimeInForceIOC TimeInForce = "IOC"
	// TimeInForceFOK fills completely or not at all.
	TimeInForceFOK TimeInForce = "FOK"
	// TimeInForceDay expires at the end of the trading day.
	TimeInForceDay TimeInForce = "DAY"
)

// NewOrder requests a new order at the venue.
type NewOrder struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Price         decimal.Decimal
	Quantity      decimal.Decimal
}

// CancelOrder requests cancellation of a previously sent order, identified by
// the client id, the venue id, or both.
type CancelOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
}

// ReplaceOrder is a cancel of OrigClientOrderID followed by the New order.
// It is not atomic at the venue.
type ReplaceOrder struct {
	OrigClientOrderID string
	New               NewOrder
}

// OrderActionReport confirms that a request was dispatched, not that it is live.
type OrderActionReport struct {
	ClientOrderID string
	SentAt        time.Time
}

// OrderStatus enumerates canonical order lifecycle states.
type OrderStatus string

const (
	// OrderStatusWorking means the order rests on the book.
	OrderStatusWorking OrderStatus = "Working"
	// OrderStatusPartiallyFilled means some quantity executed and the rest is working.
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	// OrderStatusFilled means the full quantity executed.
	OrderStatusFilled OrderStatus = "Filled"
	// OrderStatusCancelled means the order is no longer working.
	OrderStatusCancelled OrderStatus = "Cancelled"
	// OrderStatusRejected means the venue or the gateway refused the action.
	OrderStatusRejected OrderStatus = "Rejected"
)

// Terminal reports whether no further updates are expected for the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderStatusReport carries the latest known state of one order.
type OrderStatusReport struct {
	OrderID        string
	ExchangeID     string
	Symbol         string
	Status         OrderStatus
	Side           Side
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	CumQuantity    decimal.Decimal
	LeavesQuantity decimal.Decimal
	LastPrice      *decimal.Decimal
	LastQuantity   *decimal.Decimal
	RejectReason   string
	CancelRejected bool
	Time           time.Time
}
