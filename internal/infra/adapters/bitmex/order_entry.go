package bitmex

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/meltica-bitmex/errs"
	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
	"github.com/coachpo/meltica-bitmex/internal/infra/adapters/shared"
	"github.com/coachpo/meltica-bitmex/internal/observability"
)

// OrderEntry translates canonical order actions to signed REST calls and the
// venue's answers back to order status reports.
type OrderEntry struct {
	venue   string
	symbol  string
	rest    *RESTClient
	clock   func() time.Time
	metrics *gatewayMetrics

	updates shared.Feed[schema.OrderStatusReport]
}

// NewOrderEntry creates an adapter that defaults orders without a symbol to symbol.
func NewOrderEntry(venue, symbol string, rest *RESTClient, clock func() time.Time, metrics *gatewayMetrics) *OrderEntry {
	if clock == nil {
		clock = time.Now
	}
	return &OrderEntry{venue: venue, symbol: symbol, rest: rest, clock: clock, metrics: metrics}
}

// OnOrderUpdate registers a listener for order status reports.
func (o *OrderEntry) OnOrderUpdate(fn func(schema.OrderStatusReport)) func() {
	return o.updates.Subscribe(fn)
}

// CancelsByClientOrderID reports that cancels can address orders by client id alone.
func (o *OrderEntry) CancelsByClientOrderID() bool { return true }

// GenerateClientOrderID returns a random 22 character URL-safe identifier.
func (o *OrderEntry) GenerateClientOrderID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// SendOrder dispatches a new order. The returned report means the request was
// sent; the venue's answer arrives later through OnOrderUpdate. An order without
// a client id is assigned one, returned in the report.
func (o *OrderEntry) SendOrder(order schema.NewOrder) (schema.OrderActionReport, error) {
	order.ClientOrderID = strings.TrimSpace(order.ClientOrderID)
	if order.ClientOrderID == "" {
		order.ClientOrderID = o.GenerateClientOrderID()
	}
	req, err := o.newOrderRequest(order)
	if err != nil {
		return schema.OrderActionReport{}, err
	}
	sentAt := o.clock()
	o.rest.PlaceOrder(req).Then(
		o.onRecords(order.ClientOrderID, false),
		o.onFailure(order.ClientOrderID, "", req.Symbol, false),
	)
	return schema.OrderActionReport{ClientOrderID: order.ClientOrderID, SentAt: sentAt}, nil
}

// CancelOrder dispatches a cancel by client id, venue id or both.
func (o *OrderEntry) CancelOrder(cancel schema.CancelOrder) (schema.OrderActionReport, error) {
	req := cancelRequest{
		OrderID: strings.TrimSpace(cancel.ExchangeOrderID),
		ClOrdID: strings.TrimSpace(cancel.ClientOrderID),
	}
	if req.OrderID == "" && req.ClOrdID == "" {
		return schema.OrderActionReport{}, errs.New(o.venue, errs.CodeInvalid,
			errs.WithMessage("cancel requires a client or exchange order id"))
	}
	sentAt := o.clock()
	o.rest.CancelOrder(req).Then(
		o.onRecords(req.ClOrdID, true),
		o.onFailure(req.ClOrdID, req.OrderID, o.symbolOr(cancel.Symbol), true),
	)
	return schema.OrderActionReport{ClientOrderID: req.ClOrdID, SentAt: sentAt}, nil
}

// ReplaceOrder cancels the original order and then sends the new one. The two
// calls are independent at the venue: the cancel may fail while the new order succeeds.
func (o *OrderEntry) ReplaceOrder(replace schema.ReplaceOrder) (schema.OrderActionReport, error) {
	if _, err := o.newOrderRequest(replace.New); err != nil {
		return schema.OrderActionReport{}, err
	}
	if _, err := o.CancelOrder(schema.CancelOrder{
		ClientOrderID: replace.OrigClientOrderID,
		Symbol:        replace.New.Symbol,
	}); err != nil {
		return schema.OrderActionReport{}, err
	}
	return o.SendOrder(replace.New)
}

func (o *OrderEntry) newOrderRequest(order schema.NewOrder) (orderRequest, error) {
	side, err := venueSide(order.Side)
	if err != nil {
		return orderRequest{}, o.unmappable(err)
	}
	ordType, err := venueOrderType(order.Type)
	if err != nil {
		return orderRequest{}, o.unmappable(err)
	}
	tif, err := venueTimeInForce(order.TimeInForce)
	if err != nil {
		return orderRequest{}, o.unmappable(err)
	}
	if !order.Quantity.IsPositive() {
		return orderRequest{}, errs.New(o.venue, errs.CodeInvalid, errs.WithMessage("order quantity must be positive"))
	}

	req := orderRequest{
		Symbol:      o.symbolOr(order.Symbol),
		Side:        side,
		OrderQty:    decimalNumber(order.Quantity),
		Price:       nil,
		OrdType:     ordType,
		TimeInForce: tif,
		ClOrdID:     strings.TrimSpace(order.ClientOrderID),
	}
	if order.Type == schema.OrderTypeLimit {
		if !order.Price.IsPositive() {
			return orderRequest{}, errs.New(o.venue, errs.CodeInvalid, errs.WithMessage("limit order requires a positive price"))
		}
		price := decimalNumber(order.Price)
		req.Price = &price
	}
	return req, nil
}

func (o *OrderEntry) unmappable(err error) error {
	return errs.New(o.venue, errs.CodeInvalid,
		errs.WithMessage(err.Error()),
		errs.WithCanonicalCode(errs.CanonicalUnmappableValue))
}

func (o *OrderEntry) symbolOr(symbol string) string {
	if s := strings.ToUpper(strings.TrimSpace(symbol)); s != "" {
		return s
	}
	return o.symbol
}

func (o *OrderEntry) onRecords(clientOrderID string, cancel bool) func([]orderRecord) {
	return func(records []orderRecord) {
		for _, rec := range records {
			o.emit(o.reportFromRecord(rec, clientOrderID, cancel))
		}
	}
}

func (o *OrderEntry) onFailure(clientOrderID, exchangeOrderID, symbol string, cancel bool) func(error) {
	return func(err error) {
		reason := strings.TrimSpace(errs.Reason(err))
		if reason == "" {
			reason = "order action failed"
		}
		observability.Log().Error("order action failed",
			observability.Field{Key: "venue", Value: o.venue},
			observability.Field{Key: "clOrdID", Value: clientOrderID},
			observability.Field{Key: "orderID", Value: exchangeOrderID},
			observability.Field{Key: "cancel", Value: cancel},
			observability.Err(err))
		o.emit(schema.OrderStatusReport{
			OrderID:        clientOrderID,
			ExchangeID:     exchangeOrderID,
			Symbol:         symbol,
			Status:         schema.OrderStatusRejected,
			RejectReason:   reason,
			CancelRejected: cancel,
			Time:           o.clock(),
		})
	}
}

func (o *OrderEntry) reportFromRecord(rec orderRecord, clientOrderID string, cancel bool) schema.OrderStatusReport {
	orderID := rec.ClOrdID
	if orderID == "" {
		orderID = clientOrderID
	}
	side, _ := canonicalSide(rec.Side)
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = rec.TransactTime
	}
	if ts.IsZero() {
		ts = o.clock()
	}

	report := schema.OrderStatusReport{
		OrderID:        orderID,
		ExchangeID:     rec.OrderID,
		Symbol:         o.symbolOr(rec.Symbol),
		Side:           side,
		Price:          rec.Price,
		Quantity:       rec.OrderQty,
		CumQuantity:    rec.CumQty,
		LeavesQuantity: rec.LeavesQty,
		LastPrice:      rec.LastPx,
		LastQuantity:   rec.LastQty,
		Time:           ts,
	}

	switch {
	case rec.Error != "":
		// per-record failure inside a 2xx batch answer
		report.Status = schema.OrderStatusRejected
		report.RejectReason = rec.Error
		report.CancelRejected = cancel
	case rec.WorkingIndicator:
		report.Status = schema.OrderStatusWorking
	case rec.OrdRejReason != "":
		report.Status = schema.OrderStatusRejected
		report.RejectReason = rec.OrdRejReason
		report.CancelRejected = cancel
	default:
		report.Status = schema.OrderStatusCancelled
	}
	return report
}

func (o *OrderEntry) emit(report schema.OrderStatusReport) {
	o.metrics.recordOrderReport(report)
	o.updates.Publish(report)
}

func venueSide(side schema.Side) (string, error) {
	switch side {
	case schema.Bid:
		return venueSideBuy, nil
	case schema.Ask:
		return venueSideSell, nil
	default:
		return "", fmt.Errorf("bitmex: unsupported side %q", side)
	}
}

func canonicalSide(input string) (schema.Side, error) {
	switch input {
	case venueSideBuy:
		return schema.Bid, nil
	case venueSideSell:
		return schema.Ask, nil
	default:
		return "", fmt.Errorf("bitmex: unsupported side %q", input)
	}
}

func venueOrderType(orderType schema.OrderType) (string, error) {
	switch orderType {
	case schema.OrderTypeLimit:
		return "Limit", nil
	case schema.OrderTypeMarket:
		return "Market", nil
	default:
		return "", fmt.Errorf("bitmex: unsupported order type %q", orderType)
	}
}

func venueTimeInForce(tif schema.TimeInForce) (string, error) {
	switch tif {
	case schema.TimeInForceFOK:
		return "FillOrKill", nil
	case schema.TimeInForceGTC:
		return "GoodTillCancel", nil
	case schema.TimeInForceIOC:
		return "ImmediateOrCancel", nil
	default:
		return "", fmt.Errorf("bitmex: unsupported time in force %q", tif)
	}
}
