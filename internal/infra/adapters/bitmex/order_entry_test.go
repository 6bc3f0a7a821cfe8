package bitmex

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/meltica-bitmex/errs"
	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
)

const (
	testAPIKey    = "test-key"
	testAPISecret = "test-secret"
)

type capturedRequest struct {
	Method    string
	URI       string
	Body      map[string]any
	RawBody   []byte
	Header    http.Header
	Signature string
}

// restVenue is an httptest stand-in for the order endpoint.
type restVenue struct {
	srv   *httptest.Server
	calls atomic.Int32

	mu       sync.Mutex
	requests []capturedRequest
	respond  func(r capturedRequest) (int, string)
}

func newRESTVenue(t *testing.T, respond func(r capturedRequest) (int, string)) *restVenue {
	t.Helper()
	v := &restVenue{respond: respond}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		req := capturedRequest{Method: r.Method, URI: r.URL.RequestURI(), RawBody: raw, Header: r.Header.Clone()}
		_ = json.Unmarshal(raw, &req.Body)

		mac := hmac.New(sha256.New, []byte(testAPISecret))
		mac.Write([]byte(r.Method + r.URL.RequestURI() + r.Header.Get("api-nonce")))
		mac.Write(raw)
		req.Signature = hex.EncodeToString(mac.Sum(nil))

		v.mu.Lock()
		v.requests = append(v.requests, req)
		v.mu.Unlock()

		status, body := v.respond(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *restVenue) captured() []capturedRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]capturedRequest(nil), v.requests...)
}

type reportSink chan schema.OrderStatusReport

func (s reportSink) next(t *testing.T) schema.OrderStatusReport {
	t.Helper()
	select {
	case r := <-s:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no order report")
		return schema.OrderStatusReport{}
	}
}

func (s reportSink) none(t *testing.T) {
	t.Helper()
	select {
	case r := <-s:
		t.Fatalf("unexpected order report: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestOrderEntry(t *testing.T, baseURL string, signer *Signer) (*OrderEntry, reportSink) {
	t.Helper()
	rest := NewRESTClient(context.Background(), "bitmex", baseURL, &http.Client{Timeout: 2 * time.Second}, signer, nil)
	t.Cleanup(rest.Close)
	oe := NewOrderEntry("bitmex", "XBTUSD", rest, nil, nil)
	sink := make(reportSink, 16)
	oe.OnOrderUpdate(func(r schema.OrderStatusReport) { sink <- r })
	return oe, sink
}

func limitOrder(id string) schema.NewOrder {
	return schema.NewOrder{
		ClientOrderID: id,
		Symbol:        "XBTUSD",
		Side:          schema.Bid,
		Type:          schema.OrderTypeLimit,
		TimeInForce:   schema.TimeInForceGTC,
		Price:         decimal.RequireFromString("65000.5"),
		Quantity:      decimal.NewFromInt(100),
	}
}

func TestSendOrderSignsAndReportsWorking(t *testing.T) {
	venue := newRESTVenue(t, func(r capturedRequest) (int, string) {
		return http.StatusOK, `{"orderID":"ex-1","clOrdID":"cl-1","symbol":"XBTUSD","side":"Buy","orderQty":100,"price":65000.5,"leavesQty":100,"cumQty":0,"ordStatus":"New","workingIndicator":true,"timestamp":"2024-05-01T12:00:00.000Z"}`
	})
	oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

	ack, err := oe.SendOrder(limitOrder("cl-1"))
	require.NoError(t, err)
	require.Equal(t, "cl-1", ack.ClientOrderID)
	require.False(t, ack.SentAt.IsZero())

	report := sink.next(t)
	require.Equal(t, schema.OrderStatusWorking, report.Status)
	require.Equal(t, "cl-1", report.OrderID)
	require.Equal(t, "ex-1", report.ExchangeID)
	require.Equal(t, schema.Bid, report.Side)
	require.Equal(t, "100", report.LeavesQuantity.String())
	require.Nil(t, report.LastPrice)
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), report.Time.UTC())
	sink.none(t)

	reqs := venue.captured()
	require.Len(t, reqs, 1)
	req := reqs[0]
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "/api/v1/order", req.URI)
	require.Equal(t, testAPIKey, req.Header.Get("api-key"))
	require.Equal(t, req.Signature, req.Header.Get("api-signature"))
	require.Equal(t, "Buy", req.Body["side"])
	require.Equal(t, "Limit", req.Body["ordType"])
	require.Equal(t, "GoodTillCancel", req.Body["timeInForce"])
	require.Equal(t, "cl-1", req.Body["clOrdID"])
	require.Equal(t, "XBTUSD", req.Body["symbol"])
	require.EqualValues(t, 65000.5, req.Body["price"])
	require.EqualValues(t, 100, req.Body["orderQty"])
}

func TestSendMarketOrderOmitsPrice(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) {
		return http.StatusOK, `[{"orderID":"ex-2","clOrdID":"cl-2","side":"Sell","ordStatus":"Filled","workingIndicator":false,"lastPx":64990,"lastQty":5}]`
	})
	oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

	order := limitOrder("cl-2")
	order.Side = schema.Ask
	order.Type = schema.OrderTypeMarket
	order.TimeInForce = schema.TimeInForceIOC
	order.Price = decimal.Zero
	_, err := oe.SendOrder(order)
	require.NoError(t, err)

	report := sink.next(t)
	require.Equal(t, schema.OrderStatusCancelled, report.Status)
	require.NotNil(t, report.LastPrice)
	require.Equal(t, "64990", report.LastPrice.String())
	require.Equal(t, "5", report.LastQuantity.String())

	req := venue.captured()[0]
	require.NotContains(t, req.Body, "price")
	require.Equal(t, "Sell", req.Body["side"])
	require.Equal(t, "Market", req.Body["ordType"])
	require.Equal(t, "ImmediateOrCancel", req.Body["timeInForce"])
}

func TestSendOrderUnmappableValuesNeverReachVenue(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) { return http.StatusOK, `{}` })
	oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

	cases := map[string]func(*schema.NewOrder){
		"day tif":   func(o *schema.NewOrder) { o.TimeInForce = schema.TimeInForceDay },
		"empty tif": func(o *schema.NewOrder) { o.TimeInForce = "" },
		"stop type": func(o *schema.NewOrder) { o.Type = schema.OrderTypeStop },
		"bad side":  func(o *schema.NewOrder) { o.Side = "Both" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			order := limitOrder("cl-x")
			mutate(&order)
			_, err := oe.SendOrder(order)
			require.Error(t, err)
			require.True(t, errs.HasCode(err, errs.CodeInvalid))
			require.True(t, errs.HasCanonical(err, errs.CanonicalUnmappableValue))
		})
	}

	zeroQty := limitOrder("cl-q")
	zeroQty.Quantity = decimal.Zero
	_, err := oe.SendOrder(zeroQty)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))

	noPrice := limitOrder("cl-p")
	noPrice.Price = decimal.Zero
	_, err = oe.SendOrder(noPrice)
	require.True(t, errs.HasCode(err, errs.CodeInvalid))

	sink.none(t)
	require.Zero(t, venue.calls.Load())
}

func TestSendOrderVenueRejection(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) {
		return http.StatusBadRequest, `{"error":{"message":"Account has insufficient Available Balance","name":"ValidationError"}}`
	})
	oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

	_, err := oe.SendOrder(limitOrder("cl-3"))
	require.NoError(t, err)

	report := sink.next(t)
	require.Equal(t, schema.OrderStatusRejected, report.Status)
	require.Equal(t, "cl-3", report.OrderID)
	require.Equal(t, "Account has insufficient Available Balance", report.RejectReason)
	require.False(t, report.CancelRejected)
	sink.none(t)
}

func TestCancelOrderFailureMarksCancelRejected(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) {
		return http.StatusNotFound, `{"error":{"message":"Not Found","name":"HTTPError"}}`
	})
	oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

	_, err := oe.CancelOrder(schema.CancelOrder{ClientOrderID: "cl-4"})
	require.NoError(t, err)

	report := sink.next(t)
	require.Equal(t, schema.OrderStatusRejected, report.Status)
	require.True(t, report.CancelRejected)
	require.Equal(t, "Not Found", report.RejectReason)
	require.Equal(t, "XBTUSD", report.Symbol)
	sink.none(t)

	req := venue.captured()[0]
	require.Equal(t, http.MethodDelete, req.Method)
	require.Equal(t, "cl-4", req.Body["clOrdID"])
	require.NotContains(t, req.Body, "orderID")
	require.Equal(t, req.Signature, req.Header.Get("api-signature"))
}

func TestCancelByExchangeIDFailureKeepsExchangeID(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) {
		return http.StatusNotFound, `{"error":{"message":"Not Found","name":"HTTPError"}}`
	})
	oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

	_, err := oe.CancelOrder(schema.CancelOrder{ExchangeOrderID: "ex-9"})
	require.NoError(t, err)

	report := sink.next(t)
	require.Equal(t, schema.OrderStatusRejected, report.Status)
	require.True(t, report.CancelRejected)
	require.Equal(t, "ex-9", report.ExchangeID)
	require.Empty(t, report.OrderID)
	sink.none(t)

	req := venue.captured()[0]
	require.Equal(t, "ex-9", req.Body["orderID"])
	require.NotContains(t, req.Body, "clOrdID")
}

func TestSendOrderAssignsMissingClientOrderID(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) {
		return http.StatusBadRequest, `{"error":{"message":"Invalid price","name":"ValidationError"}}`
	})
	oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

	ack, err := oe.SendOrder(limitOrder("  "))
	require.NoError(t, err)
	require.Len(t, ack.ClientOrderID, 22)

	report := sink.next(t)
	require.Equal(t, schema.OrderStatusRejected, report.Status)
	require.Equal(t, ack.ClientOrderID, report.OrderID)
	sink.none(t)

	require.Equal(t, ack.ClientOrderID, venue.captured()[0].Body["clOrdID"])
}

func TestCancelOrderFansOutOneReportPerRecord(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) {
		return http.StatusOK, `[
			{"orderID":"ex-1","clOrdID":"cl-1","ordStatus":"Canceled"},
			{"orderID":"ex-2","clOrdID":"cl-2","error":"Unable to cancel order due to existing state: Filled"},
			{"orderID":"ex-3","clOrdID":"cl-3","ordStatus":"Canceled"}
		]`
	})
	oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

	_, err := oe.CancelOrder(schema.CancelOrder{ClientOrderID: "cl-1"})
	require.NoError(t, err)

	first, second, third := sink.next(t), sink.next(t), sink.next(t)
	sink.none(t)

	require.Equal(t, "ex-1", first.ExchangeID)
	require.Equal(t, schema.OrderStatusCancelled, first.Status)
	require.False(t, first.CancelRejected)

	require.Equal(t, "ex-2", second.ExchangeID)
	require.Equal(t, "cl-2", second.OrderID)
	require.Equal(t, schema.OrderStatusRejected, second.Status)
	require.True(t, second.CancelRejected)
	require.Equal(t, "Unable to cancel order due to existing state: Filled", second.RejectReason)

	require.Equal(t, "ex-3", third.ExchangeID)
	require.Equal(t, schema.OrderStatusCancelled, third.Status)
	require.False(t, third.CancelRejected)
}

func TestCancelOrderRecordOutcomes(t *testing.T) {
	cases := []struct {
		name           string
		body           string
		status         schema.OrderStatus
		reason         string
		cancelRejected bool
	}{
		{"cancelled", `[{"orderID":"ex","clOrdID":"cl","ordStatus":"Canceled","workingIndicator":false}]`, schema.OrderStatusCancelled, "", false},
		{"rejected", `[{"orderID":"ex","clOrdID":"cl","ordStatus":"Rejected","ordRejReason":"Order had execInst of Close"}]`, schema.OrderStatusRejected, "Order had execInst of Close", true},
		{"record error", `[{"orderID":"ex","clOrdID":"cl","error":"Unable to cancel order due to existing state: Filled"}]`, schema.OrderStatusRejected, "Unable to cancel order due to existing state: Filled", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			venue := newRESTVenue(t, func(capturedRequest) (int, string) { return http.StatusOK, tc.body })
			oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

			_, err := oe.CancelOrder(schema.CancelOrder{ClientOrderID: "cl", ExchangeOrderID: "ex"})
			require.NoError(t, err)

			report := sink.next(t)
			require.Equal(t, tc.status, report.Status)
			require.Equal(t, tc.reason, report.RejectReason)
			require.Equal(t, tc.cancelRejected, report.CancelRejected)
			require.Equal(t, "ex", report.ExchangeID)
			sink.none(t)
		})
	}
}

func TestCancelOrderRequiresIdentifier(t *testing.T) {
	oe, sink := newTestOrderEntry(t, "http://127.0.0.1:0", NewSigner(testAPIKey, testAPISecret, nil))
	_, err := oe.CancelOrder(schema.CancelOrder{Symbol: "XBTUSD"})
	require.True(t, errs.HasCode(err, errs.CodeInvalid))
	sink.none(t)
}

func TestOrderActionNetworkFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	oe, sink := newTestOrderEntry(t, url, NewSigner(testAPIKey, testAPISecret, nil))

	_, err := oe.SendOrder(limitOrder("cl-5"))
	require.NoError(t, err)

	report := sink.next(t)
	require.Equal(t, schema.OrderStatusRejected, report.Status)
	require.Equal(t, "cl-5", report.OrderID)
	require.NotEmpty(t, report.RejectReason)
	require.False(t, report.CancelRejected)
	sink.none(t)
}

func TestOrderActionWithoutCredentials(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) { return http.StatusOK, `{}` })
	oe, sink := newTestOrderEntry(t, venue.srv.URL, nil)

	_, err := oe.CancelOrder(schema.CancelOrder{ClientOrderID: "cl-6"})
	require.NoError(t, err)

	report := sink.next(t)
	require.Equal(t, schema.OrderStatusRejected, report.Status)
	require.True(t, report.CancelRejected)
	require.Equal(t, "api credentials not configured", report.RejectReason)
	require.Zero(t, venue.calls.Load())
}

func TestReplaceOrderCancelsThenSends(t *testing.T) {
	venue := newRESTVenue(t, func(r capturedRequest) (int, string) {
		if r.Method == http.MethodDelete {
			return http.StatusOK, `[{"orderID":"ex-old","clOrdID":"cl-old","ordStatus":"Canceled"}]`
		}
		return http.StatusOK, `{"orderID":"ex-new","clOrdID":"cl-new","ordStatus":"New","workingIndicator":true}`
	})
	oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

	ack, err := oe.ReplaceOrder(schema.ReplaceOrder{OrigClientOrderID: "cl-old", New: limitOrder("cl-new")})
	require.NoError(t, err)
	require.Equal(t, "cl-new", ack.ClientOrderID)

	byID := map[string]schema.OrderStatus{}
	for i := 0; i < 2; i++ {
		r := sink.next(t)
		byID[r.OrderID] = r.Status
	}
	require.Equal(t, map[string]schema.OrderStatus{
		"cl-old": schema.OrderStatusCancelled,
		"cl-new": schema.OrderStatusWorking,
	}, byID)

	methods := map[string]int{}
	for _, r := range venue.captured() {
		methods[r.Method]++
	}
	require.Equal(t, map[string]int{http.MethodDelete: 1, http.MethodPost: 1}, methods)
}

func TestReplaceOrderValidatesBeforeCancelling(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) { return http.StatusOK, `{}` })
	oe, sink := newTestOrderEntry(t, venue.srv.URL, NewSigner(testAPIKey, testAPISecret, nil))

	bad := limitOrder("cl-new")
	bad.TimeInForce = schema.TimeInForceDay
	_, err := oe.ReplaceOrder(schema.ReplaceOrder{OrigClientOrderID: "cl-old", New: bad})
	require.True(t, errs.HasCanonical(err, errs.CanonicalUnmappableValue))
	sink.none(t)
	require.Zero(t, venue.calls.Load())
}

func TestGenerateClientOrderID(t *testing.T) {
	oe := NewOrderEntry("bitmex", "XBTUSD", nil, nil, nil)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := oe.GenerateClientOrderID()
		require.Len(t, id, 22)
		require.NotContains(t, id, "+")
		require.NotContains(t, id, "/")
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 1000)
	require.True(t, oe.CancelsByClientOrderID())
}
