package bitmex

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/meltica-bitmex/errs"
)

func TestParseVenueError(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		code      errs.Code
		canonical errs.CanonicalCode
		reason    string
	}{
		{"validation", http.StatusBadRequest, `{"error":{"message":"Invalid ordType","name":"HTTPError"}}`, errs.CodeInvalid, errs.CanonicalOrderRejected, "Invalid ordType"},
		{"auth", http.StatusUnauthorized, `{"error":{"message":"Signature not valid.","name":"HTTPError"}}`, errs.CodeAuth, errs.CanonicalOrderRejected, "Signature not valid."},
		{"rate limit", http.StatusTooManyRequests, `Rate limit exceeded`, errs.CodeRateLimited, errs.CanonicalOrderRejected, "Rate limit exceeded"},
		{"not found", http.StatusNotFound, `{"error":{"message":"Not Found","name":"HTTPError"}}`, errs.CodeNotFound, errs.CanonicalOrderNotFound, "Not Found"},
		{"overloaded", http.StatusServiceUnavailable, ``, errs.CodeUnavailable, errs.CanonicalOrderRejected, "venue returned status 503"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := parseVenueError("bitmex", http.MethodPost, "/api/v1/order", tc.status, []byte(tc.body))
			var e *errs.E
			require.True(t, errors.As(err, &e))
			require.Equal(t, tc.code, e.Code)
			require.Equal(t, tc.canonical, e.Canonical)
			require.Equal(t, tc.status, e.HTTP)
			require.Equal(t, tc.reason, errs.Reason(err))
			require.Equal(t, "/api/v1/order", e.VenueMetadata["path"])
		})
	}
}

func TestDecodeOrderRecords(t *testing.T) {
	single, err := decodeOrderRecords([]byte(` {"orderID":"a","clOrdID":"x"} `))
	require.NoError(t, err)
	require.Len(t, single, 1)
	require.Equal(t, "a", single[0].OrderID)

	many, err := decodeOrderRecords([]byte(`[{"orderID":"a"},{"orderID":"b","ordRejReason":"nope"}]`))
	require.NoError(t, err)
	require.Len(t, many, 2)
	require.Equal(t, "nope", many[1].OrdRejReason)

	empty, err := decodeOrderRecords(nil)
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = decodeOrderRecords([]byte(`"oops"`))
	require.Error(t, err)
}

func TestRESTClientEmptyResponseIsAnError(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) { return http.StatusOK, `[]` })
	client := NewRESTClient(context.Background(), "bitmex", venue.srv.URL, nil, NewSigner(testAPIKey, testAPISecret, nil), nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.CancelOrder(cancelRequest{ClOrdID: "x"}).Await(ctx)
	require.True(t, errs.HasCode(err, errs.CodeExchange))
}

func TestRESTClientSignsPathWithQuery(t *testing.T) {
	venue := newRESTVenue(t, func(capturedRequest) (int, string) { return http.StatusOK, `{"orderID":"a"}` })
	client := NewRESTClient(context.Background(), "bitmex", venue.srv.URL+"/", nil, NewSigner(testAPIKey, testAPISecret, nil), nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	records, err := client.PlaceOrder(orderRequest{Symbol: "XBTUSD", Side: "Buy", OrderQty: "1", OrdType: "Market", TimeInForce: "ImmediateOrCancel"}).Await(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	req := venue.captured()[0]
	require.Equal(t, "/api/v1/order", req.URI)
	require.Equal(t, req.Signature, req.Header.Get("api-signature"))
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
}
