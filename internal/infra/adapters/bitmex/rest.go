package bitmex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/meltica-bitmex/errs"
	"github.com/coachpo/meltica-bitmex/internal/infra/adapters/shared"
)

const (
	maxResponseBytes = 1 << 20
	maxErrorBytes    = 4 << 10
)

// RESTClient issues signed order actions. Every call resolves its future exactly once
// and is never retried.
type RESTClient struct {
	venue   string
	baseURL string
	client  *http.Client
	signer  *Signer
	metrics *gatewayMetrics

	// in-flight calls are not cancelled by the caller going away
	ctx context.Context
	wg  conc.WaitGroup
}

// NewRESTClient builds a client for baseURL. A nil signer makes every call fail with an auth error.
func NewRESTClient(ctx context.Context, venue, baseURL string, client *http.Client, signer *Signer, metrics *gatewayMetrics) *RESTClient {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &RESTClient{
		venue:   venue,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		signer:  signer,
		metrics: metrics,
		ctx:     context.WithoutCancel(ctx),
	}
}

// PlaceOrder submits a new order.
func (c *RESTClient) PlaceOrder(req orderRequest) *shared.Future[[]orderRecord] {
	return c.call(http.MethodPost, bitmexMetadata.orderPath, req, "place_order")
}

// CancelOrder cancels an order by client id or venue id.
func (c *RESTClient) CancelOrder(req cancelRequest) *shared.Future[[]orderRecord] {
	return c.call(http.MethodDelete, bitmexMetadata.orderPath, req, "cancel_order")
}

// Close waits for in-flight calls to settle.
func (c *RESTClient) Close() {
	c.wg.Wait()
}

func (c *RESTClient) call(verb, path string, payload any, operation string) *shared.Future[[]orderRecord] {
	if c.signer == nil {
		return shared.Failed[[]orderRecord](errs.New(c.venue, errs.CodeAuth,
			errs.WithMessage("api credentials not configured")))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return shared.Failed[[]orderRecord](errs.New(c.venue, errs.CodeInvalid,
			errs.WithMessage("encode "+operation+" request"),
			errs.WithCause(err)))
	}
	return shared.Go(&c.wg, func() ([]orderRecord, error) {
		start := time.Now()
		records, err := c.do(verb, path, body)
		c.metrics.recordREST(operation, time.Since(start), err)
		if err != nil {
			c.metrics.recordVenueError(operation, string(errorCode(err)))
		}
		return records, err
	})
}

func (c *RESTClient) do(verb, path string, body []byte) ([]orderRecord, error) {
	httpReq, err := http.NewRequestWithContext(c.ctx, verb, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(c.venue, errs.CodeInvalid, errs.WithMessage("build request"), errs.WithCause(err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for key, values := range c.signer.Headers(verb, httpReq.URL.RequestURI(), body) {
		for _, v := range values {
			httpReq.Header.Set(key, v)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errs.New(c.venue, errs.CodeNetwork,
			errs.WithMessage(fmt.Sprintf("%s %s failed", verb, path)),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, parseVenueError(c.venue, verb, path, resp.StatusCode, errBody)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errs.New(c.venue, errs.CodeNetwork, errs.WithMessage("read response"), errs.WithCause(err))
	}
	records, err := decodeOrderRecords(respBody)
	if err != nil {
		return nil, errs.New(c.venue, errs.CodeExchange, errs.WithMessage("unreadable venue response"), errs.WithCause(err))
	}
	// An empty answer fails the call so the caller always gets one report.
	if len(records) == 0 {
		return nil, errs.New(c.venue, errs.CodeExchange, errs.WithMessage("venue returned no order records"))
	}
	return records, nil
}

func parseVenueError(venue, verb, path string, status int, body []byte) error {
	opts := []errs.Option{
		errs.WithHTTP(status),
		errs.WithVenueField("verb", verb),
		errs.WithVenueField("path", path),
	}
	var apiErr venueError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		opts = append(opts,
			errs.WithRawCode(apiErr.Error.Name),
			errs.WithRawMessage(apiErr.Error.Message))
	} else if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		opts = append(opts, errs.WithRawMessage(truncate(trimmed, 256)))
	} else {
		opts = append(opts, errs.WithMessage(fmt.Sprintf("venue returned status %d", status)))
	}
	if status == http.StatusNotFound {
		opts = append(opts, errs.WithCanonicalCode(errs.CanonicalOrderNotFound))
	} else {
		opts = append(opts, errs.WithCanonicalCode(errs.CanonicalOrderRejected))
	}
	return errs.New(venue, errs.CodeForHTTP(status), opts...)
}

func errorCode(err error) errs.Code {
	var e *errs.E
	if errors.As(err, &e) {
		return e.Code
	}
	return errs.CodeExchange
}
