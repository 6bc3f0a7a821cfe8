package bitmex

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/meltica-bitmex/errs"
)

type metadata struct {
	identifier       string
	displayName      string
	apiBaseURL       string
	websocketBaseURL string
	orderPath        string
}

var bitmexMetadata = metadata{
	identifier:       "bitmex",
	displayName:      "Bitmex",
	apiBaseURL:       "https://www.bitmex.com",
	websocketBaseURL: "wss://ws.bitmex.com/realtime",
	orderPath:        "/api/v1/order",
}

const (
	defaultSymbol         = "XBTUSD"
	defaultReconnectDelay = 5 * time.Second
	defaultHTTPTimeout    = 10 * time.Second
)

var (
	defaultMakerFee = decimal.RequireFromString("-0.00025")
	defaultTakerFee = decimal.RequireFromString("0.00075")
)

// Config captures user-overridable BitMEX settings.
type Config struct {
	Name           string
	Symbol         string
	APIKey         string
	APISecret      string
	WebsocketURL   string
	RESTURL        string
	ReconnectDelay time.Duration
	// PingInterval is the websocket keepalive period. Negative disables pings.
	PingInterval time.Duration
	HTTPTimeout  time.Duration
	MakerFee     decimal.NullDecimal
	TakerFee     decimal.NullDecimal
}

// Options configure the BitMEX gateway.
type Options struct {
	Config     Config
	HTTPClient *http.Client
	Meter      metric.Meter
	Clock      func() time.Time

	metadata metadata
}

func withDefaults(in Options) Options {
	in.metadata = bitmexMetadata
	if strings.TrimSpace(in.Config.Name) == "" {
		in.Config.Name = in.metadata.identifier
	}
	in.Config.Symbol = strings.ToUpper(strings.TrimSpace(in.Config.Symbol))
	if in.Config.Symbol == "" {
		in.Config.Symbol = defaultSymbol
	}
	in.Config.APIKey = strings.TrimSpace(in.Config.APIKey)
	in.Config.APISecret = strings.TrimSpace(in.Config.APISecret)
	if strings.TrimSpace(in.Config.WebsocketURL) == "" {
		in.Config.WebsocketURL = in.metadata.websocketBaseURL
	}
	in.Config.RESTURL = strings.TrimSuffix(strings.TrimSpace(in.Config.RESTURL), "/")
	if in.Config.RESTURL == "" {
		in.Config.RESTURL = in.metadata.apiBaseURL
	}
	if in.Config.ReconnectDelay <= 0 {
		in.Config.ReconnectDelay = defaultReconnectDelay
	}
	if in.Config.HTTPTimeout <= 0 {
		in.Config.HTTPTimeout = defaultHTTPTimeout
	}
	if !in.Config.MakerFee.Valid {
		in.Config.MakerFee = decimal.NewNullDecimal(defaultMakerFee)
	}
	if !in.Config.TakerFee.Valid {
		in.Config.TakerFee = decimal.NewNullDecimal(defaultTakerFee)
	}
	if in.Clock == nil {
		in.Clock = time.Now
	}
	return in
}

func (o Options) validate() error {
	if (o.Config.APIKey == "") != (o.Config.APISecret == "") {
		return errs.New(o.metadata.identifier, errs.CodeInvalid,
			errs.WithMessage("api key and secret must be configured together"))
	}
	return nil
}

func (o Options) hasCredentials() bool {
	return o.Config.APIKey != "" && o.Config.APISecret != ""
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{
		Transport:     nil,
		CheckRedirect: nil,
		Jar:           nil,
		Timeout:       o.Config.HTTPTimeout,
	}
}
