// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// EnvAPIKey overrides venue.apiKey when set.
	EnvAPIKey = "BITMEX_API_KEY"
	// EnvAPISecret overrides venue.apiSecret when set.
	EnvAPISecret = "BITMEX_API_SECRET"
	// EnvEnvironment overrides the environment name when set.
	EnvEnvironment = "MELTICA_ENV"

	defaultWebsocketURL   = "wss://ws.bitmex.com/realtime"
	defaultRESTURL        = "https://www.bitmex.com"
	defaultSymbol         = "XBTUSD"
	defaultReconnectDelay = 5 * time.Second
	defaultHTTPTimeout    = 10 * time.Second
	defaultMakerFee       = "-0.00025"
	defaultTakerFee       = "0.00075"
	defaultServiceName    = "meltica-bitmex"
	defaultOTLPEndpoint   = "localhost:4318"
)

// VenueConfig describes the BitMEX connection and account settings.
type VenueConfig struct {
	Name           string        `yaml:"name"`
	WebsocketURL   string        `yaml:"websocketUrl"`
	RESTURL        string        `yaml:"restUrl"`
	Symbol         string        `yaml:"symbol"`
	APIKey         string        `yaml:"apiKey"`
	APISecret      string        `yaml:"apiSecret"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
	HTTPTimeout    time.Duration `yaml:"httpTimeout"`
	MakerFee       string        `yaml:"makerFee"`
	TakerFee       string        `yaml:"takerFee"`
}

// MakerFeeDecimal parses the configured maker fee.
func (c VenueConfig) MakerFeeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.MakerFee)
}

// TakerFeeDecimal parses the configured taker fee.
func (c VenueConfig) TakerFeeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.TakerFee)
}

// HasCredentials reports whether both API key and secret are present.
func (c VenueConfig) HasCredentials() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string    `yaml:"level"`
	Format     LogFormat `yaml:"format"`
	File       string    `yaml:"file"`
	MaxSizeMB  int       `yaml:"maxSizeMB"`
	MaxBackups int       `yaml:"maxBackups"`
	MaxAgeDays int       `yaml:"maxAgeDays"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
}

// AppConfig is the unified gateway configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Venue       VenueConfig     `yaml:"venue"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. A missing file is not an error. Existing variables win.
func LoadEnvFile(path string) error {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		return nil
	}
	if err := godotenv.Load(filepath.Clean(candidate)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads, normalises and validates the application configuration.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes)
}

// Parse decodes a YAML document and applies env overrides, defaults and validation.
func Parse(data []byte) (AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnvOverrides() {
	if v, ok := os.LookupEnv(EnvAPIKey); ok && strings.TrimSpace(v) != "" {
		c.Venue.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvAPISecret); ok && strings.TrimSpace(v) != "" {
		c.Venue.APISecret = v
	}
	if v, ok := os.LookupEnv(EnvEnvironment); ok && strings.TrimSpace(v) != "" {
		c.Environment = Environment(v)
	}
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	v := &c.Venue
	v.Name = normalizeVenueName(v.Name)
	if v.Name == "" {
		v.Name = "bitmex"
	}
	v.WebsocketURL = strings.TrimSpace(v.WebsocketURL)
	if v.WebsocketURL == "" {
		v.WebsocketURL = defaultWebsocketURL
	}
	v.RESTURL = strings.TrimRight(strings.TrimSpace(v.RESTURL), "/")
	if v.RESTURL == "" {
		v.RESTURL = defaultRESTURL
	}
	v.Symbol = normalizeSymbol(v.Symbol)
	if v.Symbol == "" {
		v.Symbol = defaultSymbol
	}
	v.APIKey = strings.TrimSpace(v.APIKey)
	v.APISecret = strings.TrimSpace(v.APISecret)
	if v.ReconnectDelay <= 0 {
		v.ReconnectDelay = defaultReconnectDelay
	}
	if v.HTTPTimeout <= 0 {
		v.HTTPTimeout = defaultHTTPTimeout
	}
	v.MakerFee = strings.TrimSpace(v.MakerFee)
	if v.MakerFee == "" {
		v.MakerFee = defaultMakerFee
	}
	v.TakerFee = strings.TrimSpace(v.TakerFee)
	if v.TakerFee == "" {
		v.TakerFee = defaultTakerFee
	}

	l := &c.Logging
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	if l.Level == "" {
		l.Level = "info"
	}
	l.Format = LogFormat(strings.ToLower(strings.TrimSpace(string(l.Format))))
	if l.Format == "" {
		l.Format = LogFormatJSON
	}
	l.File = strings.TrimSpace(l.File)
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 100
	}
	if l.MaxBackups < 0 {
		l.MaxBackups = 0
	}
	if l.MaxAgeDays < 0 {
		l.MaxAgeDays = 0
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	if c.Telemetry.OTLPEndpoint == "" {
		c.Telemetry.OTLPEndpoint = defaultOTLPEndpoint
	}
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if c.Venue.Name != "bitmex" {
		return fmt.Errorf("venue name %q not supported", c.Venue.Name)
	}
	if err := validateURL(c.Venue.WebsocketURL, "ws", "wss"); err != nil {
		return fmt.Errorf("venue websocketUrl: %w", err)
	}
	if err := validateURL(c.Venue.RESTURL, "http", "https"); err != nil {
		return fmt.Errorf("venue restUrl: %w", err)
	}
	if (c.Venue.APIKey == "") != (c.Venue.APISecret == "") {
		return fmt.Errorf("venue apiKey and apiSecret must be set together")
	}
	if _, err := c.Venue.MakerFeeDecimal(); err != nil {
		return fmt.Errorf("venue makerFee: %w", err)
	}
	if _, err := c.Venue.TakerFeeDecimal(); err != nil {
		return fmt.Errorf("venue takerFee: %w", err)
	}

	switch c.Logging.Format {
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("logging format must be json or text")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging level must be one of debug, info, warn, error")
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry otlpEndpoint required when enabled")
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return fmt.Errorf("host required in %q", raw)
	}
	for _, scheme := range schemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			return nil
		}
	}
	return fmt.Errorf("scheme %q not one of %s", parsed.Scheme, strings.Join(schemes, ", "))
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
