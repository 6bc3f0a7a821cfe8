// Command gateway connects to BitMEX and logs normalised market data and order updates.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
	"github.com/coachpo/meltica-bitmex/internal/infra/adapters/bitmex"
	"github.com/coachpo/meltica-bitmex/internal/infra/config"
	"github.com/coachpo/meltica-bitmex/internal/infra/telemetry"
	"github.com/coachpo/meltica-bitmex/internal/observability"
)

const (
	defaultConfigPath        = "config/app.yaml"
	defaultEnvPath           = ".env"
	shutdownTimeout          = 30 * time.Second
	gatewayShutdownTimeout   = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPathFlag, envPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	if err := config.LoadEnvFile(envPathFlag); err != nil {
		fmt.Fprintf(os.Stderr, "load env file: %v\n", err)
		os.Exit(1)
	}
	appCfg, err := config.Load(ctx, resolveConfigPath(cfgPathFlag))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newGatewayLogger(appCfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Close() }()
	observability.SetLogger(logger)

	logger.Info("configuration initialised",
		observability.Field{Key: "environment", Value: appCfg.Environment},
		observability.Field{Key: "venue", Value: appCfg.Venue.Name},
		observability.Field{Key: "symbol", Value: appCfg.Venue.Symbol},
		observability.Field{Key: "orderEntry", Value: appCfg.Venue.HasCredentials()})

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetryConfig(appCfg))
	if err != nil {
		logger.Error("initialise telemetry", observability.Err(err))
		os.Exit(1)
	}

	opts, err := gatewayOptions(appCfg)
	if err != nil {
		logger.Error("build gateway options", observability.Err(err))
		os.Exit(1)
	}
	opts.Meter = telemetryProvider.Meter("github.com/coachpo/meltica-bitmex/gateway")

	gateway, err := bitmex.New(ctx, opts)
	if err != nil {
		logger.Error("initialise gateway", observability.Err(err))
		os.Exit(1)
	}
	attachLogging(logger, gateway)

	logger.Info("gateway started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	err = performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		gateway:   gateway,
		telemetry: telemetryProvider,
	})
	logger.Info("shutdown completed",
		observability.Field{Key: "elapsed", Value: time.Since(shutdownStart).String()},
		observability.Field{Key: "clean", Value: err == nil})
}

func parseFlags() (string, string) {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	envPath := flag.String("env", defaultEnvPath, "Path to a dotenv file with credentials; ignored when missing")
	flag.Parse()
	return *cfgPath, *envPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newGatewayLogger(cfg config.LoggingConfig) (*observability.LogrusLogger, error) {
	return observability.NewLogrusLogger(observability.LogrusOptions{
		Level:      cfg.Level,
		Format:     string(cfg.Format),
		Component:  "gateway",
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Output:     nil,
	})
}

func telemetryConfig(cfg config.AppConfig) telemetry.Config {
	return telemetry.Config{
		Enabled:         cfg.Telemetry.Enabled,
		OTLPEndpoint:    cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:    cfg.Telemetry.OTLPInsecure,
		MetricInterval:  0,
		ShutdownTimeout: telemetryShutdownTimeout,
		ServiceName:     cfg.Telemetry.ServiceName,
		Environment:     string(cfg.Environment),
	}
}

func gatewayOptions(cfg config.AppConfig) (bitmex.Options, error) {
	makerFee, err := optionalFee(cfg.Venue.MakerFee, cfg.Venue.MakerFeeDecimal)
	if err != nil {
		return bitmex.Options{}, fmt.Errorf("maker fee: %w", err)
	}
	takerFee, err := optionalFee(cfg.Venue.TakerFee, cfg.Venue.TakerFeeDecimal)
	if err != nil {
		return bitmex.Options{}, fmt.Errorf("taker fee: %w", err)
	}
	return bitmex.Options{
		Config: bitmex.Config{
			Name:           cfg.Venue.Name,
			Symbol:         cfg.Venue.Symbol,
			APIKey:         cfg.Venue.APIKey,
			APISecret:      cfg.Venue.APISecret,
			WebsocketURL:   cfg.Venue.WebsocketURL,
			RESTURL:        cfg.Venue.RESTURL,
			ReconnectDelay: cfg.Venue.ReconnectDelay,
			PingInterval:   0,
			HTTPTimeout:    cfg.Venue.HTTPTimeout,
			MakerFee:       makerFee,
			TakerFee:       takerFee,
		},
	}, nil
}

func optionalFee(raw string, parse func() (decimal.Decimal, error)) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	fee, err := parse()
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(fee), nil
}

func attachLogging(logger observability.Logger, gateway *bitmex.Gateway) {
	gateway.MarketData().OnConnectivityChange(func(status schema.ConnectivityStatus) {
		logger.Info("connectivity", observability.Field{Key: "status", Value: status.String()})
	})
	gateway.MarketData().OnMarketData(func(snap schema.MarketSnapshot) {
		fields := []observability.Field{{Key: "symbol", Value: snap.Symbol}}
		if bid, ok := snap.BestBid(); ok {
			fields = append(fields, observability.Field{Key: "bid", Value: bid.Price.String()})
		}
		if ask, ok := snap.BestAsk(); ok {
			fields = append(fields, observability.Field{Key: "ask", Value: ask.Price.String()})
		}
		logger.Debug("book", fields...)
	})
	gateway.MarketData().OnMarketTrade(func(trade schema.MarketTrade) {
		logger.Debug("trade",
			observability.Field{Key: "symbol", Value: trade.Symbol},
			observability.Field{Key: "price", Value: trade.Price.String()},
			observability.Field{Key: "size", Value: trade.Size.String()},
			observability.Field{Key: "side", Value: string(trade.Side)},
			observability.Field{Key: "onStartup", Value: trade.OnStartup})
	})
	gateway.OrderEntry().OnOrderUpdate(func(report schema.OrderStatusReport) {
		logger.Info("order update",
			observability.Field{Key: "orderID", Value: report.OrderID},
			observability.Field{Key: "exchangeID", Value: report.ExchangeID},
			observability.Field{Key: "status", Value: string(report.Status)},
			observability.Field{Key: "reason", Value: report.RejectReason})
	})
}

type gatewayCloser interface {
	Close()
}

type telemetryShutdowner interface {
	Shutdown(ctx context.Context) error
}

type gracefulShutdownConfig struct {
	gateway   gatewayCloser
	telemetry telemetryShutdowner
}

func performGracefulShutdown(ctx context.Context, logger observability.Logger, cfg gracefulShutdownConfig) error {
	var failures []error
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Info("shutdown step started", observability.Field{Key: "step", Value: name})
		if err := fn(stepCtx); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
			return
		}
		logger.Info("shutdown step completed", observability.Field{Key: "step", Value: name})
	}

	if cfg.gateway != nil {
		shutdownStep("closing gateway", gatewayShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.gateway.Close()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for gateway: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}

	return observability.AggregateErrors("shutdown", failures)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
