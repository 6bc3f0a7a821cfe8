package bitmex

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
	"github.com/coachpo/meltica-bitmex/internal/infra/telemetry"
)

type gatewayMetrics struct {
	environment string
	venue       string

	routed       metric.Int64Counter
	dropped      metric.Int64Counter
	transitions  metric.Int64Counter
	orderReports metric.Int64Counter
	venueErrors  metric.Int64Counter
	restLatency  metric.Float64Histogram
}

func newGatewayMetrics(meter metric.Meter, venue string) *gatewayMetrics {
	if meter == nil {
		return nil
	}
	venue = strings.TrimSpace(venue)
	if venue == "" {
		venue = bitmexMetadata.identifier
	}

	gm := &gatewayMetrics{
		environment:  telemetry.Environment(),
		venue:        venue,
		routed:       nil,
		dropped:      nil,
		transitions:  nil,
		orderReports: nil,
		venueErrors:  nil,
		restLatency:  nil,
	}

	gm.routed, _ = meter.Int64Counter("meltica_gateway_bitmex_envelopes_routed",
		metric.WithDescription("Stream envelopes delivered to a topic handler"),
		metric.WithUnit("{envelope}"))

	gm.dropped, _ = meter.Int64Counter("meltica_gateway_bitmex_envelopes_dropped",
		metric.WithDescription("Stream messages dropped by the router"),
		metric.WithUnit("{message}"))

	gm.transitions, _ = meter.Int64Counter("meltica_gateway_bitmex_connectivity_transitions",
		metric.WithDescription("Connectivity status transitions observed"),
		metric.WithUnit("{transition}"))

	gm.orderReports, _ = meter.Int64Counter("meltica_gateway_bitmex_order_reports",
		metric.WithDescription("Order status reports emitted"),
		metric.WithUnit("{report}"))

	gm.venueErrors, _ = meter.Int64Counter("meltica_gateway_bitmex_venue_errors",
		metric.WithDescription("Errors reported by the venue or the transport"),
		metric.WithUnit("{error}"))

	gm.restLatency, _ = meter.Float64Histogram("meltica_gateway_bitmex_rest_latency",
		metric.WithDescription("Round trip of signed REST calls"),
		metric.WithUnit("ms"))

	return gm
}

func (gm *gatewayMetrics) recordRouted(topic string) {
	if gm == nil || gm.routed == nil {
		return
	}
	attrs := telemetry.TopicAttributes(gm.environment, gm.venue, topic)
	gm.routed.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (gm *gatewayMetrics) recordDrop(topic, reason string) {
	if gm == nil || gm.dropped == nil {
		return
	}
	attrs := telemetry.DropAttributes(gm.environment, gm.venue, topic, reason)
	gm.dropped.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (gm *gatewayMetrics) recordConnectivity(status schema.ConnectivityStatus) {
	if gm == nil || gm.transitions == nil {
		return
	}
	attrs := telemetry.ConnectionAttributes(gm.environment, gm.venue, strings.ToLower(status.String()))
	gm.transitions.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (gm *gatewayMetrics) recordOrderReport(report schema.OrderStatusReport) {
	if gm == nil || gm.orderReports == nil {
		return
	}
	attrs := telemetry.OrderAttributes(gm.environment, gm.venue, report.Symbol, string(report.Status))
	gm.orderReports.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (gm *gatewayMetrics) recordVenueError(operation, errorType string) {
	if gm == nil || gm.venueErrors == nil {
		return
	}
	attrs := telemetry.ErrorAttributes(gm.environment, gm.venue, operation, errorType)
	gm.venueErrors.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (gm *gatewayMetrics) recordREST(operation string, latency time.Duration, err error) {
	if gm == nil || gm.restLatency == nil {
		return
	}
	result := telemetry.ResultSuccess
	if err != nil {
		result = telemetry.ResultError
	}
	attrs := telemetry.OperationResultAttributes(gm.environment, gm.venue, operation, result)
	gm.restLatency.Record(context.Background(), float64(latency.Microseconds())/1000, metric.WithAttributes(attrs...))
}
