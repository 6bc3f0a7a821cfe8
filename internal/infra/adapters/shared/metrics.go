package shared

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/meltica-bitmex/internal/infra/telemetry"
)

// StreamMetrics records transport lifecycle signals. A nil *StreamMetrics is a no-op.
type StreamMetrics struct {
	environment string

	dials       metric.Int64Counter
	pings       metric.Int64Counter
	pingLatency metric.Float64Histogram
}

// NewStreamMetrics creates the transport instruments on meter.
func NewStreamMetrics(meter metric.Meter) *StreamMetrics {
	if meter == nil {
		return nil
	}
	sm := &StreamMetrics{environment: telemetry.Environment()}

	sm.dials, _ = meter.Int64Counter("meltica_stream_dials",
		metric.WithDescription("Websocket dial attempts by outcome"),
		metric.WithUnit("{dial}"))

	sm.pings, _ = meter.Int64Counter("meltica_stream_pings",
		metric.WithDescription("Websocket keepalive pings by outcome"),
		metric.WithUnit("{ping}"))

	sm.pingLatency, _ = meter.Float64Histogram("meltica_stream_ping_latency",
		metric.WithDescription("Websocket ping round trip"),
		metric.WithUnit("ms"))

	return sm
}

func (sm *StreamMetrics) recordDial(ctx context.Context, venue string, ok bool) {
	if sm == nil || sm.dials == nil {
		return
	}
	attrs := telemetry.OperationResultAttributes(sm.environment, venue, "dial", result(ok))
	sm.dials.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (sm *StreamMetrics) recordPing(ctx context.Context, venue string, latency time.Duration, ok bool) {
	if sm == nil {
		return
	}
	attrs := telemetry.OperationResultAttributes(sm.environment, venue, "ping", result(ok))
	if sm.pings != nil {
		sm.pings.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if sm.pingLatency != nil && ok {
		sm.pingLatency.Record(ctx, float64(latency.Microseconds())/1000, metric.WithAttributes(attrs...))
	}
}

func result(ok bool) string {
	if ok {
		return telemetry.ResultSuccess
	}
	return telemetry.ResultError
}
