// Package telemetry provides OpenTelemetry wiring and semantic conventions for the gateway.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for gateway telemetry.
const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrVenue identifies which upstream venue produced the signal.
	AttrVenue = attribute.Key("venue")
	// AttrSymbol captures the tradable instrument symbol (e.g. XBTUSD).
	AttrSymbol = attribute.Key("symbol")
	// AttrTopic is the venue stream topic a message was routed on.
	AttrTopic = attribute.Key("topic")
	// AttrOperation differentiates venue operations (place_order, cancel_order, dial, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation.
	AttrResult = attribute.Key("result")
	// AttrOrderStatus captures the canonical order status reported.
	AttrOrderStatus = attribute.Key("order.status")
	// AttrErrorType categorizes failures by error code.
	AttrErrorType = attribute.Key("error.type")
	// AttrConnectionState labels connection lifecycle signals.
	AttrConnectionState = attribute.Key("connection.state")
	// AttrReason carries the drop or rejection reason.
	AttrReason = attribute.Key("reason")
)

// Result values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// TopicAttributes returns attributes for routed stream messages.
func TopicAttributes(environment, venue, topic string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
		AttrTopic.String(topic),
	}
}

// DropAttributes returns attributes for messages the router could not deliver.
func DropAttributes(environment, venue, topic, reason string) []attribute.KeyValue {
	attrs := TopicAttributes(environment, venue, topic)
	return append(attrs, AttrReason.String(reason))
}

// OrderAttributes returns attributes for order report metrics.
func OrderAttributes(environment, venue, symbol, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
	}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	if status != "" {
		attrs = append(attrs, AttrOrderStatus.String(status))
	}
	return attrs
}

// ConnectionAttributes returns attributes for connection state metrics.
func ConnectionAttributes(environment, venue, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
		AttrConnectionState.String(state),
	}
}

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, venue, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, venue, operation, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
		AttrOperation.String(operation),
		AttrErrorType.String(errorType),
	}
}
