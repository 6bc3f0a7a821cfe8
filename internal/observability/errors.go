package observability

import (
	"errors"
	"fmt"
)

// AggregateErrors drops nil entries, logs what remains once and returns the
// joined error wrapped with operation. It returns nil when nothing failed.
func AggregateErrors(operation string, failures []error, fields ...Field) error {
	joined := errors.Join(failures...)
	if joined == nil {
		return nil
	}

	messages := make([]string, 0, len(failures))
	for _, err := range failures {
		if err != nil {
			messages = append(messages, err.Error())
		}
	}
	logFields := make([]Field, 0, len(fields)+3)
	logFields = append(logFields, fields...)
	logFields = append(logFields,
		Field{Key: "operation", Value: operation},
		Field{Key: "errorCount", Value: len(messages)},
		Field{Key: "errors", Value: messages},
	)
	Log().Error(operation+" failed", logFields...)
	return fmt.Errorf("%s failed: %w", operation, joined)
}
