package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Handlers and the realtime hub enrich the context once; every slog call below them
// picks the fields up without passing them explicitly.
type LogFields struct {
	TicketID  *int64  // Support ticket ID
	UserID    *int64  // Acting user (customer or agent)
	ConnID    *uint64 // Realtime connection ID
	Room      *string // Realtime room (e.g. "ticket:123")
	Component string  // Component name (OTel semantic convention style, e.g., "support.realtime.hub")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.TicketID != nil {
		result.TicketID = new.TicketID
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.ConnID != nil {
		result.ConnID = new.ConnID
	}
	if new.Room != nil {
		result.Room = new.Room
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{TicketID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Used to keep message bodies out of log lines.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
