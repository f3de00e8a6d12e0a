package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const traceIDKey contextKey = "rankfusion_trace_id"

// NewTraceID returns a fresh request identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// ContextWithTraceID stores the trace identifier in context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext extracts the trace identifier, or "".
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
