package logger

import (
	"context"
	"log/slog"
)

type fieldsKey struct{}

// With returns a context carrying fields on top of any already attached.
// Request middleware uses it for trace and caller identifiers.
func With(ctx context.Context, fields ...any) context.Context {
	prev := Fields(ctx)
	merged := make([]any, 0, len(prev)+len(fields))
	merged = append(append(merged, prev...), fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// Fields returns the request-scoped fields carried by ctx.
func Fields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsKey{}).([]any)
	return fields
}

// From returns the process logger annotated with ctx's fields.
func From(ctx context.Context) *slog.Logger {
	return LoggerWrapper().With(Fields(ctx)...)
}
