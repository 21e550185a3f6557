package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextFieldsKey struct{}

// WithFields attaches zap fields to a context. Fields accumulate: adding
// fields to a context that already carries some appends to the existing set.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	existing := ContextFields(ctx)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, contextFieldsKey{}, merged)
}

// ContextFields returns the zap fields attached to a context, or nil.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(contextFieldsKey{}).([]zap.Field)
	return fields
}
