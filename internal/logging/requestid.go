package logging

import (
	"context"

	"github.com/google/uuid"
)

const requestIDAttr = "request_id"

type requestIDKey struct{}

// EnsureRequestID returns ctx with a request id, generating one when ctx has
// none, together with the id.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return ContextWithRequestID(ctx, id), id
}

// ContextWithRequestID stores id on ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id stored on ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
