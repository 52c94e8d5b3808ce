package types

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID stores the correlation/request ID in the context. Workers set
// this at the start of an invocation; outbound HTTP clients propagate it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the correlation/request ID from the context.
// Returns the empty string if none was set.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
