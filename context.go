package authgate

import "context"

type requestIDContextKey struct{}

// WithRequestID attaches a correlation ID to ctx. Requests dispatched under ctx
// without an explicit [Request.ID] send it as X-Request-ID instead of a fresh uuid.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
