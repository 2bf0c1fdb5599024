// Package requestctx carries per-request identity through context.
package requestctx

import "context"

type callerContextKey struct{}

// WithCaller stores the authenticated caller address in context.
func WithCaller(ctx context.Context, caller string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller address stored in context and whether
// one was present.
func CallerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(callerContextKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
