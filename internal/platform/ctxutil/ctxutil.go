// Package ctxutil holds small context.Context helpers shared across the
// platform clients.
package ctxutil

import "context"

// Default returns ctx if non-nil, else context.Background(). Every
// platform client accepts a caller context but some call sites (bootstrap,
// health checks) don't always have one on hand.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
