package core

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const exchangeIDKey contextKey = "exchange-id"

// WithExchangeID returns a new context with the exchange ID attached.
func WithExchangeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, exchangeIDKey, id)
}

// GetExchangeID retrieves the exchange ID from the context.
// Returns empty string if not found.
func GetExchangeID(ctx context.Context) string {
	if v := ctx.Value(exchangeIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
