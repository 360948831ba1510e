// Package obscontext carries correlation identifiers through request contexts.
package obscontext

import (
	"context"
	"strings"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	brandIDKey   contextKey = "brand_id"
)

// WithRequestID stores the request identifier on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request identifier, or empty.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithBrandID stores the brand identifier on the context.
func WithBrandID(ctx context.Context, brandID string) context.Context {
	brandID = strings.TrimSpace(brandID)
	if brandID == "" {
		return ctx
	}
	return context.WithValue(ctx, brandIDKey, brandID)
}

// BrandIDFromContext returns the brand identifier, or empty.
func BrandIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(brandIDKey).(string)
	return value
}
