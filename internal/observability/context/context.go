package context

import (
	"context"
	"strings"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	payerEmailKey contextKey = "payer_email"
)

// WithRequestID stores the correlation id for the current request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the correlation id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDKey).(string); ok {
		return value
	}
	return ""
}

// WithPayerEmail stores the payer identity for the current request.
func WithPayerEmail(ctx context.Context, email string) context.Context {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return ctx
	}
	return context.WithValue(ctx, payerEmailKey, email)
}

// PayerEmailFromContext returns the payer identity, or "".
func PayerEmailFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(payerEmailKey).(string); ok {
		return value
	}
	return ""
}
