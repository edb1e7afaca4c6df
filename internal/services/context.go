package services

import "context"

type contextKey string

const (
	fileIDKey    contextKey = "file_id"
	attemptKey   contextKey = "attempt"
	requestIDKey contextKey = "request_id"
)

// WithFileID annotates context with the file record identifier.
func WithFileID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, fileIDKey, id)
}

// FileIDFromContext extracts the file record identifier if present.
func FileIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(fileIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAttempt annotates context with the transcode attempt label (hardware/software).
func WithAttempt(ctx context.Context, attempt string) context.Context {
	if attempt == "" {
		return ctx
	}
	return context.WithValue(ctx, attemptKey, attempt)
}

// AttemptFromContext returns the attempt label if present.
func AttemptFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(attemptKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
