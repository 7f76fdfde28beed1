package domain

import (
	"context"
)

// Logger is the structured logging port used across the service.
// Implementations (Zap) extract request-scoped fields such as the request ID
// and the active identity from the context. The variadic fields argument
// takes key-value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)
	Fatal(ctx context.Context, msg string, fields ...any)

	// With creates a child logger carrying the given structured fields.
	With(fields ...any) Logger
}
