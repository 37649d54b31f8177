package domain

import (
	"context"
)

// Logger is the structured logger used across the client. Every method takes the
// context first so request, user and socket ids stored there end up on the entry.
// fields are alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)
	Fatal(ctx context.Context, msg string, fields ...any) // exits the process

	// With returns a child logger that adds fields to every entry.
	With(fields ...any) Logger
}
