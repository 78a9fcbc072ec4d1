// Package logging defines the structured logger the rest of the code is
// written against, plus the slog-backed implementation used by the binaries.
package logging

import "context"

// Logger is a context-aware structured logger. The variadic args are
// alternating key/value pairs, as in:
//
//	log.Info(ctx, "sync finished", "pushed", n, "pulled", m)
type Logger interface {
	Info(ctx context.Context, msg string, args ...any)

	Warn(ctx context.Context, msg string, args ...any)

	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that carries the given key/value pairs
	// on every record.
	With(args ...any) Logger
}
