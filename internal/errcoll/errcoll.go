// Package errcoll contains implementations of error collectors used to
// report non-critical errors encountered during a refresh (such as a failed
// revision persist or a failed slot directory removal) without failing the
// whole engine.
package errcoll

import (
	"context"
	"fmt"
	"log/slog"
)

// Interface is the interface for error collectors that process information
// about errors, possibly sending them to a remote location.
type Interface interface {
	Collect(ctx context.Context, err error)
}

// Collectf is a helper for reporting a non-critical error built from a
// format string. It writes the resulting error into l and also into
// errColl.
func Collectf(ctx context.Context, errColl Interface, l *slog.Logger, format string, args ...any) {
	err := fmt.Errorf(format, args...)
	l.ErrorContext(ctx, "collected error", "err", err)
	errColl.Collect(ctx, err)
}

// Collect is a helper for reporting a non-critical error alongside a
// message. It writes msg and err into l and also into errColl.
func Collect(ctx context.Context, errColl Interface, l *slog.Logger, msg string, err error) {
	l.ErrorContext(ctx, msg, "err", err)
	errColl.Collect(ctx, fmt.Errorf("%s: %w", msg, err))
}
