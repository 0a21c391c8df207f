package errcoll

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"
)

// WriterCollector is an [Interface] that writes errors to an [io.Writer].
// It is the default, test-safe collector: use it when no remote collector
// is configured.
type WriterCollector struct {
	w io.Writer
}

// type check
var _ Interface = (*WriterCollector)(nil)

// NewWriterCollector returns a new WriterCollector that writes to w.
func NewWriterCollector(w io.Writer) (c *WriterCollector) {
	return &WriterCollector{w: w}
}

// Collect implements the [Interface] interface for *WriterCollector.
func (c *WriterCollector) Collect(_ context.Context, err error) {
	_, _ = fmt.Fprintf(c.w, "%s: %s: caught error: %s\n", time.Now(), caller(2), err)
}

// caller returns a short "file:line" description of the call stack at the
// given skip depth, or "?" if it cannot be determined.
func caller(skip int) (loc string) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "?"
	}

	return fmt.Sprintf("%s:%d", file, line)
}
