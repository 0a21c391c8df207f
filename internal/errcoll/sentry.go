package errcoll

import (
	"context"
	"io"
	"net"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/getsentry/sentry-go"
)

// SentryCollector is an [Interface] implementation that sends errors to a
// Sentry-like HTTP API.  It is optional: configuring it is only worthwhile
// for a long-lived deployment that wants aggregate visibility into
// non-critical refresh errors across many refreshes.
type SentryCollector struct {
	sentry *sentry.Client
}

// type check
var _ Interface = (*SentryCollector)(nil)

// NewSentryCollector returns a new SentryCollector. cli must not be nil.
func NewSentryCollector(cli *sentry.Client) (c *SentryCollector) {
	return &SentryCollector{sentry: cli}
}

// Collect implements the [Interface] interface for *SentryCollector.
func (c *SentryCollector) Collect(ctx context.Context, err error) {
	if !isReportable(err) {
		return
	}

	scope := sentry.NewScope()
	scope.SetTags(tagsFromCtx(ctx))

	_ = c.sentry.CaptureException(err, &sentry.EventHint{Context: ctx}, scope)
}

// FlushTimeout bounds how long [SentryCollector.Flush] waits for buffered
// events to be sent.
const FlushTimeout = 2 * time.Second

// Flush waits until the underlying transport sends any buffered events to
// the Sentry server, blocking for at most [FlushTimeout].
func (c *SentryCollector) Flush() {
	_ = c.sentry.Flush(FlushTimeout)
}

// isReportable returns false for errors that are just noise: a closed
// connection or a timed-out read/write against the upstream range service,
// which a later retry or refresh routinely recovers from.
func isReportable(err error) (ok bool) {
	switch {
	case
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrDeadlineExceeded):
		return false
	default:
		var netErr net.Error

		return !(errors.As(err, &netErr) && netErr.Timeout())
	}
}

// tagsFromCtx returns Sentry tags based on information attached to ctx with
// [WithPrefix] and [WithWorker]: the prefix or worker index being processed
// when the error occurred.
func tagsFromCtx(ctx context.Context) (tags map[string]string) {
	tags = map[string]string{}

	if prefix, ok := PrefixFromContext(ctx); ok {
		tags["prefix"] = prefix
	}

	if worker, ok := WorkerFromContext(ctx); ok {
		tags["worker"] = worker
	}

	return tags
}
