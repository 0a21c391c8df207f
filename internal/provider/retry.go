package provider

import (
	"context"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/cenkalti/backoff/v4"
)

// retryDelays are the delays observed *before* attempts 2, 3, and 4 of
// [FetchWithRetries]'s scheduled phase (the first attempt is immediate),
// per spec.md §4.1's fixed schedule [0s, 30s, 60s, 120s].
var retryDelays = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
}

// fixedSchedule is a [backoff.BackOff] that yields a fixed, finite sequence
// of delays and then stops, rather than growing exponentially.
type fixedSchedule struct {
	delays []time.Duration
	next   int
}

// type check
var _ backoff.BackOff = (*fixedSchedule)(nil)

// NextBackOff implements the [backoff.BackOff] interface for *fixedSchedule.
func (f *fixedSchedule) NextBackOff() (d time.Duration) {
	if f.next >= len(f.delays) {
		return backoff.Stop
	}

	d = f.delays[f.next]
	f.next++

	return d
}

// Reset implements the [backoff.BackOff] interface for *fixedSchedule.
func (f *fixedSchedule) Reset() { f.next = 0 }

// IsRetryable reports whether err is worth retrying.  Only an error
// explicitly wrapping [ErrUpstreamFatal] is not: everything else, including
// a bare transport failure or a transient status error, is assumed
// retryable.
func IsRetryable(err error) (ok bool) {
	return err != nil && !errors.Is(err, ErrUpstreamFatal)
}

// FetchWithRetries calls p.Fetch using the fixed delay schedule from
// spec.md §4.1: up to 4 scheduled attempts (immediate, then +30s, +60s,
// +120s), followed by one final, un-retried attempt. It returns as soon as
// an attempt succeeds or returns a non-retryable error; otherwise it returns
// the last error, from the final attempt.
func FetchWithRetries(ctx context.Context, p Interface, prefix string) (body string, err error) {
	return fetchWithSchedule(ctx, p, prefix, retryDelays)
}

// fetchWithSchedule is [FetchWithRetries] parameterised on the delay
// schedule, so tests can exercise the retry bookkeeping without waiting on
// real-world delays.
func fetchWithSchedule(
	ctx context.Context,
	p Interface,
	prefix string,
	delays []time.Duration,
) (body string, err error) {
	sched := &fixedSchedule{delays: delays}

	body, err = p.Fetch(ctx, prefix)
	if err == nil || !IsRetryable(err) {
		return body, err
	}

	for {
		d := sched.NextBackOff()
		if d == backoff.Stop {
			break
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()

			return "", ctx.Err()
		case <-timer.C:
		}

		body, err = p.Fetch(ctx, prefix)
		if err == nil || !IsRetryable(err) {
			return body, err
		}
	}

	// Final, un-retried attempt: whatever it returns is the outcome.
	return p.Fetch(ctx, prefix)
}
