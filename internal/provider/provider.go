// Package provider implements the range provider: the abstract capability to
// fetch the textual record list for one hash prefix from the upstream range
// service, plus a fixed-schedule retrying decorator and a deterministic fake
// for tests.
package provider

import (
	"context"

	"github.com/AdguardTeam/golibs/errors"
)

// Interface is the range provider contract (spec.md §4.1): fetch the
// upstream response body for one hex prefix, with line endings already
// normalised to "\n".
type Interface interface {
	Fetch(ctx context.Context, prefix string) (body string, err error)
}

// ErrUpstreamFatal marks an error as non-retryable: either the retry
// schedule was exhausted, or the upstream rejected the request outright
// (a 4xx response, or malformed input).
var ErrUpstreamFatal = errors.Error("provider: fatal upstream error")
