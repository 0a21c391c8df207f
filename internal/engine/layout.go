package engine

import (
	"context"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/pwnedrange/pwnedrange/internal/dataset"
	"github.com/pwnedrange/pwnedrange/internal/rangeidx"
)

// fetchFunc fetches the textual range response for one 5-hex prefix,
// retrying transient failures; see [provider.FetchWithRetries].
type fetchFunc func(ctx context.Context, prefix string) (body string, err error)

// layout is the storage-class capability that the two concrete engines
// (binary and text) supply to the shared orchestrator in engine.go. It
// corresponds to the "prepare_batch / read_range / settings_fingerprint"
// capability described for the abstract engine.
type layout interface {
	// fingerprint identifies this layout for implementation.json.
	fingerprint() dataset.Fingerprint

	// validatePrefix normalises and validates a caller-supplied query
	// prefix. The binary layout accepts 5 or 6 hex digits; the text layout
	// requires exactly 5.
	validatePrefix(prefix string) (upper string, err error)

	// prepareBatch streams through worker b's assigned prefix range inside
	// slotDir, starting at the given offset (prefixes already prepared in
	// a previous, paused run), calling fetch for each prefix and onPrepared
	// once it has been durably written. It returns early, without error,
	// if shouldStop reports true between prefixes.
	prepareBatch(
		ctx context.Context,
		slotDir string,
		worker, workerCount, startOffset int,
		fetch fetchFunc,
		shouldStop func() bool,
		onPrepared func(),
	) (err error)

	// readRange returns the textual range response for prefix, already
	// validated and uppercased by validatePrefix, by reading slotDir.
	readRange(slotDir, prefix string) (body string, err error)
}

// hexDigits reports whether s consists solely of hex digits.
func hexDigits(s string) (ok bool) {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}

	return len(s) > 0
}

// validateHexPrefix is the shared validation core for both layouts:
// uppercase, hex-only, and a length in allowedLengths.
func validateHexPrefix(prefix string, allowedLengths ...int) (upper string, err error) {
	ok := false
	for _, n := range allowedLengths {
		if len(prefix) == n {
			ok = true

			break
		}
	}

	if !ok || !hexDigits(prefix) {
		return "", errors.Annotate(rangeidx.ErrInvalidPrefix, "prefix %q: %w", prefix)
	}

	return strings.ToUpper(prefix), nil
}
