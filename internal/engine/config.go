// Package engine implements the storage-engine orchestration from
// spec.md §4.6: the text and binary concrete engines, driven through a
// shared refresh/swap/purge pipeline.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/pwnedrange/pwnedrange/internal/errcoll"
	"github.com/pwnedrange/pwnedrange/internal/provider"
	"github.com/pwnedrange/pwnedrange/internal/rangeidx"
)

// Supported configuration ranges, see spec.md §6.
var (
	// SupportedFileQuantities are the only valid values of [Config.FileQuantity].
	SupportedFileQuantities = []int{1, 16, 256, 4096, 65536, 1048576}

	// SupportedOccasionWidths are the only valid values of
	// [Config.OccasionBytes].
	SupportedOccasionWidths = []int{1, 2, 4}
)

// Defaults for [Config], see spec.md §6.
const (
	DefaultWorkerCount   = 64
	DefaultFileQuantity  = 65536
	DefaultOccasionBytes = 4
)

// Config is the engine configuration. All fields are injected at
// construction; there is no environment-variable plumbing here (that is
// the CLI/HTTP front end's job).
type Config struct {
	// Logger is used for structured logging of refresh progress and
	// recoverable errors.
	Logger *slog.Logger

	// ErrColl collects non-critical errors: best-effort failures that do not
	// abort the refresh, such as a failed directory removal or a failed
	// revision persist.
	ErrColl errcoll.Interface

	// Provider is the range provider used during refresh.
	Provider provider.Interface

	// ResourceDir is the filesystem directory holding all persisted state
	// and dataset slots. It is created if missing.
	ResourceDir string

	// UserAgent is the User-Agent of upstream requests. Only meaningful when
	// Provider is an *provider.HTTPProvider constructed by the caller with
	// it; the engine itself does not read it.
	UserAgent string

	// WorkerCount is C, the number of concurrent refresh workers. Must be
	// in [1, 1024].
	WorkerCount int

	// FileQuantity is F, the binary engine's file count. Ignored by the
	// text engine. Must be one of [SupportedFileQuantities].
	FileQuantity int

	// OccasionBytes is W, the binary engine's occasion-count width, in
	// bytes. Ignored by the text engine. Must be one of
	// [SupportedOccasionWidths].
	OccasionBytes int

	// IsTextImplementation selects the text engine (one file per prefix)
	// instead of the binary engine (many prefixes packed per file).
	IsTextImplementation bool
}

// ErrBadConfig is returned by [New] when conf fails validation.
var ErrBadConfig = errors.Error("engine: bad configuration")

// withDefaults returns a copy of conf with zero-valued fields replaced by
// their documented defaults.
func (conf Config) withDefaults() (filled Config) {
	filled = conf

	if filled.WorkerCount == 0 {
		filled.WorkerCount = DefaultWorkerCount
	}

	if filled.FileQuantity == 0 {
		filled.FileQuantity = DefaultFileQuantity
	}

	if filled.OccasionBytes == 0 {
		filled.OccasionBytes = DefaultOccasionBytes
	}

	return filled
}

// validate reports whether conf (after defaults are applied) is legal.
func (conf Config) validate() (err error) {
	if conf.WorkerCount < 1 || conf.WorkerCount > 1024 {
		return fmt.Errorf("%w: worker count %d out of [1, 1024]", ErrBadConfig, conf.WorkerCount)
	}

	if conf.Provider == nil {
		return fmt.Errorf("%w: provider must not be nil", ErrBadConfig)
	}

	if conf.Logger == nil {
		return fmt.Errorf("%w: logger must not be nil", ErrBadConfig)
	}

	if conf.ErrColl == nil {
		return fmt.Errorf("%w: error collector must not be nil", ErrBadConfig)
	}

	if rangeidx.PrefixCapacity%conf.WorkerCount != 0 {
		return fmt.Errorf(
			"%w: worker count %d must evenly divide the %d-prefix space",
			ErrBadConfig, conf.WorkerCount, rangeidx.PrefixCapacity,
		)
	}

	if conf.IsTextImplementation {
		return nil
	}

	if !contains(SupportedFileQuantities, conf.FileQuantity) {
		return fmt.Errorf("%w: file quantity %d unsupported", ErrBadConfig, conf.FileQuantity)
	}

	if !contains(SupportedOccasionWidths, conf.OccasionBytes) {
		return fmt.Errorf("%w: occasion width %d unsupported", ErrBadConfig, conf.OccasionBytes)
	}

	if conf.FileQuantity%conf.WorkerCount != 0 && conf.WorkerCount%conf.FileQuantity != 0 {
		return fmt.Errorf(
			"%w: worker count %d must evenly divide or be divisible by file quantity %d",
			ErrBadConfig, conf.WorkerCount, conf.FileQuantity,
		)
	}

	return nil
}

func contains(xs []int, v int) (ok bool) {
	for _, x := range xs {
		if x == v {
			return true
		}
	}

	return false
}
