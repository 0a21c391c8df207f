// Package rangeidx contains the core domain types shared by the storage
// engine: the SHA-1 prefix space, the revision state machine, and the
// sentinel errors that cross component boundaries.
package rangeidx

import "github.com/AdguardTeam/golibs/errors"

// PrefixLength is the length, in hex digits, of the prefix used to query the
// upstream range service.
const PrefixLength = 5

// LongPrefixLength is the length, in hex digits, of the optional 6-hex
// variant of a query prefix.
const LongPrefixLength = 6

// HashLength is the length, in hex digits, of a full SHA-1 hash.
const HashLength = 40

// PrefixCapacity is the number of distinct 5-hex prefixes: 16^[PrefixLength].
const PrefixCapacity = 1 << (4 * PrefixLength)

// Errors returned across component boundaries.  Request handlers translate
// [ErrInvalidPrefix] into a user-visible error; every other error bubbles up
// as an opaque failure of the current operation.
var (
	// ErrInvalidPrefix indicates that a caller-supplied prefix failed the
	// length or charset check.
	ErrInvalidPrefix = errors.Error("invalid prefix")

	// ErrBusy indicates that an operation was rejected because a refresh is
	// already in progress.
	ErrBusy = errors.Error("storage engine is busy")

	// ErrNoActiveDataset indicates that a read was attempted before any
	// dataset has ever been built.
	ErrNoActiveDataset = errors.Error("no active dataset")
)
