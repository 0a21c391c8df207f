// Package dataset manages which of the two on-disk dataset slots is active,
// the crash-resistant two-phase commit of that fact, and the fingerprint
// that detects a configuration change across restarts (spec.md §4.5).
package dataset

import "github.com/AdguardTeam/golibs/errors"

// Slot names one of the two dataset directories a refresh can build into.
type Slot string

// The two dataset slots, see spec.md §3.
const (
	SlotA Slot = "A"
	SlotB Slot = "B"
)

// ErrInvalidSlot is returned when a persisted slot name is neither "A" nor
// "B".
var ErrInvalidSlot = errors.Error("dataset: invalid slot")

// Valid reports whether s is [SlotA] or [SlotB].
func (s Slot) Valid() (ok bool) {
	return s == SlotA || s == SlotB
}

// Other returns the slot that is not s: [SlotA] for [SlotB] and vice versa.
func (s Slot) Other() (other Slot) {
	if s == SlotA {
		return SlotB
	}

	return SlotA
}
