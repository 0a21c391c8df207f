package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/errors"
	renameio "github.com/google/renameio/v2"
)

// stateFileName is the name of the persisted dataset-state file, relative to
// the storage resource directory.
const stateFileName = "state.json"

// stateJSON is the on-disk shape of state.json (spec.md §3).
type stateJSON struct {
	Dataset string `json:"dataset"`
	Ignore  bool   `json:"ignore,omitempty"`
}

// State tracks which dataset slot is active and how many reads are
// currently in flight against it. All methods are safe for concurrent use.
type State struct {
	mu   sync.Mutex
	path string

	active   *Slot
	inFlight atomic.Int64
}

// New returns a new, empty State persisting to resourceDir/state.json. It
// does not read any existing file; use [Load] to restore persisted state.
func New(resourceDir string) (s *State) {
	return &State{path: filepath.Join(resourceDir, stateFileName)}
}

// Load returns the State persisted in resourceDir, honouring the crash
// recovery rule from spec.md §4.5: a file that doesn't exist, doesn't
// parse, or carries ignore:true yields a State with no active slot.
func Load(resourceDir string) (s *State, err error) {
	s = New(resourceDir)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}

		return nil, fmt.Errorf("dataset: reading %s: %w", s.path, err)
	}

	var parsed stateJSON
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr != nil {
		// A corrupt file is treated the same as an ignored one: start with
		// no known active slot rather than failing startup.
		return s, nil
	}

	if parsed.Ignore {
		return s, nil
	}

	slot := Slot(parsed.Dataset)
	if !slot.Valid() {
		return s, nil
	}

	s.active = &slot

	return s, nil
}

// Active returns the currently active slot, if any.
func (s *State) Active() (slot Slot, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return "", false
	}

	return *s.active, true
}

// NextBuildSlot returns the slot a new refresh should build into: the slot
// other than the active one, or [SlotA] when none is active yet.
func (s *State) NextBuildSlot() (slot Slot) {
	active, ok := s.Active()
	if !ok {
		return SlotA
	}

	return active.Other()
}

// BeginRead registers an in-flight read against the active slot.
func (s *State) BeginRead() { s.inFlight.Add(1) }

// EndRead deregisters an in-flight read previously registered with
// [State.BeginRead].
func (s *State) EndRead() { s.inFlight.Add(-1) }

// InFlightReads returns the number of reads currently registered.
func (s *State) InFlightReads() (n int64) { return s.inFlight.Load() }

// Flip performs the three-step commit sequence from spec.md §4.5 that
// atomically moves the active slot to newSlot:
//
//  1. persist the old slot (or newSlot if there was none yet) marked
//     ignore:true,
//  2. mutate the in-memory active slot,
//  3. persist newSlot with no ignore flag.
//
// A crash between steps 1 and 3 is recoverable: [Load] treats any
// ignore:true file as if state.json didn't exist, so the next startup
// proceeds with no known active slot and the next refresh rebuilds into
// [SlotA].
func (s *State) Flip(newSlot Slot) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := newSlot
	if s.active != nil {
		old = *s.active
	}

	if err = s.write(old, true); err != nil {
		return fmt.Errorf("dataset: marking flip in progress: %w", err)
	}

	s.active = &newSlot

	if err = s.write(newSlot, false); err != nil {
		return fmt.Errorf("dataset: committing flip to %s: %w", newSlot, err)
	}

	return nil
}

// write serialises {slot, ignore} to state.json using an atomic
// create-or-replace write. Caller must hold s.mu.
func (s *State) write(slot Slot, ignore bool) (err error) {
	data, err := json.Marshal(stateJSON{Dataset: string(slot), Ignore: ignore})
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	return renameio.WriteFile(s.path, data, 0o644)
}
