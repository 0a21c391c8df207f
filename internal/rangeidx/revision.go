package rangeidx

import (
	"fmt"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// Status is the status of a refresh attempt.  The zero value is
// [StatusNew].
type Status int

// Statuses of a refresh attempt, see spec.md §4.4.
const (
	StatusNew Status = iota
	StatusPreparation
	StatusTransition
	StatusPurge
	StatusStoppage
	StatusCancellation
	StatusCompleted
	StatusStopped
	StatusCancelled
	StatusFailed
)

// String implements the [fmt.Stringer] interface for Status.
func (s Status) String() (str string) {
	switch s {
	case StatusNew:
		return "new"
	case StatusPreparation:
		return "preparation"
	case StatusTransition:
		return "transition"
	case StatusPurge:
		return "purge"
	case StatusStoppage:
		return "stoppage"
	case StatusCancellation:
		return "cancellation"
	case StatusCompleted:
		return "completed"
	case StatusStopped:
		return "stopped"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// IsIdle returns true if a new refresh may start from this status.
func (s Status) IsIdle() (ok bool) {
	switch s {
	case StatusNew, StatusCompleted, StatusStopped, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if s is a status from which no further automatic
// transition occurs.
func (s Status) IsTerminal() (ok bool) {
	switch s {
	case StatusNew, StatusCompleted, StatusStopped, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// ErrIllegalTransition is returned by a [Revision] transition method when
// called from a status that does not permit it.
var ErrIllegalTransition = errors.Error("illegal revision transition")

// Snapshot is an immutable, serialisable view of a [Revision] at one instant.
// It is the DTO exchanged with callers of [Revision.Snapshot] and persisted
// to revision.json.
type Snapshot struct {
	// StartTime is the moment the current run began.  It is preserved across
	// pause/resume cycles.
	StartTime *time.Time `json:"start_ts,omitempty"`

	// EndTime is set when the run reaches a terminal status.
	EndTime *time.Time `json:"end_ts,omitempty"`

	// ErrorMessage is set only when Status is [StatusFailed].
	ErrorMessage string `json:"error_message,omitempty"`

	// Status is the current lifecycle status.
	Status Status `json:"-"`

	// BatchOffsets holds, for each worker, the number of prefixes it has
	// already prepared in the current (or most recently stopped) run.  It is
	// only meaningful when resuming a [StatusStopped] revision.
	BatchOffsets []int `json:"batch_offsets,omitempty"`

	// Progress is an integer percentage, present only while progress is
	// meaningful (see [Revision.Snapshot]).
	Progress *int `json:"progress,omitempty"`
}

// revisionJSON is the literal on-disk shape of revision.json; Status is
// encoded as its string form, and the "ignore" flag is added alongside these
// fields by [ignoreWrapper] in persist.go.
type revisionJSON struct {
	Status       string     `json:"status"`
	Progress     *int       `json:"progress,omitempty"`
	StartTime    *time.Time `json:"start_ts,omitempty"`
	EndTime      *time.Time `json:"end_ts,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	BatchOffsets []int      `json:"batch_offsets,omitempty"`
}

// statusFromString parses the persisted status string.  Unknown values
// decode as [StatusNew], which is always a safe, idle default.
func statusFromString(str string) (s Status) {
	for _, candidate := range []Status{
		StatusNew, StatusPreparation, StatusTransition, StatusPurge, StatusStoppage,
		StatusCancellation, StatusCompleted, StatusStopped, StatusCancelled, StatusFailed,
	} {
		if candidate.String() == str {
			return candidate
		}
	}

	return StatusNew
}

// Revision is the mutable state machine tracking one refresh attempt.  All
// methods are safe for concurrent use; in practice only the refresh
// goroutine ever calls the mutating methods, while request goroutines only
// read via [Revision.Snapshot] and the Is* predicates.
type Revision struct {
	mu sync.Mutex

	clock Clock

	status       Status
	startTime    time.Time
	hasStart     bool
	endTime      time.Time
	hasEnd       bool
	errorMessage string

	// batchOffsets[b] is the number of prefixes worker b has prepared so far
	// in the current run.
	batchOffsets []int

	// failedProgress freezes the progress percentage at the moment a
	// PREPARATION or STOPPAGE run transitions to FAILED, since Failed
	// clears batchOffsets (the quantity progressLocked would otherwise read)
	// as part of the same transition.
	failedProgress *int
}

// New returns a new, idle Revision in [StatusNew].  clock is used for
// timestamps; pass [SystemClock]{} in production.
func New(clock Clock) (r *Revision) {
	return &Revision{
		clock:  clock,
		status: StatusNew,
	}
}

// Status returns the current status.
func (r *Revision) Status() (s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

// IsIdle returns true if a new refresh may currently start.
func (r *Revision) IsIdle() (ok bool) {
	return r.Status().IsIdle()
}

// Is reports whether the current status equals want.
func (r *Revision) Is(want Status) (ok bool) {
	return r.Status() == want
}

// BatchOffset returns the persisted preparation offset for worker b, i.e.
// how many of its prefixes were already prepared before this call — used by
// a resuming worker to skip prefixes it already wrote.
func (r *Revision) BatchOffset(b int) (offset int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b < 0 || b >= len(r.batchOffsets) {
		return 0
	}

	return r.batchOffsets[b]
}

// CountPrepared increments the prepared-prefix counter for worker b by one.
func (r *Revision) CountPrepared(b int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b >= 0 && b < len(r.batchOffsets) {
		r.batchOffsets[b]++
	}
}

// preparedTotal returns Σ batchOffsets[i], per invariant I4.  Caller must
// hold r.mu.
func (r *Revision) preparedTotal() (total int) {
	for _, n := range r.batchOffsets {
		total += n
	}

	return total
}

// PreparedTotal returns the total number of prefixes prepared so far across
// every worker in the current (or most recently stopped) run, for
// instrumentation.
func (r *Revision) PreparedTotal() (total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.preparedTotal()
}

// Snapshot returns an immutable DTO view of the revision, suitable for
// exposing to callers of the engine's Revision method and for persistence.
func (r *Revision) Snapshot() (snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap = Snapshot{
		Status:       r.status,
		ErrorMessage: r.errorMessage,
	}

	if r.hasStart {
		t := r.startTime
		snap.StartTime = &t
	}

	if r.hasEnd {
		t := r.endTime
		snap.EndTime = &t
	}

	if p, ok := r.progressLocked(); ok {
		snap.Progress = &p
	}

	if r.status == StatusStopped {
		snap.BatchOffsets = append([]int(nil), r.batchOffsets...)
	}

	return snap
}

// progressLocked computes the progress percentage.  Caller must hold r.mu.
// Progress is meaningful only in PREPARATION, STOPPAGE, STOPPED, and FAILED
// (when the failure happened mid-preparation, i.e. in PREPARATION or
// STOPPAGE with batch offsets present).
func (r *Revision) progressLocked() (pct int, ok bool) {
	switch r.status {
	case StatusPreparation, StatusStoppage, StatusStopped:
		return 100 * r.preparedTotal() / PrefixCapacity, true
	case StatusFailed:
		if r.failedProgress == nil {
			return 0, false
		}

		return *r.failedProgress, true
	default:
		return 0, false
	}
}

// Start transitions {NEW, COMPLETED, STOPPED, CANCELLED, FAILED} ->
// PREPARATION.  batchCount is the number of workers for the run about to
// start; when resuming from STOPPED, previously persisted offsets (loaded
// via [Revision.RestoreStopped]) are kept as long as their length matches
// batchCount, otherwise they are discarded and the run restarts from
// scratch for every worker.
func (r *Revision) Start(batchCount int) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.status.IsIdle() {
		return fmt.Errorf("starting from %s: %w", r.status, ErrIllegalTransition)
	}

	resuming := r.status == StatusStopped && len(r.batchOffsets) == batchCount
	if !resuming {
		r.batchOffsets = make([]int, batchCount)
	}

	if !(r.status == StatusStopped && r.hasStart) {
		r.startTime = r.clock.Now()
		r.hasStart = true
	}

	r.hasEnd = false
	r.errorMessage = ""
	r.failedProgress = nil
	r.status = StatusPreparation

	return nil
}

// Prepared transitions PREPARATION -> TRANSITION.
func (r *Revision) Prepared() (err error) {
	return r.transition(StatusPreparation, StatusTransition)
}

// Transited transitions TRANSITION -> PURGE.
func (r *Revision) Transited() (err error) {
	return r.transition(StatusTransition, StatusPurge)
}

// Completed transitions PURGE -> COMPLETED and sets the end time.
func (r *Revision) Completed() (err error) {
	return r.terminalTransition(StatusPurge, StatusCompleted)
}

// RequestStoppage transitions PREPARATION -> STOPPAGE.
func (r *Revision) RequestStoppage() (err error) {
	return r.transition(StatusPreparation, StatusStoppage)
}

// Stopped transitions STOPPAGE -> STOPPED, preserving batch offsets so a
// later [Revision.Start] can resume from them.
func (r *Revision) Stopped() (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusStoppage {
		return fmt.Errorf("stopping from %s: %w", r.status, ErrIllegalTransition)
	}

	r.endTime = r.clock.Now()
	r.hasEnd = true
	r.status = StatusStopped

	return nil
}

// RequestCancellation transitions PREPARATION -> CANCELLATION.
func (r *Revision) RequestCancellation() (err error) {
	return r.transition(StatusPreparation, StatusCancellation)
}

// Cancelled transitions CANCELLATION -> CANCELLED, clearing batch offsets.
func (r *Revision) Cancelled() (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusCancellation {
		return fmt.Errorf("cancelling from %s: %w", r.status, ErrIllegalTransition)
	}

	r.batchOffsets = nil
	r.endTime = r.clock.Now()
	r.hasEnd = true
	r.status = StatusCancelled

	return nil
}

// Failed transitions any non-terminal status to FAILED, clearing batch
// offsets and recording cause.Error() as the error message.
func (r *Revision) Failed(cause error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsTerminal() {
		return fmt.Errorf("failing from %s: %w", r.status, ErrIllegalTransition)
	}

	r.failedProgress = nil
	if len(r.batchOffsets) > 0 && (r.status == StatusPreparation || r.status == StatusStoppage) {
		pct := 100 * r.preparedTotal() / PrefixCapacity
		r.failedProgress = &pct
	}

	r.batchOffsets = nil
	r.endTime = r.clock.Now()
	r.hasEnd = true
	r.errorMessage = cause.Error()
	r.status = StatusFailed

	return nil
}

// RestoreStopped restores a STOPPED revision loaded from disk so that a
// subsequent Start can resume from it.  It must only be called right after
// construction, before any other transition.
func (r *Revision) RestoreStopped(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status = StatusStopped
	r.batchOffsets = append([]int(nil), snap.BatchOffsets...)

	if snap.StartTime != nil {
		r.startTime = *snap.StartTime
		r.hasStart = true
	}

	if snap.EndTime != nil {
		r.endTime = *snap.EndTime
		r.hasEnd = true
	}
}

// transition moves the revision from "from" to "to" with no side effects
// besides the status change.  Caller must not hold r.mu.
func (r *Revision) transition(from, to Status) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != from {
		return fmt.Errorf("transitioning %s -> %s: %w", from, to, ErrIllegalTransition)
	}

	r.status = to

	return nil
}

// terminalTransition is like transition but also stamps the end time.
func (r *Revision) terminalTransition(from, to Status) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != from {
		return fmt.Errorf("transitioning %s -> %s: %w", from, to, ErrIllegalTransition)
	}

	r.endTime = r.clock.Now()
	r.hasEnd = true
	r.status = to

	return nil
}
