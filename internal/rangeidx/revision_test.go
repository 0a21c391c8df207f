package rangeidx_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pwnedrange/pwnedrange/internal/rangeidx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a deterministic [rangeidx.Clock] for tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() (now time.Time) { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestRevision_happyPath(t *testing.T) {
	clock := newFakeClock()
	r := rangeidx.New(clock)

	assert.True(t, r.IsIdle())
	assert.True(t, r.Is(rangeidx.StatusNew))

	require.NoError(t, r.Start(4))
	assert.True(t, r.Is(rangeidx.StatusPreparation))
	assert.False(t, r.IsIdle())

	r.CountPrepared(0)
	r.CountPrepared(1)

	snap := r.Snapshot()
	require.NotNil(t, snap.StartTime)
	require.NotNil(t, snap.Progress)
	assert.Equal(t, 0, *snap.Progress) // 2 prepared out of 1048576 rounds to 0

	require.NoError(t, r.Prepared())
	assert.True(t, r.Is(rangeidx.StatusTransition))

	require.NoError(t, r.Transited())
	assert.True(t, r.Is(rangeidx.StatusPurge))

	clock.advance(time.Minute)
	require.NoError(t, r.Completed())
	assert.True(t, r.Is(rangeidx.StatusCompleted))
	assert.True(t, r.IsIdle())

	snap = r.Snapshot()
	assert.Nil(t, snap.Progress)
	require.NotNil(t, snap.EndTime)
	assert.True(t, snap.EndTime.After(*snap.StartTime))
}

func TestRevision_illegalTransitionsRejected(t *testing.T) {
	r := rangeidx.New(newFakeClock())

	err := r.Prepared()
	assert.ErrorIs(t, err, rangeidx.ErrIllegalTransition)

	err = r.RequestStoppage()
	assert.ErrorIs(t, err, rangeidx.ErrIllegalTransition)

	require.NoError(t, r.Start(1))

	err = r.Start(1)
	assert.ErrorIs(t, err, rangeidx.ErrIllegalTransition)

	err = r.Stopped()
	assert.ErrorIs(t, err, rangeidx.ErrIllegalTransition)
}

func TestRevision_cancellationClearsOffsets(t *testing.T) {
	r := rangeidx.New(newFakeClock())

	require.NoError(t, r.Start(2))
	r.CountPrepared(0)

	require.NoError(t, r.RequestCancellation())
	assert.True(t, r.Is(rangeidx.StatusCancellation))

	require.NoError(t, r.Cancelled())
	assert.True(t, r.Is(rangeidx.StatusCancelled))
	assert.True(t, r.IsIdle())

	snap := r.Snapshot()
	assert.Nil(t, snap.Progress)
	assert.Empty(t, snap.BatchOffsets)

	// a fresh Start after cancellation resets every worker's offset to 0.
	require.NoError(t, r.Start(2))
	assert.Equal(t, 0, r.BatchOffset(0))
}

func TestRevision_stoppagePreservesOffsetsAndStartTime(t *testing.T) {
	clock := newFakeClock()
	r := rangeidx.New(clock)
	startedAt := clock.t

	require.NoError(t, r.Start(3))
	r.CountPrepared(0)
	r.CountPrepared(0)
	r.CountPrepared(1)

	require.NoError(t, r.RequestStoppage())
	clock.advance(time.Hour)
	require.NoError(t, r.Stopped())

	assert.True(t, r.Is(rangeidx.StatusStopped))
	assert.True(t, r.IsIdle())

	snap := r.Snapshot()
	require.NotNil(t, snap.Progress)
	require.Equal(t, []int{2, 1, 0}, snap.BatchOffsets)
	require.NotNil(t, snap.StartTime)
	assert.True(t, snap.StartTime.Equal(startedAt))

	// resuming preserves both offsets and the original start time.
	clock.advance(time.Minute)
	require.NoError(t, r.Start(3))
	assert.True(t, r.Is(rangeidx.StatusPreparation))
	assert.Equal(t, 2, r.BatchOffset(0))
	assert.Equal(t, 1, r.BatchOffset(1))
	assert.Equal(t, 0, r.BatchOffset(2))

	snap = r.Snapshot()
	assert.True(t, snap.StartTime.Equal(startedAt))
}

func TestRevision_startAfterStopWithDifferentWorkerCountRestartsFromScratch(t *testing.T) {
	r := rangeidx.New(newFakeClock())

	require.NoError(t, r.Start(2))
	r.CountPrepared(0)
	require.NoError(t, r.RequestStoppage())
	require.NoError(t, r.Stopped())

	require.NoError(t, r.Start(5))
	for b := 0; b < 5; b++ {
		assert.Equal(t, 0, r.BatchOffset(b))
	}
}

func TestRevision_restoreStopped(t *testing.T) {
	start := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	snap := rangeidx.Snapshot{
		StartTime:    &start,
		EndTime:      &end,
		BatchOffsets: []int{3, 3, 3},
	}

	r := rangeidx.New(newFakeClock())
	r.RestoreStopped(snap)

	assert.True(t, r.Is(rangeidx.StatusStopped))
	assert.True(t, r.IsIdle())
	assert.Equal(t, 3, r.BatchOffset(1))

	require.NoError(t, r.Start(3))
	assert.Equal(t, 3, r.BatchOffset(0))

	restored := r.Snapshot()
	assert.True(t, restored.StartTime.Equal(start))
}

func TestRevision_failedFromAnyNonTerminalStatus(t *testing.T) {
	r := rangeidx.New(newFakeClock())

	require.NoError(t, r.Start(1))
	r.CountPrepared(0)

	cause := errors.New("upstream exploded")
	require.NoError(t, r.Failed(cause))

	assert.True(t, r.Is(rangeidx.StatusFailed))
	assert.True(t, r.IsIdle())

	snap := r.Snapshot()
	assert.Equal(t, cause.Error(), snap.ErrorMessage)
	require.NotNil(t, snap.Progress) // offsets existed when failure happened
	assert.Empty(t, snap.BatchOffsets)

	err := r.Failed(cause)
	assert.ErrorIs(t, err, rangeidx.ErrIllegalTransition)
}

func TestRevision_failedWithoutProgressHasNoProgressField(t *testing.T) {
	r := rangeidx.New(newFakeClock())

	require.NoError(t, r.Start(0))
	require.NoError(t, r.Failed(errors.New("boom")))

	snap := r.Snapshot()
	assert.Nil(t, snap.Progress)
}

// TestRevision_restoreStoppedSnapshotMatchesOriginal checks that round-
// tripping a STOPPED [rangeidx.Snapshot] through [rangeidx.Revision.RestoreStopped]
// reproduces it field-for-field, using a structural diff rather than
// reaching into each field by hand.
func TestRevision_restoreStoppedSnapshotMatchesOriginal(t *testing.T) {
	start := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	offsets := []int{3, 3, 3}
	progress := 100 * (offsets[0] + offsets[1] + offsets[2]) / rangeidx.PrefixCapacity

	restored := rangeidx.Snapshot{
		StartTime:    &start,
		EndTime:      &end,
		BatchOffsets: offsets,
	}

	r := rangeidx.New(newFakeClock())
	r.RestoreStopped(restored)

	// Snapshot() recomputes Status and Progress (neither is restored
	// directly), so the expectation includes them rather than the input to
	// RestoreStopped.
	want := rangeidx.Snapshot{
		StartTime:    &start,
		EndTime:      &end,
		Status:       rangeidx.StatusStopped,
		BatchOffsets: offsets,
		Progress:     &progress,
	}

	got := r.Snapshot()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Snapshot() mismatch after RestoreStopped (-want +got):\n%s", diff)
	}
}

func TestStatus_stringAndPredicates(t *testing.T) {
	assert.Equal(t, "preparation", rangeidx.StatusPreparation.String())
	assert.Contains(t, rangeidx.Status(99).String(), "Status(99)")

	assert.True(t, rangeidx.StatusNew.IsIdle())
	assert.True(t, rangeidx.StatusCompleted.IsIdle())
	assert.False(t, rangeidx.StatusPreparation.IsIdle())
	assert.False(t, rangeidx.StatusTransition.IsTerminal())
}
