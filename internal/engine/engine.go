package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pwnedrange/pwnedrange/internal/dataset"
	"github.com/pwnedrange/pwnedrange/internal/errcoll"
	"github.com/pwnedrange/pwnedrange/internal/provider"
	"github.com/pwnedrange/pwnedrange/internal/rangeidx"
	"golang.org/x/sync/errgroup"
)

// pollInterval is how often the engine re-checks a condition it must wait
// on: the in-flight-reads drain and the TRANSITION spin-wait, both
// specified at 500ms in spec.md §5.
const pollInterval = 500 * time.Millisecond

// UpdateResult is the outcome of a synchronous [Engine.Update] call.
type UpdateResult string

// Possible [UpdateResult] values. STOPPED is not in spec.md §4.6's literal
// enumeration {DONE, CANCELLED, FAILED, BUSY}: it falls out of adopting the
// richer STOPPAGE/STOPPED state machine (spec.md §9 Open Question (a)) and
// is returned when a pause request lands while this call's own refresh was
// running — see DESIGN.md.
const (
	ResultDone      UpdateResult = "DONE"
	ResultCancelled UpdateResult = "CANCELLED"
	ResultStopped   UpdateResult = "STOPPED"
	ResultFailed    UpdateResult = "FAILED"
	ResultBusy      UpdateResult = "BUSY"
)

// RequestResult is the outcome of [Engine.RequestUpdate].
type RequestResult string

// Possible [RequestResult] values.
const (
	RequestStarted RequestResult = "STARTED"
	RequestBusy    RequestResult = "BUSY"
)

// ControlResult is the outcome of [Engine.RequestUpdatePause] and
// [Engine.RequestUpdateCancellation].
type ControlResult string

// Possible [ControlResult] values.
const (
	ControlAccepted   ControlResult = "ACCEPTED"
	ControlIrrelevant ControlResult = "IRRELEVANT"
)

// Engine orchestrates the refresh pipeline: it drives the range provider
// with bounded concurrency, writes the inactive dataset slot, swaps it in,
// purges the old one, and persists revision/state across restarts
// (spec.md §4.6).
type Engine struct {
	conf     Config
	layout   layout
	revision *rangeidx.Revision
	state    *dataset.State
	logger   *slog.Logger
	errColl  errcoll.Interface
	metrics  *Metrics

	revisionPath string

	// resumedLastStart records whether the most recent [Engine.tryStart]
	// resumed a paused run (batch offsets kept) rather than starting from
	// scratch; it gates whether runRefresh is allowed to clear the build
	// slot. It is only ever written before the refresh goroutine that
	// reads it is started, so no additional synchronisation is needed.
	resumedLastStart bool
}

// New builds an Engine from conf, loading the persisted dataset state from
// conf.ResourceDir after discarding persisted revision and state if they no
// longer match the engine's fingerprint (spec.md §4.5's ConfigMismatch
// handling).  Of the persisted revision only a STOPPED one is restored, so
// that the next run can resume; a revision persisted in any other status is
// not restored and the engine starts in NEW.
func New(conf *Config, metrics *Metrics) (e *Engine, err error) {
	filled := conf.withDefaults()
	if err = filled.validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filled.ResourceDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating resource dir: %w", err)
	}

	l, err := buildLayout(filled)
	if err != nil {
		return nil, err
	}

	fp := l.fingerprint()

	existing, ok, err := dataset.LoadFingerprint(filled.ResourceDir)
	if err != nil {
		return nil, fmt.Errorf("engine: loading fingerprint: %w", err)
	}

	if ok && !existing.Equal(fp) {
		filled.Logger.Warn(
			"config mismatch: discarding persisted revision and state",
			"previous", existing, "current", fp,
		)

		if err = dataset.DiscardStaleState(filled.ResourceDir, rangeidx.RevisionFileName); err != nil {
			return nil, fmt.Errorf("engine: discarding stale state: %w", err)
		}
	}

	if err = dataset.WriteFingerprint(filled.ResourceDir, fp); err != nil {
		return nil, fmt.Errorf("engine: writing fingerprint: %w", err)
	}

	state, err := dataset.Load(filled.ResourceDir)
	if err != nil {
		return nil, fmt.Errorf("engine: loading dataset state: %w", err)
	}

	revisionPath := filepath.Join(filled.ResourceDir, rangeidx.RevisionFileName)

	revision := rangeidx.New(rangeidx.SystemClock{})
	if snap, restoreOk, loadErr := rangeidx.LoadRevision(revisionPath); loadErr == nil && restoreOk {
		if snap.Status == rangeidx.StatusStopped {
			revision.RestoreStopped(snap)
		}
	}

	return &Engine{
		conf:         filled,
		layout:       l,
		revision:     revision,
		state:        state,
		logger:       filled.Logger,
		errColl:      filled.ErrColl,
		metrics:      metrics,
		revisionPath: revisionPath,
	}, nil
}

// buildLayout selects the concrete [layout] for conf.
func buildLayout(conf Config) (l layout, err error) {
	if conf.IsTextImplementation {
		return textLayout{}, nil
	}

	return newBinaryLayout(conf.FileQuantity, conf.OccasionBytes)
}

// Revision returns a snapshot of the current revision.
func (e *Engine) Revision() (snap rangeidx.Snapshot) {
	return e.revision.Snapshot()
}

// GetRange returns the textual range response for prefix (spec.md §4.6).
// It validates and uppercases prefix, waits out any in-progress slot
// transition, then reads from the currently active slot.
func (e *Engine) GetRange(ctx context.Context, prefix string) (body string, err error) {
	upper, err := e.layout.validatePrefix(prefix)
	if err != nil {
		return "", err
	}

	if err = e.waitWhileTransitioning(ctx); err != nil {
		return "", err
	}

	slot, ok := e.state.Active()
	if !ok {
		return "", rangeidx.ErrNoActiveDataset
	}

	e.state.BeginRead()
	e.observeInFlightReads()

	defer func() {
		e.state.EndRead()
		e.observeInFlightReads()
	}()

	return e.layout.readRange(e.slotDir(slot), upper)
}

func (e *Engine) observeInFlightReads() {
	if e.metrics != nil {
		e.metrics.inFlightReads.Set(float64(e.state.InFlightReads()))
	}
}

// waitWhileTransitioning polls at pollInterval while the revision is in
// TRANSITION (spec.md §5's read/flip race).
func (e *Engine) waitWhileTransitioning(ctx context.Context) (err error) {
	for e.revision.Is(rangeidx.StatusTransition) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	return nil
}

// slotDir returns the absolute path of slot's directory.
func (e *Engine) slotDir(slot dataset.Slot) (dir string) {
	return filepath.Join(e.conf.ResourceDir, string(slot))
}

// Update runs a refresh synchronously and returns its outcome.
func (e *Engine) Update(ctx context.Context) (result UpdateResult, err error) {
	if !e.tryStart() {
		return ResultBusy, rangeidx.ErrBusy
	}

	return e.runRefresh(ctx)
}

// RequestUpdate starts a refresh in the background and returns immediately.
func (e *Engine) RequestUpdate(ctx context.Context) (result RequestResult) {
	if !e.tryStart() {
		return RequestBusy
	}

	go func() {
		bgCtx := context.WithoutCancel(ctx)

		if _, runErr := e.runRefresh(bgCtx); runErr != nil {
			e.logger.ErrorContext(bgCtx, "background refresh failed", "err", runErr)
		}
	}()

	return RequestStarted
}

// RequestUpdatePause asks an in-progress refresh to pause after its current
// prefix, preserving its batch offsets for later resumption.
func (e *Engine) RequestUpdatePause() (result ControlResult) {
	if err := e.revision.RequestStoppage(); err != nil {
		return ControlIrrelevant
	}

	return ControlAccepted
}

// RequestUpdateCancellation asks an in-progress refresh to cancel, deleting
// the partially-built slot once workers observe the request.
func (e *Engine) RequestUpdateCancellation() (result ControlResult) {
	if err := e.revision.RequestCancellation(); err != nil {
		return ControlIrrelevant
	}

	return ControlAccepted
}

// tryStart is the single BUSY gate: it attempts the idle -> PREPARATION
// transition and, on success, persists an ignore:true marker per I5 so a
// crash during the run that follows cannot resurrect a stale terminal
// revision on the next restart.
func (e *Engine) tryStart() (ok bool) {
	resuming := false
	if prior := e.revision.Snapshot(); prior.Status == rangeidx.StatusStopped {
		resuming = len(prior.BatchOffsets) == e.conf.WorkerCount
	}

	if err := e.revision.Start(e.conf.WorkerCount); err != nil {
		return false
	}

	e.resumedLastStart = resuming
	e.persistRevision(context.Background(), true)

	return true
}

// persistRevision writes the current revision snapshot to revision.json,
// logging (but not failing) on error — persistence failures outside the
// flip itself are non-fatal per spec.md §7's PersistenceError handling.
func (e *Engine) persistRevision(ctx context.Context, ignore bool) {
	if err := rangeidx.SaveRevision(e.revisionPath, e.revision.Snapshot(), ignore); err != nil {
		errcoll.Collect(ctx, e.errColl, e.logger, "persisting revision", err)
	}
}

// runRefresh executes steps 4-11 of spec.md §4.6's refresh algorithm.
// e.revision must already be in PREPARATION, via a prior, successful
// [Engine.tryStart].
func (e *Engine) runRefresh(ctx context.Context) (result UpdateResult, err error) {
	start := time.Now()

	newSlot := e.state.NextBuildSlot()
	slotDir := e.slotDir(newSlot)

	result, err = e.prepareAndResolve(ctx, newSlot, slotDir)

	e.observeRefreshDuration(start)
	e.observeRefreshResult(result)

	return result, err
}

func (e *Engine) observeRefreshDuration(start time.Time) {
	if e.metrics != nil {
		e.metrics.refreshDuration.Observe(time.Since(start).Seconds())
	}
}

func (e *Engine) observeRefreshResult(result UpdateResult) {
	if e.metrics != nil {
		e.metrics.refreshesTotal.WithLabelValues(string(result)).Inc()
	}
}

// observeProgress updates the progress and prepared-prefix gauges from the
// current revision snapshot; called as each worker completes a prefix and
// once more when a run reaches a terminal status.
func (e *Engine) observeProgress() {
	if e.metrics == nil {
		return
	}

	e.metrics.preparedPrefixes.Set(float64(e.revision.PreparedTotal()))

	if pct := e.revision.Snapshot().Progress; pct != nil {
		e.metrics.revisionProgress.Set(float64(*pct))
	}
}

// prepareAndResolve clears newSlot, runs the worker pool, then resolves the
// run to one of COMPLETED, CANCELLED, STOPPED, or FAILED.
func (e *Engine) prepareAndResolve(
	ctx context.Context,
	newSlot dataset.Slot,
	slotDir string,
) (result UpdateResult, err error) {
	// A resumed run must not disturb the files a previous, paused run
	// already wrote into newSlot — that is the whole point of persisting
	// batch offsets (spec.md §4.6 step 5, property P5). Only a genuinely
	// fresh build clears the slot first.
	if !e.resumedLastStart {
		if err = os.RemoveAll(slotDir); err != nil {
			return e.fail(ctx, slotDir, fmt.Errorf("clearing %s: %w", slotDir, err))
		}
	}

	if err = os.MkdirAll(slotDir, 0o755); err != nil {
		return e.fail(ctx, slotDir, fmt.Errorf("creating %s: %w", slotDir, err))
	}

	if err = e.runWorkers(ctx, slotDir); err != nil {
		return e.fail(ctx, slotDir, err)
	}

	switch e.revision.Status() {
	case rangeidx.StatusCancellation:
		return e.resolveCancelled(ctx, slotDir)
	case rangeidx.StatusStoppage:
		return e.resolveStopped(ctx)
	default:
		return e.resolveCompleted(ctx, newSlot, slotDir)
	}
}

// runWorkers spawns exactly C workers over an [errgroup.Group], each
// preparing its disjoint prefix range (spec.md §4.6 step 5-6).
func (e *Engine) runWorkers(ctx context.Context, slotDir string) (err error) {
	g, gCtx := errgroup.WithContext(ctx)

	shouldStop := func() bool {
		switch e.revision.Status() {
		case rangeidx.StatusCancellation, rangeidx.StatusStoppage:
			return true
		default:
			return false
		}
	}

	fetch := func(fetchCtx context.Context, prefix string) (string, error) {
		return provider.FetchWithRetries(fetchCtx, e.conf.Provider, prefix)
	}

	for b := 0; b < e.conf.WorkerCount; b++ {
		worker := b
		offset := e.revision.BatchOffset(worker)

		g.Go(func() error {
			onPrepared := func() {
				e.revision.CountPrepared(worker)
				e.observeProgress()
			}

			return e.layout.prepareBatch(
				gCtx, slotDir, worker, e.conf.WorkerCount, offset, fetch, shouldStop, onPrepared,
			)
		})
	}

	return g.Wait()
}

// fail moves the revision to FAILED, persists it, and best-effort removes
// the partially-built slot (spec.md §4.6 step 11).
func (e *Engine) fail(ctx context.Context, slotDir string, cause error) (result UpdateResult, err error) {
	if transErr := e.revision.Failed(cause); transErr != nil {
		// The revision was already terminal (e.g. concurrently cancelled);
		// nothing more to record.
		e.logger.ErrorContext(ctx, "refresh failed after terminal transition", "err", cause)

		return ResultFailed, cause
	}

	e.observeProgress()
	e.persistRevision(ctx, false)
	e.removeSlotBestEffort(ctx, slotDir)

	return ResultFailed, cause
}

// resolveCancelled moves CANCELLATION -> CANCELLED and deletes the
// partially-built slot.
func (e *Engine) resolveCancelled(ctx context.Context, slotDir string) (result UpdateResult, err error) {
	if err = e.revision.Cancelled(); err != nil {
		return ResultFailed, err
	}

	e.observeProgress()
	e.persistRevision(ctx, false)
	e.removeSlotBestEffort(ctx, slotDir)

	return ResultCancelled, nil
}

// resolveStopped moves STOPPAGE -> STOPPED, leaving the partial slot and
// batch offsets in place for a later resumption.
func (e *Engine) resolveStopped(ctx context.Context) (result UpdateResult, err error) {
	if err = e.revision.Stopped(); err != nil {
		return ResultFailed, err
	}

	e.observeProgress()
	e.persistRevision(ctx, false)

	return ResultStopped, nil
}

// resolveCompleted performs the swap-and-purge tail of the refresh: wait
// for in-flight reads to drain, flip the active slot, purge the old one.
func (e *Engine) resolveCompleted(
	ctx context.Context,
	newSlot dataset.Slot,
	slotDir string,
) (result UpdateResult, err error) {
	if err = e.revision.Prepared(); err != nil {
		return ResultFailed, err
	}

	if err = e.waitForReadsToDrain(ctx); err != nil {
		return e.fail(ctx, slotDir, err)
	}

	oldSlot, hadOld := e.state.Active()

	if err = e.state.Flip(newSlot); err != nil {
		return e.fail(ctx, slotDir, fmt.Errorf("flipping active slot: %w", err))
	}

	if err = e.revision.Transited(); err != nil {
		return ResultFailed, err
	}

	if hadOld {
		e.removeSlotBestEffort(ctx, e.slotDir(oldSlot))
	}

	if err = e.revision.Completed(); err != nil {
		return ResultFailed, err
	}

	e.observeProgress()
	e.persistRevision(ctx, false)

	return ResultDone, nil
}

// waitForReadsToDrain polls at pollInterval until in_flight_reads reaches
// zero (spec.md §4.6 step 8).
func (e *Engine) waitForReadsToDrain(ctx context.Context) (err error) {
	for e.state.InFlightReads() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	return nil
}

// removeSlotBestEffort deletes dir, logging but not failing on error
// (spec.md §7's DirectoryRemovalError).
func (e *Engine) removeSlotBestEffort(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		errcoll.Collect(ctx, e.errColl, e.logger, "removing slot directory "+dir, err)
	}
}
