package rangeidx

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	renameio "github.com/google/renameio/v2"
)

// RevisionFileName is the name of the persisted revision file, relative to
// the storage resource directory.
const RevisionFileName = "revision.json"

// SaveRevision atomically writes snap to path. When ignore is true the
// written file is marked as mid-sequence (spec.md I5) and must be treated
// as absent by [LoadRevision]; callers use this to bracket a non-idle
// status with an ignore:true write before and a clean write after, so a
// crash mid-run never resurrects a stale in-progress revision.
func SaveRevision(path string, snap Snapshot, ignore bool) (err error) {
	body := revisionJSON{
		Status:       snap.Status.String(),
		Progress:     snap.Progress,
		StartTime:    snap.StartTime,
		EndTime:      snap.EndTime,
		ErrorMessage: snap.ErrorMessage,
		BatchOffsets: snap.BatchOffsets,
	}

	data, err := json.Marshal(ignoreWrapper{revisionJSON: body, Ignore: ignore})
	if err != nil {
		return fmt.Errorf("rangeidx: encoding revision: %w", err)
	}

	if err = renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("rangeidx: writing %s: %w", path, err)
	}

	return nil
}

// ignoreWrapper adds the persistence-layer "ignore" flag alongside the
// revision's own fields without polluting [revisionJSON]'s public meaning.
type ignoreWrapper struct {
	revisionJSON

	Ignore bool `json:"ignore,omitempty"`
}

// LoadRevision reads path and returns the persisted snapshot. ok is false
// when the file is absent, corrupt, marked ignore:true, or records a
// non-idle status — in every such case the caller should behave as if no
// revision had ever been persisted (spec.md §4.5).
func LoadRevision(path string) (snap Snapshot, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}

		return Snapshot{}, false, fmt.Errorf("rangeidx: reading %s: %w", path, err)
	}

	var parsed ignoreWrapper
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr != nil {
		// A corrupt file is treated as absent rather than a fatal error,
		// mirroring state.json's crash-recovery posture.
		return Snapshot{}, false, nil
	}

	if parsed.Ignore {
		return Snapshot{}, false, nil
	}

	status := statusFromString(parsed.Status)
	if !status.IsIdle() {
		return Snapshot{}, false, nil
	}

	return Snapshot{
		StartTime:    parsed.StartTime,
		EndTime:      parsed.EndTime,
		ErrorMessage: parsed.ErrorMessage,
		Status:       status,
		BatchOffsets: parsed.BatchOffsets,
		Progress:     parsed.Progress,
	}, true, nil
}
