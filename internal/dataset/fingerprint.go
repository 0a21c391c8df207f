package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
	renameio "github.com/google/renameio/v2"
)

// implementationFileName is the name of the persisted engine-identity file,
// relative to the storage resource directory.
const implementationFileName = "implementation.json"

// Fingerprint identifies the engine implementation and, for the binary
// engine, its codec parameters (spec.md §3's implementation.json). Two
// fingerprints that differ mean the persisted revision and dataset state
// can no longer be trusted (a configuration mismatch).
type Fingerprint struct {
	// Name is the engine's class name, e.g. "binary" or "text".
	Name string

	// FileQuantity is F, the binary engine's file count. Zero for text.
	FileQuantity int

	// NumericBytes is W, the binary engine's occasion-count width. Zero for
	// text.
	NumericBytes int
}

// isBinary reports whether fp describes the binary engine, which persists
// its codec parameters alongside its name.
func (fp Fingerprint) isBinary() (ok bool) { return fp.FileQuantity != 0 || fp.NumericBytes != 0 }

// Equal reports whether fp and other describe the same engine and, for the
// binary engine, identical codec parameters.
func (fp Fingerprint) Equal(other Fingerprint) (ok bool) {
	return fp == other
}

// fingerprintJSON is the on-disk shape of implementation.json.
type fingerprintJSON struct {
	Name         string `json:"name"`
	FileQuantity int    `json:"file_quantity,omitempty"`
	NumericBytes int    `json:"numeric_bytes,omitempty"`
}

// LoadFingerprint reads implementation.json from resourceDir. ok is false
// if the file does not exist.
func LoadFingerprint(resourceDir string) (fp Fingerprint, ok bool, err error) {
	path := filepath.Join(resourceDir, implementationFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Fingerprint{}, false, nil
		}

		return Fingerprint{}, false, fmt.Errorf("dataset: reading %s: %w", path, err)
	}

	var parsed fingerprintJSON
	if err = json.Unmarshal(data, &parsed); err != nil {
		return Fingerprint{}, false, fmt.Errorf("dataset: decoding %s: %w", path, err)
	}

	return Fingerprint{
		Name:         parsed.Name,
		FileQuantity: parsed.FileQuantity,
		NumericBytes: parsed.NumericBytes,
	}, true, nil
}

// WriteFingerprint atomically writes fp to resourceDir/implementation.json.
func WriteFingerprint(resourceDir string, fp Fingerprint) (err error) {
	body := fingerprintJSON{Name: fp.Name}
	if fp.isBinary() {
		body.FileQuantity = fp.FileQuantity
		body.NumericBytes = fp.NumericBytes
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("dataset: encoding fingerprint: %w", err)
	}

	path := filepath.Join(resourceDir, implementationFileName)

	return renameio.WriteFile(path, data, 0o644)
}

// DiscardStaleState removes revision.json and state.json from resourceDir
// after a [Fingerprint] mismatch, per spec.md §4.5. Slot directories are
// deliberately left in place: they become orphaned and are overwritten by
// the next refresh.
func DiscardStaleState(resourceDir, revisionFileName string) (err error) {
	for _, name := range []string{revisionFileName, stateFileName} {
		path := filepath.Join(resourceDir, name)
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("dataset: removing %s: %w", path, rmErr)
		}
	}

	return nil
}
