package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pwnedrange/pwnedrange/internal/dataset"
	"github.com/pwnedrange/pwnedrange/internal/rangeidx"
)

// textLayout is the one-file-per-prefix storage class (spec.md §3 "Text
// storage layout").
type textLayout struct{}

// type check
var _ layout = textLayout{}

func (textLayout) fingerprint() (fp dataset.Fingerprint) {
	return dataset.Fingerprint{Name: "text"}
}

// validatePrefix requires exactly 5 hex digits: text files are keyed by
// the 5-hex prefix only, an intentional asymmetry with the binary layout.
func (textLayout) validatePrefix(prefix string) (upper string, err error) {
	return validateHexPrefix(prefix, rangeidx.PrefixLength)
}

func (textLayout) fileName(prefix5 string) (name string) {
	return prefix5 + ".txt"
}

func (l textLayout) readRange(slotDir, prefix string) (body string, err error) {
	path := filepath.Join(slotDir, l.fileName(prefix))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}

		return "", fmt.Errorf("engine: text read range: %w", err)
	}

	return string(data), nil
}

// prepareBatch implements spec.md §4.6's text worker algorithm: worker b
// owns prefixes [b·PREFIX_CAPACITY/C + offset, (b+1)·PREFIX_CAPACITY/C),
// one file written verbatim per prefix.
func (l textLayout) prepareBatch(
	ctx context.Context,
	slotDir string,
	worker, workerCount, startOffset int,
	fetch fetchFunc,
	shouldStop func() bool,
	onPrepared func(),
) (err error) {
	share := rangeidx.PrefixCapacity / workerCount
	first := worker*share + startOffset
	last := (worker + 1) * share

	for n := first; n < last; n++ {
		if shouldStop() {
			return nil
		}

		prefix := fmt.Sprintf("%0*X", rangeidx.PrefixLength, n)

		body, fetchErr := fetch(ctx, prefix)
		if fetchErr != nil {
			return fmt.Errorf("fetching prefix %s: %w", prefix, fetchErr)
		}

		path := filepath.Join(slotDir, l.fileName(prefix))
		if err = os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		onPrepared()
	}

	return nil
}
