package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/pwnedrange/pwnedrange/internal/codec"
	"github.com/pwnedrange/pwnedrange/internal/dataset"
	"github.com/pwnedrange/pwnedrange/internal/rangeidx"
)

// binaryLayout is the packed, many-prefixes-per-file storage class
// (spec.md §3 "Binary storage layout").
type binaryLayout struct {
	codec *codec.Codec

	// fileQuantity is F, the number of files per dataset.
	fileQuantity int

	// occasionBytes is W, the occasion-count byte width.
	occasionBytes int

	// fileCodeLen is the number of uppercase hex digits used to name a
	// file, derived from fileQuantity so files sort lexicographically.
	fileCodeLen int
}

// newBinaryLayout builds a binaryLayout for the given codec parameters.
// fileQuantity must be one of [SupportedFileQuantities]; the caller (New)
// is responsible for validating that.
func newBinaryLayout(fileQuantity, occasionBytes int) (l *binaryLayout, err error) {
	fileCodeLen := fileCodeLength(fileQuantity)

	c, err := codec.New(fileCodeLen, codec.Width(occasionBytes))
	if err != nil {
		return nil, fmt.Errorf("engine: building binary codec: %w", err)
	}

	return &binaryLayout{
		codec:         c,
		fileQuantity:  fileQuantity,
		occasionBytes: occasionBytes,
		fileCodeLen:   fileCodeLen,
	}, nil
}

// fileCodeLength returns the number of hex digits needed to render every
// file index in [0, fileQuantity) with a fixed, lexicographically-sortable
// width: the width of fileQuantity-1 in hex, minimum 1.
func fileCodeLength(fileQuantity int) (digits int) {
	if fileQuantity <= 1 {
		return 1
	}

	for v := fileQuantity - 1; v > 0; v >>= 4 {
		digits++
	}

	return digits
}

// type check
var _ layout = (*binaryLayout)(nil)

func (l *binaryLayout) fingerprint() (fp dataset.Fingerprint) {
	return dataset.Fingerprint{
		Name:         "binary",
		FileQuantity: l.fileQuantity,
		NumericBytes: l.occasionBytes,
	}
}

func (l *binaryLayout) validatePrefix(prefix string) (upper string, err error) {
	return validateHexPrefix(prefix, rangeidx.PrefixLength, rangeidx.LongPrefixLength)
}

// fileIndex returns the file owning the given uppercase 5-hex prefix: the
// value of its leading fileCodeLen hex digits.
func (l *binaryLayout) fileIndex(prefix5 string) (i int) {
	n, _ := strconv.ParseInt(prefix5[:l.fileCodeLen], 16, 64)

	return int(n)
}

// fileName renders file index i per the naming scheme in spec.md §3.
func (l *binaryLayout) fileName(i int) (name string) {
	return fmt.Sprintf("%0*X.dat", l.fileCodeLen, i)
}

// prefixesPerFile is P, the number of 5-hex prefixes owned by one
// file.
func (l *binaryLayout) prefixesPerFile() (p int) {
	return rangeidx.PrefixCapacity / l.fileQuantity
}

func (l *binaryLayout) readRange(slotDir, prefix string) (body string, err error) {
	i := l.fileIndex(prefix[:rangeidx.PrefixLength])
	path := filepath.Join(slotDir, l.fileName(i))

	body, err = l.codec.Search(path, prefix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}

		return "", fmt.Errorf("engine: binary read range: %w", err)
	}

	return body, nil
}

// prepareBatch implements spec.md §4.6's binary worker algorithm: worker b
// owns files [F·b/C, F·(b+1)/C), streamed in ascending prefix order,
// opening/closing the owning file at file boundaries.
func (l *binaryLayout) prepareBatch(
	ctx context.Context,
	slotDir string,
	worker, workerCount, startOffset int,
	fetch fetchFunc,
	shouldStop func() bool,
	onPrepared func(),
) (err error) {
	firstFile := l.fileQuantity * worker / workerCount
	lastFile := l.fileQuantity * (worker + 1) / workerCount
	p := l.prefixesPerFile()

	skip := startOffset

	for fileIdx := firstFile; fileIdx < lastFile; fileIdx++ {
		if shouldStop() {
			return nil
		}

		err = l.prepareFile(ctx, slotDir, fileIdx, p, &skip, fetch, shouldStop, onPrepared)
		if err != nil {
			return fmt.Errorf("engine: preparing file %d: %w", fileIdx, err)
		}
	}

	return nil
}

// prepareFile streams every prefix owned by fileIdx into that file,
// skipping the first *skip of them (already prepared before a pause) and
// decrementing *skip as it does so.
func (l *binaryLayout) prepareFile(
	ctx context.Context,
	slotDir string,
	fileIdx, prefixesPerFile int,
	skip *int,
	fetch fetchFunc,
	shouldStop func() bool,
	onPrepared func(),
) (err error) {
	path := filepath.Join(slotDir, l.fileName(fileIdx))

	var f *os.File

	firstPrefixNum := fileIdx * prefixesPerFile
	for n := firstPrefixNum; n < firstPrefixNum+prefixesPerFile; n++ {
		if *skip > 0 {
			*skip--

			continue
		}

		if shouldStop() {
			return closeIfOpen(f)
		}

		prefix := fmt.Sprintf("%0*X", rangeidx.PrefixLength, n)

		body, fetchErr := fetch(ctx, prefix)
		if fetchErr != nil {
			_ = closeIfOpen(f)

			return fmt.Errorf("fetching prefix %s: %w", prefix, fetchErr)
		}

		if f == nil {
			f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
		}

		if err = l.writeRecords(f, body, prefix); err != nil {
			_ = closeIfOpen(f)

			return fmt.Errorf("writing records for %s: %w", prefix, err)
		}

		onPrepared()
	}

	return closeIfOpen(f)
}

// writeRecords encodes and appends every line of body (one textual record
// per line) to f.
func (l *binaryLayout) writeRecords(f *os.File, body, prefix string) (err error) {
	for _, line := range splitLines(body) {
		if line == "" {
			continue
		}

		packed, encErr := l.codec.Encode(line, prefix)
		if encErr != nil {
			return fmt.Errorf("encoding %q: %w", line, encErr)
		}

		if _, err = f.Write(packed); err != nil {
			return fmt.Errorf("appending to %s: %w", f.Name(), err)
		}
	}

	return nil
}

func closeIfOpen(f *os.File) (err error) {
	if f == nil {
		return nil
	}

	return f.Close()
}

// splitLines splits body on "\n", tolerating a trailing newline.
func splitLines(body string) (lines []string) {
	if body == "" {
		return nil
	}

	start := 0
	for i := 0; i < len(body); i++ {
		if body[i] == '\n' {
			lines = append(lines, body[start:i])
			start = i + 1
		}
	}

	if start < len(body) {
		lines = append(lines, body[start:])
	}

	return lines
}
