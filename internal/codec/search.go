package codec

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/edsrzf/mmap-go"
)

// Search memory-maps the packed-binary file at path and returns every record
// whose stored suffix begins with queryPrefix's stored bytes (spec.md §4.3),
// joined with "\n". queryPrefix must be a 5- or 6-hex string; the match is
// case-insensitive on input, case-insensitive on comparison, and the result
// is an empty string when nothing matches.
func (c *Codec) Search(path, queryPrefix string) (result string, err error) {
	queryBytes, oddNibble, err := c.StoredQueryBytes(strings.ToUpper(queryPrefix))
	if err != nil {
		return "", fmt.Errorf("codec: search %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("codec: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("codec: stat %s: %w", path, err)
	}

	if info.Size() == 0 {
		return "", nil
	}

	if info.Size()%int64(c.recordSize) != 0 {
		return "", fmt.Errorf(
			"codec: file %s has size %d, not a multiple of record size %d",
			path, info.Size(), c.recordSize,
		)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return "", fmt.Errorf("codec: mmap %s: %w", path, err)
	}
	defer data.Unmap()

	n := len(data) / c.recordSize

	recordAt := func(i int) []byte {
		off := i * c.recordSize
		return data[off : off+c.recordSize]
	}

	compare := func(i int) int {
		return compareStoredPrefix(recordAt(i), queryBytes, oddNibble)
	}

	lower := sort.Search(n, func(i int) bool { return compare(i) >= 0 })

	var sb strings.Builder
	for i := lower; i < n && compare(i) == 0; i++ {
		decoded, decodeErr := c.Decode(recordAt(i))
		if decodeErr != nil {
			return "", fmt.Errorf("codec: decoding record %d of %s: %w", i, path, decodeErr)
		}

		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(decoded)
	}

	return sb.String(), nil
}

// compareStoredPrefix compares a stored record's leading len(query) bytes
// against query, unsigned byte-wise, masking the record's final compared
// byte to its high nibble when oddNibble is set (the query's unused low
// nibble is already zero, see [Codec.StoredQueryBytes]). It returns -1, 0,
// or 1.
//
// A zero-length query matches everything: the entire result set is already
// implied by which file owns the record (see [Codec.StoredQueryBytes]).
func compareStoredPrefix(record, query []byte, oddNibble bool) (cmp int) {
	for i, qb := range query {
		rb := record[i]
		if oddNibble && i == len(query)-1 {
			rb &= 0xF0
		}

		switch {
		case rb < qb:
			return -1
		case rb > qb:
			return 1
		}
	}

	return 0
}
