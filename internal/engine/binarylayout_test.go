package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCodeLength(t *testing.T) {
	cases := map[int]int{
		1:       1,
		16:      1,
		256:     2,
		4096:    3,
		65536:   4,
		1048576: 5,
	}

	for f, want := range cases {
		assert.Equal(t, want, fileCodeLength(f), "F=%d", f)
	}
}

func TestBinaryLayout_fileIndexAndName(t *testing.T) {
	l, err := newBinaryLayout(256, 4)
	require.NoError(t, err)

	assert.Equal(t, 2, l.fileCodeLen)
	assert.Equal(t, 0xAB, l.fileIndex("ABCDE"))
	assert.Equal(t, "AB.dat", l.fileName(0xAB))
	assert.Equal(t, "00.dat", l.fileName(0))
	assert.Equal(t, int(1<<20)/256, l.prefixesPerFile())
}

func TestBinaryLayout_fingerprint(t *testing.T) {
	l, err := newBinaryLayout(4096, 2)
	require.NoError(t, err)

	fp := l.fingerprint()
	assert.Equal(t, "binary", fp.Name)
	assert.Equal(t, 4096, fp.FileQuantity)
	assert.Equal(t, 2, fp.NumericBytes)
}

func TestBinaryLayout_validatePrefix(t *testing.T) {
	l, err := newBinaryLayout(16, 4)
	require.NoError(t, err)

	upper, err := l.validatePrefix("abcde")
	require.NoError(t, err)
	assert.Equal(t, "ABCDE", upper)

	upper, err = l.validatePrefix("abcdef")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", upper)

	_, err = l.validatePrefix("abcd")
	assert.Error(t, err)

	_, err = l.validatePrefix("abcdeg")
	assert.Error(t, err)
}

// TestBinaryLayout_prepareBatchThenReadRange exercises one single-prefix
// "batch" (F at its maximum, so one file owns exactly one prefix) and
// verifies the written file round-trips through readRange, without paying
// for a walk across the full prefix space.
func TestBinaryLayout_prepareBatchThenReadRange(t *testing.T) {
	l, err := newBinaryLayout(1048576, 1)
	require.NoError(t, err)

	dir := t.TempDir()

	const prefixNum = 0x0ABCD

	fetch := func(_ context.Context, prefix string) (string, error) {
		assert.Equal(t, "0ABCD", prefix)

		return "123456789ABCDEF0123456789ABCDEF0123:999\n", nil
	}

	var prepared int
	err = l.prepareBatch(
		context.Background(), dir, prefixNum, 1048576, 0, fetch,
		func() bool { return false },
		func() { prepared++ },
	)
	require.NoError(t, err)
	assert.Equal(t, 1, prepared)

	_, statErr := os.Stat(filepath.Join(dir, l.fileName(prefixNum)))
	require.NoError(t, statErr)

	body, err := l.readRange(dir, "0ABCD")
	require.NoError(t, err)
	// D equals the full 5-hex prefix length here (F is at its maximum), so
	// nothing is trimmed beyond the dropped prefix itself: the decoded
	// suffix is the original 35-hex record, occasion count saturated to
	// width 1's maximum.
	assert.Equal(t, "123456789ABCDEF0123456789ABCDEF0123:255", body)
}

func TestBinaryLayout_readRangeMissingFileReturnsEmpty(t *testing.T) {
	l, err := newBinaryLayout(16, 4)
	require.NoError(t, err)

	body, err := l.readRange(t.TempDir(), "00000")
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestBinaryLayout_prepareBatchStopsEarly(t *testing.T) {
	l, err := newBinaryLayout(16, 4)
	require.NoError(t, err)

	dir := t.TempDir()

	calls := 0
	fetch := func(_ context.Context, _ string) (string, error) {
		calls++

		return "", nil
	}

	err = l.prepareBatch(
		context.Background(), dir, 0, 16, 0, fetch,
		func() bool { return true },
		func() {},
	)
	require.NoError(t, err)
	assert.Zero(t, calls, "shouldStop true from the start means no fetch happens")
}
