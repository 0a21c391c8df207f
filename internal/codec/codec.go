// Package codec implements the bidirectional conversion between textual
// breach records ("HEX:N") and their packed binary form, parameterised by a
// dropped-prefix length and an occasion-count byte width.
//
// See spec.md §4.2 and §3 for the exact byte layout.
package codec

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// HashLength is the number of hex digits in a full SHA-1 hash.
const HashLength = 40

// Width is the byte width used to store an occasion count.
type Width int

// Supported occasion-count widths.
const (
	Width1 Width = 1
	Width2 Width = 2
	Width4 Width = 4
)

// Valid reports whether w is one of the supported widths.
func (w Width) Valid() (ok bool) {
	switch w {
	case Width1, Width2, Width4:
		return true
	default:
		return false
	}
}

// Max returns the saturating maximum value representable in w bytes.
func (w Width) Max() (max uint64) {
	return 1<<(8*uint(w)) - 1
}

// ErrBadParams is returned by [New] when D or W are out of range.
var ErrBadParams = errors.Error("codec: bad parameters")

// Codec converts between textual and packed-binary breach records for one
// fixed pair of parameters: a dropped-prefix length D (in hex digits) and an
// occasion-count width W (in bytes).
type Codec struct {
	width        Width
	droppedLen   int
	suffixHexLen int
	suffixSize   int
	oddSuffix    bool
	recordSize   int
}

// New returns a new Codec for the given dropped-prefix length (in hex
// digits, 0-40) and occasion-count width.
func New(droppedLen int, width Width) (c *Codec, err error) {
	if droppedLen < 0 || droppedLen > HashLength {
		return nil, fmt.Errorf("%w: dropped length %d", ErrBadParams, droppedLen)
	} else if !width.Valid() {
		return nil, fmt.Errorf("%w: width %d", ErrBadParams, width)
	}

	suffixHexLen := HashLength - droppedLen
	oddSuffix := suffixHexLen%2 != 0
	suffixSize := (suffixHexLen + 1) / 2

	return &Codec{
		width:        width,
		droppedLen:   droppedLen,
		suffixHexLen: suffixHexLen,
		suffixSize:   suffixSize,
		oddSuffix:    oddSuffix,
		recordSize:   suffixSize + int(width),
	}, nil
}

// RecordSize returns the fixed size, in bytes, of one packed record.
func (c *Codec) RecordSize() (n int) { return c.recordSize }

// DroppedLength returns the configured dropped-prefix length, in hex digits.
func (c *Codec) DroppedLength() (n int) { return c.droppedLen }

// Encode converts one textual record ("HEX:N") into its packed binary form.
// queryPrefix is the 5-hex prefix under which the record was returned by the
// range provider; it is prepended to the record's hash suffix to reconstruct
// the full 40-hex hash before the dropped prefix is removed.
func (c *Codec) Encode(record, queryPrefix string) (packed []byte, err error) {
	hexHash, occasionsStr, found := strings.Cut(record, ":")
	if !found {
		return nil, fmt.Errorf("codec: record %q has no ':' separator", record)
	}

	full := queryPrefix + hexHash
	if len(full) < c.droppedLen {
		return nil, fmt.Errorf("codec: full hash %q shorter than dropped length %d", full, c.droppedLen)
	}

	kept := full[c.droppedLen:]
	if len(kept)%2 != 0 {
		kept += "0"
	}

	hashBytes, err := hex.DecodeString(kept)
	if err != nil {
		return nil, fmt.Errorf("codec: decoding hex suffix: %w", err)
	}

	occasions, err := strconv.ParseUint(occasionsStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("codec: parsing occasion count %q: %w", occasionsStr, err)
	}

	if max := c.width.Max(); occasions > max {
		// CodecOverflow: silently saturate, per spec.md §7.
		occasions = max
	}

	packed = make([]byte, 0, c.recordSize)
	packed = append(packed, hashBytes...)
	packed = appendBigEndian(packed, occasions, int(c.width))

	return packed, nil
}

// Decode converts one packed binary record back into its textual form
// (spec.md §4.2): the output represents digits [max(D, 5), 40) of the full
// 40-hex hash.  For D <= 5 that is exactly what the upstream range service
// would return under the record's 5-hex prefix; for D > 5 the digits
// [5, D) are not part of the output.
//
// The stored suffix covers digits [D, 40) of the full hash.  When D < 5, its
// leading 5-D digits are themselves part of the prefix (already implied by
// which file/bucket owns the record) and are trimmed from the output; when
// D >= 5 the stored suffix already starts at or past digit 5 and is used
// as-is.
func (c *Codec) Decode(packed []byte) (record string, err error) {
	if len(packed) != c.recordSize {
		return "", fmt.Errorf(
			"codec: packed record has length %d, want %d", len(packed), c.recordSize,
		)
	}

	hashBytes, occBytes := packed[:c.suffixSize], packed[c.suffixSize:]

	hexSuffix := strings.ToUpper(hex.EncodeToString(hashBytes))
	if c.oddSuffix {
		hexSuffix = hexSuffix[:len(hexSuffix)-1]
	}

	trim := 5 - c.droppedLen
	if trim < 0 {
		trim = 0
	}

	occasions := bigEndianUint(occBytes)

	return fmt.Sprintf("%s:%d", hexSuffix[trim:], occasions), nil
}

// StoredQueryBytes encodes a 5- or 6-hex query prefix into the bytes used to
// compare against stored records during a [Codec.Search], reporting whether the
// final byte has an unused low nibble that must be masked out.
func (c *Codec) StoredQueryBytes(fullPrefix string) (queryBytes []byte, oddNibble bool, err error) {
	if len(fullPrefix) < c.droppedLen {
		// The entire query is already implied by the dropped prefix (i.e. by
		// which file owns it); there is nothing left to compare.
		return nil, false, nil
	}

	kept := fullPrefix[c.droppedLen:]
	oddNibble = len(kept)%2 != 0
	if oddNibble {
		kept += "0"
	}

	queryBytes, err = hex.DecodeString(kept)
	if err != nil {
		return nil, false, fmt.Errorf("codec: decoding query prefix %q: %w", fullPrefix, err)
	}

	return queryBytes, oddNibble, nil
}

// appendBigEndian appends the low width bytes of v, big-endian, to dst.
func appendBigEndian(dst []byte, v uint64, width int) (out []byte) {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}

	return append(dst, buf...)
}

// bigEndianUint decodes an unsigned big-endian integer of arbitrary byte
// width (1, 2, or 4 in practice).
func bigEndianUint(b []byte) (v uint64) {
	for _, by := range b {
		v = v<<8 | uint64(by)
	}

	return v
}
