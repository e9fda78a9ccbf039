// Package vbe implements the variable-byte integer encoding used inside a
// partition's record arena: low seven bits per byte, payload first, with the
// high bit of every non-terminal byte set as a continuation flag. It is the
// same bit layout as a protobuf/LEB128 varint, so the codec is backed by
// github.com/multiformats/go-varint rather than a hand-rolled encoder.
package vbe

import (
	"fmt"

	varint "github.com/multiformats/go-varint"
)

// MaxLen is the largest number of bytes Append can produce for a uint64.
const MaxLen = varint.MaxLenUvarint63 + 1

// Append encodes v and appends it to dst, returning the extended slice.
func Append(dst []byte, v uint64) []byte {
	var buf [varint.MaxLenUvarint63 + 1]byte
	n := varint.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// Read decodes a value starting at buf[0], returning the value and the
// number of bytes consumed. It returns an error if buf does not contain a
// complete, well-formed encoding.
func Read(buf []byte) (uint64, int, error) {
	v, n, err := varint.FromUvarint(buf)
	if err != nil {
		return 0, 0, fmt.Errorf("vbe: read: %w", err)
	}
	return v, n, nil
}

// Len returns the number of bytes Append(nil, v) would produce.
func Len(v uint64) int {
	return varint.UvarintSize(v)
}
