// Package catalogue implements the directory: a 2^prefix_bits-slot array
// mapping the top bits of a hash to a partition id, with O(1) lookup,
// pointwise range update, and atomic doubling. It is the Go counterpart of
// the original catalogue class.
package catalogue

import (
	"encoding/binary"
	"fmt"

	"github.com/mnvl/diskhash/filemap"
)

const (
	hashBits = 32

	signature = 0x99fa7e8e

	headerSignatureOff  = 0
	headerPrefixBitsOff = 4
	headerPrefixShiftOff = 12
	headerPrefixMaskOff  = 20
	headerBufferSizeOff  = 24
	headerSize           = 32

	slotSize = 8
)

// InvalidBucketID is the sentinel a fresh directory slot is initialized to.
const InvalidBucketID = ^uint64(0)

type errorType string

func (e errorType) Error() string { return string(e) }

// ErrReadOnly is returned by mutating operations on a Directory opened
// read-only.
const ErrReadOnly = errorType("catalogue: directory is read-only")

// Directory owns the directory file backing the top-level hash indirection.
type Directory struct {
	fm       *filemap.Map
	readOnly bool
	path     string
}

// Open creates or opens the directory file at path. On first creation, it
// is sized for 1<<initialPrefixBits slots, every slot set to InvalidBucketID.
func Open(path string, initialPrefixBits uint64, readOnly bool) (*Directory, error) {
	fm, err := filemap.Open(path, readOnly, headerSize)
	if err != nil {
		return nil, err
	}

	d := &Directory{fm: fm, readOnly: readOnly, path: path}

	sig := binary.NativeEndian.Uint32(d.data()[headerSignatureOff : headerSignatureOff+4])
	switch {
	case sig == 0:
		if readOnly {
			fm.Close()
			return nil, fmt.Errorf("catalogue: %s: %w", path, ErrReadOnly)
		}

		bufferSize := uint64(1) << initialPrefixBits
		if err := fm.Resize(headerSize + int(bufferSize)*slotSize); err != nil {
			fm.Close()
			return nil, err
		}

		prefixShift := uint64(hashBits) - initialPrefixBits
		prefixMask := uint32(((uint64(1)<<initialPrefixBits)-1)<<prefixShift)

		binary.NativeEndian.PutUint32(d.data()[headerSignatureOff:headerSignatureOff+4], signature)
		binary.NativeEndian.PutUint64(d.data()[headerPrefixBitsOff:headerPrefixBitsOff+8], initialPrefixBits)
		binary.NativeEndian.PutUint64(d.data()[headerPrefixShiftOff:headerPrefixShiftOff+8], prefixShift)
		binary.NativeEndian.PutUint32(d.data()[headerPrefixMaskOff:headerPrefixMaskOff+4], prefixMask)
		binary.NativeEndian.PutUint64(d.data()[headerBufferSizeOff:headerBufferSizeOff+8], bufferSize)

		for i := uint64(0); i < bufferSize; i++ {
			d.setSlot(i, InvalidBucketID)
		}
	case sig != signature:
		fm.Close()
		return nil, &filemap.CorruptionError{File: path, Got: sig, Want: signature}
	}

	return d, nil
}

func (d *Directory) data() []byte { return d.fm.Bytes() }

func (d *Directory) slotOffset(i uint64) int {
	return headerSize + int(i)*slotSize
}

func (d *Directory) slot(i uint64) uint64 {
	off := d.slotOffset(i)
	return binary.NativeEndian.Uint64(d.data()[off : off+8])
}

func (d *Directory) setSlot(i uint64, v uint64) {
	off := d.slotOffset(i)
	binary.NativeEndian.PutUint64(d.data()[off:off+8], v)
}

// PrefixBits returns the directory's current resolution, in bits.
func (d *Directory) PrefixBits() uint64 {
	return binary.NativeEndian.Uint64(d.data()[headerPrefixBitsOff : headerPrefixBitsOff+8])
}

func (d *Directory) setPrefixBits(v uint64) {
	binary.NativeEndian.PutUint64(d.data()[headerPrefixBitsOff:headerPrefixBitsOff+8], v)
}

// PrefixShift returns hashBits - PrefixBits().
func (d *Directory) PrefixShift() uint64 {
	return binary.NativeEndian.Uint64(d.data()[headerPrefixShiftOff : headerPrefixShiftOff+8])
}

func (d *Directory) setPrefixShift(v uint64) {
	binary.NativeEndian.PutUint64(d.data()[headerPrefixShiftOff:headerPrefixShiftOff+8], v)
}

func (d *Directory) prefixMask() uint32 {
	return binary.NativeEndian.Uint32(d.data()[headerPrefixMaskOff : headerPrefixMaskOff+4])
}

func (d *Directory) setPrefixMask(v uint32) {
	binary.NativeEndian.PutUint32(d.data()[headerPrefixMaskOff:headerPrefixMaskOff+4], v)
}

// BufferSize returns the number of slots, 1<<PrefixBits().
func (d *Directory) BufferSize() uint64 {
	return binary.NativeEndian.Uint64(d.data()[headerBufferSizeOff : headerBufferSizeOff+8])
}

func (d *Directory) setBufferSize(v uint64) {
	binary.NativeEndian.PutUint64(d.data()[headerBufferSizeOff:headerBufferSizeOff+8], v)
}

// Find returns the partition id addressed by the top PrefixBits() bits of
// hash.
func (d *Directory) Find(hash uint32) uint64 {
	return d.slot((uint64(hash) & uint64(d.prefixMask())) >> d.PrefixShift())
}

// Set writes value into every directory slot whose index shares hash's top
// b bits: 1<<(PrefixBits()-b) consecutive, b-aligned slots. It is used to
// repoint the upper half of a split partition's slot range at the newly
// allocated partition.
func (d *Directory) Set(hash uint32, b uint64, value uint64) {
	maskedHash := hash &^ uint32((uint64(1)<<(hashBits-b))-1)
	start := (uint64(maskedHash) & uint64(d.prefixMask())) >> d.PrefixShift()
	count := uint64(1) << (d.PrefixBits() - b)

	for i := uint64(0); i < count; i++ {
		d.setSlot(start+i, value)
	}
}

// Split doubles the directory: prefix_bits increases by one, every existing
// slot is duplicated so new[2k] == new[2k+1] == old[k]. The rewrite runs
// from the high end downward so it never overwrites a not-yet-duplicated
// low slot.
func (d *Directory) Split() error {
	if d.readOnly {
		return ErrReadOnly
	}

	oldBufferSize := d.BufferSize()
	newPrefixBits := d.PrefixBits() + 1
	newPrefixShift := d.PrefixShift() - 1
	newPrefixMask := d.prefixMask() | (uint32(1) << newPrefixShift)
	newBufferSize := oldBufferSize << 1

	if err := d.fm.Resize(headerSize + int(newBufferSize)*slotSize); err != nil {
		return err
	}

	d.setPrefixBits(newPrefixBits)
	d.setPrefixShift(newPrefixShift)
	d.setPrefixMask(newPrefixMask)
	d.setBufferSize(newBufferSize)

	for k := oldBufferSize; k > 0; {
		k--
		v := d.slot(k)
		d.setSlot(2*k+1, v)
		d.setSlot(2*k, v)
	}

	return nil
}

// Begin and End delimit the slot index range [Begin, End) for iteration.
func (d *Directory) Begin() uint64 { return 0 }
func (d *Directory) End() uint64   { return d.BufferSize() }

// SlotAt returns the partition id stored at directory index i.
func (d *Directory) SlotAt(i uint64) uint64 { return d.slot(i) }

// BytesAllocated returns the size of the mapped directory file.
func (d *Directory) BytesAllocated() uint64 {
	return uint64(d.fm.Len())
}

// Close unmaps and closes the directory file.
func (d *Directory) Close() error {
	return d.fm.Close()
}
