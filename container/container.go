// Package container implements the partition pool: the data file that holds
// fixed-size buckets ("partitions") of variable-length records, grouped into
// overflow chains and split along newly-significant hash bits as chains grow.
// It is the Go counterpart of the original container<BucketSize> class,
// ported offset-first: every bucket is addressed by an integer id and every
// in-bucket cursor is a byte offset into the pool's mapped region rather
// than a raw pointer, so a reallocation inside filemap never invalidates a
// value already in flight the way it does in the original pointer-based
// implementation (see Split for where this matters most).
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mnvl/diskhash/filemap"
	"github.com/mnvl/diskhash/vbe"
)

const (
	// hashBits is the width of the hash domain records are partitioned by.
	hashBits = 32

	signature = 0x69d3db7a

	headerSignatureOff = 0
	headerBucketsOff   = 4
	headerFreeListOff  = 12
	headerSize         = 20

	bucketHeaderSize = 24 // prefix_bits, bytes_used, next_bucket_id: 8 bytes each

	// BucketSize is the arena size of a single partition, chosen so the
	// whole on-disk bucket record (header + arena) fits one 4 KiB page.
	BucketSize   = 4096 - bucketHeaderSize
	bucketStride = bucketHeaderSize + BucketSize
)

// InvalidBucketID is the sentinel meaning "no bucket" (end of chain, empty
// free list, ...).
const InvalidBucketID = ^uint64(0)

type errorType string

func (e errorType) Error() string { return string(e) }

// ErrReadOnly is returned by mutating operations on a Pool opened read-only.
const ErrReadOnly = errorType("container: pool is read-only")

// ValueRef is a stable-for-this-mapping handle to a stored value: which
// bucket it lives in, and the byte range within that bucket's arena. Holding
// one across a call that may allocate (CreateRecord, CreateBucket, Split) is
// a use-after-invalidation bug; re-resolve via Value instead.
type ValueRef struct {
	BucketID uint64
	Offset   int
	Length   int
}

// RecordView is a parsed, zero-copy view into a single stored record.
type RecordView struct {
	Hash  uint32
	Key   []byte
	Value []byte
}

// Pool owns the data file backing a partition pool.
type Pool struct {
	fm       *filemap.Map
	readOnly bool
	path     string
}

// Open creates or opens the data file at path.
func Open(path string, readOnly bool) (*Pool, error) {
	fm, err := filemap.Open(path, readOnly, headerSize)
	if err != nil {
		return nil, err
	}

	p := &Pool{fm: fm, readOnly: readOnly, path: path}

	sig := binary.NativeEndian.Uint32(p.data()[headerSignatureOff : headerSignatureOff+4])
	switch {
	case sig == 0:
		if readOnly {
			fm.Close()
			return nil, fmt.Errorf("container: %s: %w", path, ErrReadOnly)
		}
		binary.NativeEndian.PutUint32(p.data()[headerSignatureOff:headerSignatureOff+4], signature)
		p.setFirstFreeBucketID(InvalidBucketID)
	case sig != signature:
		fm.Close()
		return nil, &filemap.CorruptionError{File: path, Got: sig, Want: signature}
	}

	return p, nil
}

func (p *Pool) data() []byte { return p.fm.Bytes() }

func (p *Pool) bucketsCount() uint64 {
	return binary.NativeEndian.Uint64(p.data()[headerBucketsOff : headerBucketsOff+8])
}

func (p *Pool) setBucketsCount(v uint64) {
	binary.NativeEndian.PutUint64(p.data()[headerBucketsOff:headerBucketsOff+8], v)
}

func (p *Pool) firstFreeBucketID() uint64 {
	return binary.NativeEndian.Uint64(p.data()[headerFreeListOff : headerFreeListOff+8])
}

func (p *Pool) setFirstFreeBucketID(v uint64) {
	binary.NativeEndian.PutUint64(p.data()[headerFreeListOff:headerFreeListOff+8], v)
}

func (p *Pool) bucketOffset(id uint64) int {
	return headerSize + int(id)*bucketStride
}

func (p *Pool) bucketPrefixBits(id uint64) uint64 {
	off := p.bucketOffset(id)
	return binary.NativeEndian.Uint64(p.data()[off : off+8])
}

func (p *Pool) setBucketPrefixBits(id uint64, v uint64) {
	off := p.bucketOffset(id)
	binary.NativeEndian.PutUint64(p.data()[off:off+8], v)
}

func (p *Pool) bucketBytesUsed(id uint64) int {
	off := p.bucketOffset(id) + 8
	return int(binary.NativeEndian.Uint64(p.data()[off : off+8]))
}

func (p *Pool) setBucketBytesUsed(id uint64, v int) {
	off := p.bucketOffset(id) + 8
	binary.NativeEndian.PutUint64(p.data()[off:off+8], uint64(v))
}

func (p *Pool) bucketNextBucketID(id uint64) uint64 {
	off := p.bucketOffset(id) + 16
	return binary.NativeEndian.Uint64(p.data()[off : off+8])
}

func (p *Pool) setBucketNextBucketID(id uint64, v uint64) {
	off := p.bucketOffset(id) + 16
	binary.NativeEndian.PutUint64(p.data()[off:off+8], v)
}

func (p *Pool) bucketArena(id uint64) []byte {
	off := p.bucketOffset(id) + bucketHeaderSize
	return p.data()[off : off+BucketSize]
}

// CreateBucket consumes a partition from the free list, or appends a new one
// if none is free, growing the mapping to 110% of the minimum required length
// when the current mapping is too small. It initializes the
// new bucket's prefix_bits, zeroes bytes_used, and clears next_bucket_id.
func (p *Pool) CreateBucket(prefixBits uint64) (uint64, error) {
	if p.readOnly {
		return InvalidBucketID, ErrReadOnly
	}

	var id uint64
	if free := p.firstFreeBucketID(); free != InvalidBucketID {
		id = free
		p.setFirstFreeBucketID(p.bucketNextBucketID(id))
	} else {
		count := p.bucketsCount()
		bytesNeeded := headerSize + int(count+1)*bucketStride
		if bytesNeeded > p.fm.Len() {
			if err := p.fm.Resize(bytesNeeded * 11 / 10); err != nil {
				return InvalidBucketID, err
			}
		}
		id = count
		p.setBucketsCount(count + 1)
	}

	p.setBucketPrefixBits(id, prefixBits)
	p.setBucketBytesUsed(id, 0)
	p.setBucketNextBucketID(id, InvalidBucketID)
	return id, nil
}

// CreateRecord appends (hash, key, value) to the chain starting at
// bucketID, allocating and linking a fresh overflow partition if every
// partition already in the chain is full. It returns a handle to the stored
// value bytes, valid until the next call that may allocate.
func (p *Pool) CreateRecord(bucketID uint64, hash uint32, key, value []byte) (ValueRef, error) {
	if p.readOnly {
		return ValueRef{}, ErrReadOnly
	}

	keyLen, valLen := len(key), len(value)
	bytesRequired := 4 + vbe.Len(uint64(keyLen)) + keyLen + vbe.Len(uint64(valLen)) + valLen

	for p.bucketBytesUsed(bucketID)+bytesRequired > BucketSize {
		next := p.bucketNextBucketID(bucketID)
		if next == InvalidBucketID {
			prefixBits := p.bucketPrefixBits(bucketID)
			newID, err := p.CreateBucket(prefixBits)
			if err != nil {
				return ValueRef{}, err
			}
			p.setBucketNextBucketID(bucketID, newID)
			bucketID = newID
		} else {
			bucketID = next
		}
	}

	rec := make([]byte, 0, bytesRequired)
	var hashBuf [4]byte
	binary.NativeEndian.PutUint32(hashBuf[:], hash)
	rec = append(rec, hashBuf[:]...)
	rec = vbe.Append(rec, uint64(keyLen))
	rec = vbe.Append(rec, uint64(valLen))
	rec = append(rec, key...)
	rec = append(rec, value...)

	used := p.bucketBytesUsed(bucketID)
	copy(p.bucketArena(bucketID)[used:], rec)
	p.setBucketBytesUsed(bucketID, used+len(rec))

	return ValueRef{BucketID: bucketID, Offset: used + len(rec) - valLen, Length: valLen}, nil
}

// Value resolves a ValueRef to its current byte range. The returned slice
// aliases the mapped region and is invalidated by the next call that may
// allocate.
func (p *Pool) Value(ref ValueRef) []byte {
	arena := p.bucketArena(ref.BucketID)
	return arena[ref.Offset : ref.Offset+ref.Length]
}

func parseRecordHeader(arena []byte, offset int) (hash uint32, keyLen, valLen uint64, headerLen int, err error) {
	hash = binary.NativeEndian.Uint32(arena[offset : offset+4])
	keyLen, n1, err := vbe.Read(arena[offset+4:])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	valLen, n2, err := vbe.Read(arena[offset+4+n1:])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return hash, keyLen, valLen, 4 + n1 + n2, nil
}

// FindRecord scans the chain starting at bucketID for a record matching
// both hash and key exactly.
func (p *Pool) FindRecord(bucketID uint64, hash uint32, key []byte) (ValueRef, bool) {
	for bucketID != InvalidBucketID {
		arena := p.bucketArena(bucketID)
		used := p.bucketBytesUsed(bucketID)

		cursor := 0
		for cursor < used {
			recHash, keyLen, valLen, headerLen, err := parseRecordHeader(arena, cursor)
			if err != nil {
				return ValueRef{}, false
			}
			keyStart := cursor + headerLen
			valStart := keyStart + int(keyLen)

			if recHash == hash && int(keyLen) == len(key) && bytes.Equal(arena[keyStart:valStart], key) {
				return ValueRef{BucketID: bucketID, Offset: valStart, Length: int(valLen)}, true
			}

			cursor = valStart + int(valLen)
		}

		bucketID = p.bucketNextBucketID(bucketID)
	}
	return ValueRef{}, false
}

// RemoveRecord removes the first record matching (hash, key), shifting the
// remaining bytes of that partition left over the gap. It never merges an
// emptied overflow partition back into the free list; that only happens on
// Split.
func (p *Pool) RemoveRecord(bucketID uint64, hash uint32, key []byte) (bool, error) {
	if p.readOnly {
		return false, ErrReadOnly
	}

	for bucketID != InvalidBucketID {
		arena := p.bucketArena(bucketID)
		used := p.bucketBytesUsed(bucketID)

		cursor := 0
		for cursor < used {
			recHash, keyLen, valLen, headerLen, err := parseRecordHeader(arena, cursor)
			if err != nil {
				return false, err
			}
			keyStart := cursor + headerLen
			valStart := keyStart + int(keyLen)
			recordLen := headerLen + int(keyLen) + int(valLen)

			if recHash == hash && int(keyLen) == len(key) && bytes.Equal(arena[keyStart:valStart], key) {
				copy(arena[cursor:], arena[cursor+recordLen:used])
				p.setBucketBytesUsed(bucketID, used-recordLen)
				return true, nil
			}

			cursor = valStart + int(valLen)
		}

		bucketID = p.bucketNextBucketID(bucketID)
	}
	return false, nil
}

// ReadRecord parses the record at byteOffset within bucketID's own arena
// (it does not follow next_bucket_id). It reports ok = false once
// byteOffset reaches bytes_used, meaning no more records in this partition,
// and also when the bytes at byteOffset do not parse as a record lying
// wholly within bytes_used.
func (p *Pool) ReadRecord(bucketID uint64, byteOffset int) (rv RecordView, nextOffset int, ok bool) {
	used := p.bucketBytesUsed(bucketID)
	if byteOffset >= used || byteOffset+4 > used {
		return RecordView{}, byteOffset, false
	}

	arena := p.bucketArena(bucketID)[:used:used]
	hash, keyLen, valLen, headerLen, err := parseRecordHeader(arena, byteOffset)
	if err != nil {
		return RecordView{}, byteOffset, false
	}
	keyStart := byteOffset + headerLen
	if keyLen > uint64(used-keyStart) || valLen > uint64(used-keyStart)-keyLen {
		return RecordView{}, byteOffset, false
	}
	valStart := keyStart + int(keyLen)
	valEnd := valStart + int(valLen)

	return RecordView{
		Hash:  hash,
		Key:   arena[keyStart:valStart],
		Value: arena[valStart:valEnd],
	}, valEnd, true
}

// NextBucket returns the next partition in bucketID's overflow chain, or
// InvalidBucketID if it is the chain's tail.
func (p *Pool) NextBucket(bucketID uint64) uint64 {
	return p.bucketNextBucketID(bucketID)
}

// BucketsCount returns the number of partitions ever allocated (including
// any currently on the free list).
func (p *Pool) BucketsCount() uint64 {
	return p.bucketsCount()
}

// BucketBytesUsed returns the number of valid record bytes in a partition.
func (p *Pool) BucketBytesUsed(bucketID uint64) int {
	return p.bucketBytesUsed(bucketID)
}

// BucketPrefixBits returns a partition's shared hash-prefix length.
func (p *Pool) BucketPrefixBits(bucketID uint64) uint64 {
	return p.bucketPrefixBits(bucketID)
}

// BytesAllocated returns the size of the mapped data file.
func (p *Pool) BytesAllocated() uint64 {
	return uint64(p.fm.Len())
}

// BucketToSplit reports whether bucketID's chain has grown enough to
// justify a split: either the chain has three or more partitions, or its
// first two partitions together use more than 1.5x a partition's capacity.
func (p *Pool) BucketToSplit(bucketID uint64) bool {
	second := p.bucketNextBucketID(bucketID)
	if second == InvalidBucketID {
		return false
	}
	if p.bucketNextBucketID(second) != InvalidBucketID {
		return true
	}
	return p.bucketBytesUsed(bucketID)+p.bucketBytesUsed(second) > 3*BucketSize/2
}

// Split promotes bucketID's chain from prefix_bits = b to b+1, redistributing
// every record to the bit-0 side (bucketID's own chain, reusing its already
// allocated overflow partitions before allocating new ones) or the bit-1
// side (a freshly allocated chain) based on the newly significant hash bit.
// It returns the id of the new bit-1 head.
//
// Unlike the pointer-based original, every cursor here (getPtr, bit0Put,
// bit1Put) is a byte offset, not an address: a partition's offset within its
// own arena never changes across a filemap reallocation, only the base
// address backing the whole pool does. So, unlike container.cpp, there is
// nothing to re-derive after an allocation mid-walk — the next bucketArena
// call simply reads through the (possibly moved) current mapping.
func (p *Pool) Split(bucketID uint64) (uint64, error) {
	if p.readOnly {
		return InvalidBucketID, ErrReadOnly
	}

	prefixBits := p.bucketPrefixBits(bucketID) + 1
	p.setBucketPrefixBits(bucketID, prefixBits)

	bit0ID := bucketID
	bit1ID, err := p.CreateBucket(prefixBits)
	if err != nil {
		return InvalidBucketID, err
	}
	resultID := bit1ID

	newBit := uint32(1) << (hashBits - prefixBits)

	bit0Put, bit1Put := 0, 0

	for getBucketID := bucketID; getBucketID != InvalidBucketID; getBucketID = p.bucketNextBucketID(getBucketID) {
		getLast := p.bucketBytesUsed(getBucketID)
		p.setBucketBytesUsed(getBucketID, 0)

		for getPtr := 0; getPtr != getLast; {
			arena := p.bucketArena(getBucketID)
			hash, keyLen, valLen, headerLen, err := parseRecordHeader(arena, getPtr)
			if err != nil {
				return InvalidBucketID, err
			}
			recordLen := headerLen + int(keyLen) + int(valLen)

			if hash&newBit != 0 {
				if p.bucketBytesUsed(bit1ID)+recordLen > BucketSize {
					newID, err := p.CreateBucket(prefixBits)
					if err != nil {
						return InvalidBucketID, err
					}
					p.setBucketNextBucketID(bit1ID, newID)
					bit1ID = newID
					bit1Put = 0
				}

				src := p.bucketArena(getBucketID)[getPtr : getPtr+recordLen]
				dst := p.bucketArena(bit1ID)
				copy(dst[bit1Put:], src)

				bit1Put += recordLen
				p.setBucketBytesUsed(bit1ID, p.bucketBytesUsed(bit1ID)+recordLen)
			} else {
				if p.bucketBytesUsed(bit0ID)+recordLen > BucketSize {
					if next0 := p.bucketNextBucketID(bit0ID); next0 != InvalidBucketID {
						bit0ID = next0
					} else {
						newID, err := p.CreateBucket(prefixBits)
						if err != nil {
							return InvalidBucketID, err
						}
						p.setBucketNextBucketID(bit0ID, newID)
						bit0ID = newID
					}
					p.setBucketPrefixBits(bit0ID, prefixBits)
					bit0Put = 0
				}

				src := p.bucketArena(getBucketID)[getPtr : getPtr+recordLen]
				dst := p.bucketArena(bit0ID)
				copy(dst[bit0Put:], src)

				bit0Put += recordLen
				p.setBucketBytesUsed(bit0ID, p.bucketBytesUsed(bit0ID)+recordLen)
			}

			getPtr += recordLen
		}
	}

	freeBucketID := p.bucketNextBucketID(bit0ID)
	p.setBucketNextBucketID(bit0ID, InvalidBucketID)

	for freeBucketID != InvalidBucketID {
		next := p.bucketNextBucketID(freeBucketID)
		p.setBucketNextBucketID(freeBucketID, p.firstFreeBucketID())
		p.setFirstFreeBucketID(freeBucketID)
		freeBucketID = next
	}

	return resultID, nil
}

// Close unmaps and closes the data file.
func (p *Pool) Close() error {
	return p.fm.Close()
}
