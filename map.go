// Package diskhash implements an on-disk, memory-mapped key/value store
// built around an extendible hash index. Keys and values are opaque byte
// sequences; the index grows by splitting overflowing data partitions and
// doubling its directory as needed, so lookups stay O(1) in expectation
// with no global rehash.
//
// Two files back a Map opened at a base path P: a directory file (P+"cat")
// indexed by the top bits of a 32-bit hash, and a data file (P+"dat")
// holding a pool of fixed-size partitions. Hashing is the caller's
// responsibility; HashFNV1a is provided as the reference choice.
//
// A Map is not safe for concurrent use. Callers that need to share one
// across goroutines must serialize all mutating calls (Get, Remove) behind
// a single exclusive lock, and may allow concurrent Find calls only while
// no Get or Remove is in flight.
package diskhash

import (
	"fmt"

	"github.com/mnvl/diskhash/catalogue"
	"github.com/mnvl/diskhash/container"
)

const hashBits = 32

// directoryFileSuffix and dataFileSuffix name the two files a Map opens
// relative to its base path, matching the original embedding's P+"cat" /
// P+"dat" convention.
const (
	directoryFileSuffix = "cat"
	dataFileSuffix      = "dat"
)

// Map is the extendible-hash coordinator: it composes a directory and a
// partition pool, routes lookups through the directory, and decides when a
// partition must split or the directory must double.
type Map struct {
	dir  *catalogue.Directory
	pool *container.Pool

	readOnly bool
	closed   bool

	splits    uint64
	doublings uint64
}

// Open opens (creating if necessary) the directory and data files at
// basePath+"cat" and basePath+"dat". On first creation, it allocates two
// partitions with prefix_bits = 1 and points the directory's two slots
// (hash 0... and hash 1...) at them.
func Open(basePath string, readOnly bool) (*Map, error) {
	dir, err := catalogue.Open(basePath+directoryFileSuffix, 1, readOnly)
	if err != nil {
		return nil, fmt.Errorf("diskhash: open %s: %w", basePath, err)
	}

	pool, err := container.Open(basePath+dataFileSuffix, readOnly)
	if err != nil {
		dir.Close()
		return nil, fmt.Errorf("diskhash: open %s: %w", basePath, err)
	}

	m := &Map{dir: dir, pool: pool, readOnly: readOnly}

	if pool.BucketsCount() == 0 {
		if readOnly {
			m.Close()
			return nil, fmt.Errorf("diskhash: open %s: %w", basePath, ErrReadOnly)
		}

		id0, err := pool.CreateBucket(1)
		if err != nil {
			m.Close()
			return nil, err
		}
		id1, err := pool.CreateBucket(1)
		if err != nil {
			m.Close()
			return nil, err
		}

		dir.Set(0, dir.PrefixBits(), id0)
		dir.Set(^uint32(0), dir.PrefixBits(), id1)
	}

	return m, nil
}

// Find returns the value stored for (hash, key), or ok = false if absent
// or if the map has been closed.
// The returned slice aliases the mapped region and is invalidated by the
// next Get or WithValue call.
func (m *Map) Find(hash uint32, key []byte) (value []byte, ok bool) {
	if m.closed {
		return nil, false
	}

	bucketID := m.dir.Find(hash)
	ref, found := m.pool.FindRecord(bucketID, hash, key)
	if !found {
		return nil, false
	}
	return m.pool.Value(ref), true
}

// Remove deletes the record for (hash, key) if present, reporting whether
// anything was removed. It never allocates.
func (m *Map) Remove(hash uint32, key []byte) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	if m.readOnly {
		return false, ErrReadOnly
	}

	bucketID := m.dir.Find(hash)
	return m.pool.RemoveRecord(bucketID, hash, key)
}

// Get returns the value stored for (hash, key), inserting defaultValue if
// absent. See locate for the precise splitting/doubling order.
//
// The returned slice aliases the mapped region and is valid only until the
// next call that may allocate (Get, WithValue); copy it if you need it to
// outlive that.
func (m *Map) Get(hash uint32, key, defaultValue []byte) ([]byte, error) {
	ref, err := m.locate(hash, key, defaultValue)
	if err != nil {
		return nil, err
	}
	return m.pool.Value(ref), nil
}

// WithValue locates or creates the record for (hash, key) and invokes fn
// with the live slice backing its value, without copying it out. fn must
// not retain the slice past return: like any value returned by Get, it is
// invalidated by the next allocating call. This mirrors the original
// container::get, which hands the caller a raw pointer to write through
// in place (e.g. for fixed-length counters or flags) instead of forcing a
// copy on every access.
func (m *Map) WithValue(hash uint32, key, defaultValue []byte, fn func([]byte)) error {
	ref, err := m.locate(hash, key, defaultValue)
	if err != nil {
		return err
	}
	fn(m.pool.Value(ref))
	return nil
}

// locate implements the coordinator's precise find-then-maybe-split order:
//  1. bucketID = directory.Find(hash).
//  2. If the record already exists, return it without mutation.
//  3. Otherwise, if the chain has grown past the split heuristic: double
//     the directory first if the partition has saturated its resolution
//     and the pool has outgrown the directory; then, if the partition's
//     prefix_bits is now behind the directory's, split the partition and
//     fix up the directory's upper half to point at the new partition.
//  4. Insert the record and return its location.
//
// Because CreateRecord is always the last step, a failing allocation at
// any point leaves the map logically unchanged.
func (m *Map) locate(hash uint32, key, defaultValue []byte) (container.ValueRef, error) {
	if m.closed {
		return container.ValueRef{}, ErrClosed
	}
	if m.readOnly {
		return container.ValueRef{}, ErrReadOnly
	}

	bucketID := m.dir.Find(hash)

	if ref, ok := m.pool.FindRecord(bucketID, hash, key); ok {
		return ref, nil
	}

	if m.pool.BucketToSplit(bucketID) {
		if m.pool.BucketPrefixBits(bucketID) == m.dir.PrefixBits() &&
			m.pool.BucketsCount() > uint64(1)<<m.dir.PrefixBits() {
			if err := m.dir.Split(); err != nil {
				return container.ValueRef{}, err
			}
			m.doublings++
		}

		if m.pool.BucketPrefixBits(bucketID) < m.dir.PrefixBits() {
			newBucketID, err := m.pool.Split(bucketID)
			if err != nil {
				return container.ValueRef{}, err
			}
			m.splits++

			b := m.pool.BucketPrefixBits(bucketID)
			newBit := uint32(1) << (hashBits - b)
			m.dir.Set(hash|newBit, b, newBucketID)

			if hash&newBit != 0 {
				bucketID = newBucketID
			}
		}
	}

	return m.pool.CreateRecord(bucketID, hash, key, defaultValue)
}

// BytesAllocated returns the combined size of the mapped directory and data
// files.
func (m *Map) BytesAllocated() uint64 {
	return m.dir.BytesAllocated() + m.pool.BytesAllocated()
}

// Splits returns the number of partition splits performed since Open.
func (m *Map) Splits() uint64 { return m.splits }

// Doublings returns the number of directory doublings performed since Open.
func (m *Map) Doublings() uint64 { return m.doublings }

// Iterator returns a forward iterator over every (key, value) pair
// currently stored. See Iterator's doc comment for its mutation-tolerance
// guarantees.
func (m *Map) Iterator() *Iterator {
	return newIterator(m)
}

// CompactReport summarizes overflow buckets that RemoveRecord has emptied
// but that won't actually be reclaimed onto the free list until Split next
// touches their chain (per the free-list-on-split-only discipline). It is
// purely informational: diskhash has no online compaction to trigger early
// reclamation.
type CompactReport struct {
	ChainsWalked         int
	OverflowBuckets      int
	EmptyOverflowBuckets int
}

// Compact walks every directory-addressed partition chain and reports how
// many overflow buckets are currently empty and pending free-list reclaim.
func (m *Map) Compact() CompactReport {
	var report CompactReport
	var lastSlot uint64
	hasLast := false

	for i := uint64(0); i < m.dir.End(); i++ {
		slot := m.dir.SlotAt(i)
		if hasLast && slot == lastSlot {
			continue
		}
		hasLast, lastSlot = true, slot
		if slot == container.InvalidBucketID {
			continue
		}

		report.ChainsWalked++
		for bucketID := m.pool.NextBucket(slot); bucketID != container.InvalidBucketID; bucketID = m.pool.NextBucket(bucketID) {
			report.OverflowBuckets++
			if m.pool.BucketBytesUsed(bucketID) == 0 {
				report.EmptyOverflowBuckets++
			}
		}
	}

	return report
}

// Close unmaps and closes both subfiles. It is idempotent.
func (m *Map) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	dirErr := m.dir.Close()
	poolErr := m.pool.Close()

	if dirErr != nil {
		return dirErr
	}
	return poolErr
}
