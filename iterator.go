package diskhash

import "github.com/mnvl/diskhash/container"

// Iterator walks every (key, value) pair stored in a Map exactly once under
// stable conditions: it visits the directory in index order, and for each
// slot whose value differs from the previous slot's (i.e. for each unique
// partition reference), walks that partition's overflow chain in order,
// emitting records in stored order.
//
// Under concurrent mutation of the Map, Iterator guarantees only liveness —
// bounded termination and no out-of-bounds access — not completeness: a
// concurrent Remove can shift bytes underneath a cached byte offset, so a
// record may be skipped or (rarely) re-emitted. Every advance re-parses the
// record at the current offset rather than trusting a cached pointer, which
// is what keeps this safe.
type Iterator struct {
	m *Map

	dirIndex uint64
	hasLast  bool
	lastSlot uint64

	bucketID uint64
	offset   int

	key   []byte
	value []byte
}

func newIterator(m *Map) *Iterator {
	return &Iterator{m: m, bucketID: container.InvalidBucketID}
}

// Next advances to the next record, returning false once the map is
// exhausted. Key and Value reflect the record Next just advanced to.
func (it *Iterator) Next() bool {
	for {
		if it.bucketID == container.InvalidBucketID {
			if !it.advanceDirectory() {
				return false
			}
		}

		rv, next, ok := it.m.pool.ReadRecord(it.bucketID, it.offset)
		if ok {
			it.offset = next
			it.key = rv.Key
			it.value = rv.Value
			return true
		}

		if nextBucket := it.m.pool.NextBucket(it.bucketID); nextBucket != container.InvalidBucketID {
			it.bucketID = nextBucket
			it.offset = 0
			continue
		}

		// End of chain: fall through and look for the next unique slot.
		it.bucketID = container.InvalidBucketID
	}
}

// advanceDirectory walks forward from the current directory index until it
// finds a slot whose value differs from the previous slot visited (or the
// first slot, which has no previous and is always unique), positioning the
// iterator at the start of that partition's chain. The loop bound is
// m.dir.End(), reread on every call, so growth of the directory mid-
// iteration (via a concurrent Get triggering a doubling) only ever adds
// more work, never an infinite loop.
func (it *Iterator) advanceDirectory() bool {
	for it.dirIndex < it.m.dir.End() {
		slot := it.m.dir.SlotAt(it.dirIndex)
		it.dirIndex++

		if it.hasLast && slot == it.lastSlot {
			continue
		}
		it.hasLast = true
		it.lastSlot = slot

		if slot == container.InvalidBucketID {
			continue
		}

		it.bucketID = slot
		it.offset = 0
		return true
	}
	return false
}

// Key returns the key of the record Next last advanced to. The slice
// aliases the mapped region and is invalidated by the map's next allocating
// call.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the value of the record Next last advanced to, under the
// same aliasing rules as Key.
func (it *Iterator) Value() []byte { return it.value }
