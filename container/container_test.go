package container

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dat")
	p, err := Open(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestCreateFindRemoveRecord(t *testing.T) {
	p := openTestPool(t)

	id, err := p.CreateBucket(1)
	require.NoError(t, err)

	ref, err := p.CreateRecord(id, 0xDEADBEEF, []byte("alpha"), []byte("1"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), p.Value(ref))

	found, ok := p.FindRecord(id, 0xDEADBEEF, []byte("alpha"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), p.Value(found))

	_, ok = p.FindRecord(id, 0xDEADBEEF, []byte("beta"))
	require.False(t, ok)

	removed, err := p.RemoveRecord(id, 0xDEADBEEF, []byte("alpha"))
	require.NoError(t, err)
	require.True(t, removed)

	_, ok = p.FindRecord(id, 0xDEADBEEF, []byte("alpha"))
	require.False(t, ok)

	removed, err = p.RemoveRecord(id, 0xDEADBEEF, []byte("alpha"))
	require.NoError(t, err)
	require.False(t, removed)
}

func TestCreateRecordOverflowsIntoNewBucket(t *testing.T) {
	p := openTestPool(t)
	id, err := p.CreateBucket(1)
	require.NoError(t, err)

	value := make([]byte, 512)
	n := 0
	for p.NextBucket(id) == InvalidBucketID && n < 100 {
		_, err := p.CreateRecord(id, uint32(n), []byte(fmt.Sprintf("k%d", n)), value)
		require.NoError(t, err)
		n++
	}
	require.NotEqual(t, InvalidBucketID, p.NextBucket(id))

	for i := 0; i < n; i++ {
		_, ok := p.FindRecord(id, uint32(i), []byte(fmt.Sprintf("k%d", i)))
		require.True(t, ok, "record %d should still be found across the chain", i)
	}
}

func TestReadRecordWalksArenaOnly(t *testing.T) {
	p := openTestPool(t)
	id, err := p.CreateBucket(1)
	require.NoError(t, err)

	_, err = p.CreateRecord(id, 1, []byte("a"), []byte("x"))
	require.NoError(t, err)
	_, err = p.CreateRecord(id, 2, []byte("b"), []byte("y"))
	require.NoError(t, err)

	offset := 0
	var seen []uint32
	for {
		rv, next, ok := p.ReadRecord(id, offset)
		if !ok {
			break
		}
		seen = append(seen, rv.Hash)
		offset = next
	}
	require.Equal(t, []uint32{1, 2}, seen)
}

// TestSplitPreservesRecords exercises the split algorithm's core invariant:
// every record that existed before the split is reachable afterward under
// exactly one of the two resulting chains, selected by the newly
// significant hash bit.
func TestSplitPreservesRecords(t *testing.T) {
	p := openTestPool(t)
	id, err := p.CreateBucket(1)
	require.NoError(t, err)

	type kv struct {
		hash uint32
		key  string
		val  string
	}
	var records []kv
	value := make([]byte, 256)
	for i := 0; i < 40; i++ {
		h := uint32(i) << 25 // spread across the high bits that matter for prefix 2
		k := fmt.Sprintf("key-%03d", i)
		_, err := p.CreateRecord(id, h, []byte(k), value)
		require.NoError(t, err)
		records = append(records, kv{h, k, string(value)})
	}

	newID, err := p.Split(id)
	require.NoError(t, err)

	prefixBits := p.BucketPrefixBits(id)
	require.Equal(t, prefixBits, p.BucketPrefixBits(newID))
	newBit := uint32(1) << (32 - prefixBits)

	for _, r := range records {
		wantChain := id
		if r.hash&newBit != 0 {
			wantChain = newID
		}

		ref, ok := p.FindRecord(wantChain, r.hash, []byte(r.key))
		require.True(t, ok, "record %s should be in its expected chain", r.key)
		require.Equal(t, []byte(r.val), p.Value(ref))

		otherChain := newID
		if wantChain == newID {
			otherChain = id
		}
		_, ok = p.FindRecord(otherChain, r.hash, []byte(r.key))
		require.False(t, ok, "record %s should not also be in the other chain", r.key)
	}
}

func TestBucketToSplitHeuristic(t *testing.T) {
	p := openTestPool(t)
	id, err := p.CreateBucket(1)
	require.NoError(t, err)
	require.False(t, p.BucketToSplit(id))

	value := make([]byte, BucketSize-16)
	_, err = p.CreateRecord(id, 1, []byte("a"), value)
	require.NoError(t, err)
	_, err = p.CreateRecord(id, 2, []byte("b"), value)
	require.NoError(t, err)
	require.True(t, p.NextBucket(id) != InvalidBucketID)

	require.True(t, p.BucketToSplit(id))
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dat")
	p, err := Open(path, false)
	require.NoError(t, err)
	id, err := p.CreateBucket(1)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	ro, err := Open(path, true)
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.CreateRecord(id, 1, []byte("a"), []byte("b"))
	require.ErrorIs(t, err, ErrReadOnly)
}
