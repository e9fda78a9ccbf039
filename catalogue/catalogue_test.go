package catalogue

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDirectory(t *testing.T, prefixBits uint64) *Directory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cat")
	d, err := Open(path, prefixBits, false)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestInitialStateAllInvalid(t *testing.T) {
	d := openTestDirectory(t, 1)
	require.Equal(t, uint64(1), d.PrefixBits())
	require.Equal(t, uint64(2), d.BufferSize())
	require.Equal(t, InvalidBucketID, d.Find(0))
	require.Equal(t, InvalidBucketID, d.Find(^uint32(0)))
}

func TestFindAddressesTopBits(t *testing.T) {
	d := openTestDirectory(t, 2)
	for i := uint64(0); i < d.BufferSize(); i++ {
		d.setSlot(i, i+100)
	}

	require.Equal(t, uint64(100), d.Find(0x00000000))
	require.Equal(t, uint64(101), d.Find(0x40000001))
	require.Equal(t, uint64(102), d.Find(0x80000000))
	require.Equal(t, uint64(103), d.Find(0xFFFFFFFF))
}

func TestSetWritesAlignedRange(t *testing.T) {
	d := openTestDirectory(t, 3) // 8 slots
	for i := uint64(0); i < d.BufferSize(); i++ {
		d.setSlot(i, InvalidBucketID)
	}

	// b = 2: slots sharing the top 2 bits of 0b010..., i.e. index range [2,4).
	d.Set(0x40000000, 2, 777)
	require.Equal(t, uint64(777), d.SlotAt(2))
	require.Equal(t, uint64(777), d.SlotAt(3))
	require.Equal(t, InvalidBucketID, d.SlotAt(0))
	require.Equal(t, InvalidBucketID, d.SlotAt(4))
}

func TestSplitPreservesLookups(t *testing.T) {
	d := openTestDirectory(t, 2)
	for i := uint64(0); i < d.BufferSize(); i++ {
		d.setSlot(i, i+1)
	}

	hashes := []uint32{0x00000000, 0x40000001, 0x80000000, 0xC0000000, 0xFFFFFFFF}
	before := make(map[uint32]uint64)
	for _, h := range hashes {
		before[h] = d.Find(h)
	}

	require.NoError(t, d.Split())
	require.Equal(t, uint64(3), d.PrefixBits())
	require.Equal(t, uint64(8), d.BufferSize())

	for _, h := range hashes {
		require.Equal(t, before[h], d.Find(h), "doubling must not change lookups for hash %#x", h)
	}

	// Each original slot k must now be duplicated at 2k and 2k+1.
	require.Equal(t, d.SlotAt(0), d.SlotAt(1))
	require.Equal(t, d.SlotAt(2), d.SlotAt(3))
	require.Equal(t, d.SlotAt(4), d.SlotAt(5))
	require.Equal(t, d.SlotAt(6), d.SlotAt(7))
}
