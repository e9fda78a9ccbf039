package diskhash

import (
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
)

// HashFNV1a hashes key with 32-bit FNV-1a, the reference hash function the
// embedding layer this module was distilled from uses. Collisions on the
// full 32-bit hash are resolved by key comparison inside a partition; the
// quality of the hash only affects how evenly keys spread across
// partitions, not correctness.
func HashFNV1a(key []byte) uint32 {
	h := fnv.New32a()
	h.Write(key) //nolint:errcheck // hash.Hash32.Write never fails
	return h.Sum32()
}

// HashXXHash64Truncated hashes key with xxhash and truncates to 32 bits. It
// is offered as an alternative for callers that already depend on xxhash
// elsewhere (compactindexsized-style archive pipelines) and want a single
// hash family across every on-disk index they maintain.
func HashXXHash64Truncated(key []byte) uint32 {
	return uint32(xxhash.Sum64(key))
}
