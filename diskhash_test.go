package diskhash

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestMap(t *testing.T) (*Map, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "test.")
	m, err := Open(base, false)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, base
}

func TestEmptyMapFindMisses(t *testing.T) {
	m, _ := openTestMap(t)
	_, ok := m.Find(HashFNV1a([]byte("absent")), []byte("absent"))
	require.False(t, ok)
}

func TestSingleInsertAndLookup(t *testing.T) {
	m, _ := openTestMap(t)

	key, val := []byte("hello"), []byte("world")
	hash := HashFNV1a(key)

	got, err := m.Get(hash, key, val)
	require.NoError(t, err)
	require.Equal(t, val, got)

	found, ok := m.Find(hash, key)
	require.True(t, ok)
	require.Equal(t, val, found)
}

// TestOverflowAndSplit drives enough distinct keys through the map to force
// repeated partition splits and directory doublings, then checks every key
// is still reachable against an in-memory oracle.
func TestOverflowAndSplit(t *testing.T) {
	m, _ := openTestMap(t)

	const n = 16384
	oracle := make(map[string][]byte, n)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%d-%d", i, rng.Int63()))
		val := []byte(fmt.Sprintf("val-%d", i))
		hash := HashFNV1a(key)

		got, err := m.Get(hash, key, val)
		require.NoError(t, err)
		require.Equal(t, val, got)

		oracle[string(key)] = val
	}

	require.Greater(t, m.Splits(), uint64(0))
	require.Greater(t, m.Doublings(), uint64(0))

	for key, val := range oracle {
		found, ok := m.Find(HashFNV1a([]byte(key)), []byte(key))
		require.True(t, ok, "key %q should be present", key)
		require.Equal(t, val, found)
	}
}

func TestRemoveThenReAdd(t *testing.T) {
	m, _ := openTestMap(t)

	key, val1, val2 := []byte("k"), []byte("v1"), []byte("v2")
	hash := HashFNV1a(key)

	_, err := m.Get(hash, key, val1)
	require.NoError(t, err)

	removed, err := m.Remove(hash, key)
	require.NoError(t, err)
	require.True(t, removed)

	_, ok := m.Find(hash, key)
	require.False(t, ok)

	// Removing again is a no-op, not an error.
	removed, err = m.Remove(hash, key)
	require.NoError(t, err)
	require.False(t, removed)

	got, err := m.Get(hash, key, val2)
	require.NoError(t, err)
	require.Equal(t, val2, got)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	base := filepath.Join(t.TempDir(), "test.")

	m, err := Open(base, false)
	require.NoError(t, err)

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for i, key := range keys {
		_, err := m.Get(HashFNV1a(key), key, []byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	reopened, err := Open(base, true)
	require.NoError(t, err)
	defer reopened.Close()

	for i, key := range keys {
		val, ok := reopened.Find(HashFNV1a(key), key)
		require.True(t, ok)
		require.Equal(t, []byte{byte(i)}, val)
	}
}

func TestCorruptDirectorySignatureRejected(t *testing.T) {
	base := filepath.Join(t.TempDir(), "test.")

	m, err := Open(base, false)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	path := base + directoryFileSuffix
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(base, true)
	require.Error(t, err)
}

func TestIteratorVisitsEveryKeyExactlyOnce(t *testing.T) {
	m, _ := openTestMap(t)

	const n = 500
	want := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("iter-key-%d", i))
		val := []byte(fmt.Sprintf("iter-val-%d", i))
		_, err := m.Get(HashFNV1a(key), key, val)
		require.NoError(t, err)
		want[string(key)] = val
	}

	got := make(map[string][]byte, n)
	emitted := 0
	it := m.Iterator()
	for it.Next() {
		got[string(it.Key())] = append([]byte(nil), it.Value()...)
		emitted++
	}

	require.Equal(t, n, emitted)
	require.Len(t, got, len(want))
	for k, v := range want {
		require.Equal(t, v, got[k], "key %q", k)
	}
}

func TestIteratorOrderIsStableDirectoryWalk(t *testing.T) {
	m, _ := openTestMap(t)

	keys := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("sorted-%03d", i))
		_, err := m.Get(HashFNV1a(key), key, key)
		require.NoError(t, err)
		keys = append(keys, string(key))
	}

	var visited []string
	it := m.Iterator()
	for it.Next() {
		visited = append(visited, string(it.Key()))
	}

	// A second walk of the unmodified map must visit keys in the same order.
	var revisited []string
	it = m.Iterator()
	for it.Next() {
		revisited = append(revisited, string(it.Key()))
	}
	require.Equal(t, visited, revisited)

	sort.Strings(keys)
	sort.Strings(visited)
	require.Equal(t, keys, visited)
}
