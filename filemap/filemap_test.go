package filemap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenExtendsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	m, err := Open(path, false, 4096)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, 4096, m.Len())
	require.Len(t, m.Bytes(), 4096)
}

func TestResizeGrowsAndPreservesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	m, err := Open(path, false, 4096)
	require.NoError(t, err)
	defer m.Close()

	copy(m.Bytes(), []byte("hello"))

	require.NoError(t, m.Resize(8192))
	require.Equal(t, 8192, m.Len())
	require.Equal(t, []byte("hello"), m.Bytes()[:5])
}

func TestResizeReadOnlyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	m, err := Open(path, false, 4096)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	ro, err := Open(path, true, 0)
	require.NoError(t, err)
	defer ro.Close()

	err = ro.Resize(8192)
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestClosePreservesContentAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	m, err := Open(path, false, 4096)
	require.NoError(t, err)
	copy(m.Bytes(), []byte("persisted"))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close()) // idempotent

	reopened, err := Open(path, false, 4096)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, []byte("persisted"), reopened.Bytes()[:9])
}
