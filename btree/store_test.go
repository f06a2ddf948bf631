package btree

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelkv/dupbtree/common/testutil"
)

var errDummy = errors.New("dummy poison")

func TestOpenPageStoreCreatesFreshHeader(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "tree.db")

	s, created, err := openPageStore(path, 128, treeFileMagic)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, uint32(0), s.nextAddr)
	require.NoError(t, s.close())
}

func TestPageStoreAllocateReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "tree.db")
	s, _, err := openPageStore(path, 16, treeFileMagic)
	require.NoError(t, err)

	a0, err := s.allocate()
	require.NoError(t, err)
	require.Equal(t, uint32(0), a0)
	a1, err := s.allocate()
	require.NoError(t, err)
	require.Equal(t, uint32(1), a1)

	payload := make([]byte, 16)
	copy(payload, "hello page zero!")
	require.NoError(t, s.write(a0, payload))

	got, err := s.read(a0)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	require.NoError(t, s.close())
}

func TestPageStoreReopenPreservesHeader(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "tree.db")
	s, _, err := openPageStore(path, 32, treeFileMagic)
	require.NoError(t, err)

	_, err = s.allocate()
	require.NoError(t, err)
	_, err = s.allocate()
	require.NoError(t, err)
	s.setRoot(1, true)
	require.NoError(t, s.close())

	reopened, created, err := openPageStore(path, 32, treeFileMagic)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, uint32(2), reopened.nextAddr)

	addr, isLeaf := reopened.root()
	require.Equal(t, uint32(1), addr)
	require.True(t, isLeaf)
	require.NoError(t, reopened.close())
}

func TestPageStoreRejectsWrongMagicOnReopen(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "tree.db")
	s, _, err := openPageStore(path, 32, treeFileMagic)
	require.NoError(t, err)
	require.NoError(t, s.close())

	_, _, err = openPageStore(path, 32, dataFileMagic)
	require.Error(t, err)
}

func TestPageStorePoisonSticksAcrossCalls(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "tree.db")
	s, _, err := openPageStore(path, 16, treeFileMagic)
	require.NoError(t, err)

	cause := s.poison(errDummy)
	require.Equal(t, errDummy, cause)

	_, err = s.allocate()
	require.ErrorIs(t, err, errDummy)

	_, err = s.read(0)
	require.ErrorIs(t, err, errDummy)

	err = s.write(0, make([]byte, 16))
	require.ErrorIs(t, err, errDummy)
}
