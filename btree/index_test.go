package btree

import (
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelkv/dupbtree/common/testutil"
)

func openTestIndex(t *testing.T, maxChildren, maxLeafEntries, keySize, valueSize int) *Index {
	t.Helper()
	dir := testutil.TempDir(t)
	cfg := DefaultConfig(filepath.Join(dir, "tree.db"), filepath.Join(dir, "data.db"), keySize, valueSize)
	cfg.MaxChildren = maxChildren
	cfg.MaxLeafEntries = maxLeafEntries
	idx, err := Open(cfg)
	require.NoError(t, err)
	return idx
}

func strKey(s string) []byte {
	b := make([]byte, 8)
	copy(b, s)
	return b
}

func u64Key(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func u32Val(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}

func decodeU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

func decodeU32s(bs [][]byte) []uint32 {
	out := make([]uint32, len(bs))
	for i, b := range bs {
		out[i] = decodeU32(b)
	}
	return out
}

// leftmostLeafAddr mirrors tree.go's locateLeafAddr but always follows
// the leftmost child, for the full-order walk allEntries performs.
func leftmostLeafAddr(t *testing.T, tr *treeManager) (addr uint32, isRoot bool) {
	t.Helper()
	if tr.rootIsLeaf {
		return tr.rootLeaf.address, true
	}
	node := tr.rootInner
	isRootNode := true
	for {
		childAddr := node.sonPos[0]
		isLeafChild := node.state == stateLeafParent
		if !isRootNode {
			require.NoError(t, tr.releaseInner(node))
		}
		if isLeafChild {
			return childAddr, false
		}
		var err error
		node, err = tr.fetchInner(childAddr)
		require.NoError(t, err)
		isRootNode = false
	}
}

// allEntries performs the full-order dump the original C++ source used
// in its own tests (SPEC_FULL.md §4's supplemented TraverseAll), walking
// the leaf chain from the leftmost leaf via next_pos.
func allEntries(t *testing.T, tr *treeManager) []Entry {
	t.Helper()
	addr, isRoot := leftmostLeafAddr(t, tr)

	var out []Entry
	rootConsumed := isRoot
	for {
		var leaf *LeafPage
		if rootConsumed {
			leaf = tr.rootLeaf
		} else {
			var err error
			leaf, err = tr.fetchLeaf(addr)
			require.NoError(t, err)
		}
		out = append(out, cloneEntrySlice(leaf.storage)...)
		next := leaf.nextPos

		if !rootConsumed {
			require.NoError(t, tr.releaseLeaf(leaf))
		}
		rootConsumed = false

		if next == noAddr {
			return out
		}
		addr = next
	}
}

func requireAscending(t *testing.T, entries []Entry, keyCmp, valCmp Comparator) {
	t.Helper()
	for i := 1; i < len(entries); i++ {
		require.True(t, compareEntries(entries[i-1], entries[i], keyCmp, valCmp) < 0,
			"entries out of order at %d: %v then %v", i, entries[i-1], entries[i])
	}
}

// Scenario 1 (spec.md §8): a handful of distinct keys, no splits.
func TestScenarioBasicFindAndMiss(t *testing.T) {
	idx := openTestIndex(t, 6, 6, 8, 4)
	defer idx.Close()

	require.NoError(t, idx.Insert(strKey("a"), u32Val(1)))
	require.NoError(t, idx.Insert(strKey("b"), u32Val(2)))
	require.NoError(t, idx.Insert(strKey("c"), u32Val(3)))

	got, err := idx.Find(strKey("b"))
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, decodeU32s(got))

	got, err = idx.Find(strKey("z"))
	require.NoError(t, err)
	require.Empty(t, got)
}

// Scenario 2: enough duplicate keys under "k" to force a leaf split.
// spec.md §4.2 pins the split boundary at exactly L entries, so with
// L=6 the 6th insert must split the root leaf and the 5th must not.
func TestScenarioDuplicateKeySplit(t *testing.T) {
	idx := openTestIndex(t, 6, 6, 8, 4)
	defer idx.Close()

	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, idx.Insert(strKey("k"), u32Val(i)))
	}
	require.True(t, idx.tree.rootIsLeaf, "root must still be a single leaf after only 5 inserts")

	require.NoError(t, idx.Insert(strKey("k"), u32Val(6)))
	require.False(t, idx.tree.rootIsLeaf, "the 6th insert must split the root leaf, per spec.md's L-entry boundary")

	require.NoError(t, idx.Insert(strKey("k"), u32Val(7)))

	got, err := idx.Find(strKey("k"))
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7}, decodeU32s(got))
}

// Scenario 3: erase an entry that is also the root's separator. The
// 6th insert splits the root leaf into [a b c] and [d e f], so "d"
// becomes the separator; after "g" and "h" the right leaf holds 5
// entries and keeps 4 after the erase, so no borrow or merge happens.
func TestScenarioEraseSeparatorEntry(t *testing.T) {
	idx := openTestIndex(t, 6, 6, 8, 4)
	defer idx.Close()

	letters := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, l := range letters {
		require.NoError(t, idx.Insert(strKey(l), u32Val(1)))
	}

	got, err := idx.Find(strKey("d"))
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, decodeU32s(got))

	require.NoError(t, idx.Erase(strKey("d"), u32Val(1)))

	got, err = idx.Find(strKey("d"))
	require.NoError(t, err)
	require.Empty(t, got)

	// every other key must have survived the erase untouched
	for _, l := range letters {
		if l == "d" {
			continue
		}
		got, err := idx.Find(strKey(l))
		require.NoError(t, err)
		require.Equal(t, []uint32{1}, decodeU32s(got))
	}
}

// Scenario 6: duplicate-key stress, then erase every odd value.
func TestScenarioDuplicateKeyStressErase(t *testing.T) {
	idx := openTestIndex(t, 6, 6, 8, 4)
	defer idx.Close()

	for i := uint32(1); i <= 500; i++ {
		require.NoError(t, idx.Insert(strKey("x"), u32Val(i)))
	}

	got, err := idx.Find(strKey("x"))
	require.NoError(t, err)
	vals := decodeU32s(got)
	require.Len(t, vals, 500)
	for i, v := range vals {
		require.Equal(t, uint32(i+1), v)
	}

	for i := uint32(1); i <= 500; i += 2 {
		require.NoError(t, idx.Erase(strKey("x"), u32Val(i)))
	}

	got, err = idx.Find(strKey("x"))
	require.NoError(t, err)
	vals = decodeU32s(got)
	require.Len(t, vals, 250)
	for i, v := range vals {
		require.Equal(t, uint32((i+1)*2), v)
	}
}

// Scenario 4 (scaled down for test runtime): random distinct keys
// inserted then erased in a different random order, checking Len, the
// ordering of the full leaf chain after the inserts, find results, and
// that the tree is empty after the erases.
func TestScenarioRandomInsertEraseInvariants(t *testing.T) {
	idx := openTestIndex(t, 6, 6, 8, 4)
	defer idx.Close()

	const n = 300
	rng := rand.New(rand.NewSource(1))

	insertOrder := rng.Perm(n)
	for _, k := range insertOrder {
		require.NoError(t, idx.Insert(u64Key(uint64(k)), u32Val(1)))
	}
	require.EqualValues(t, n, idx.Len())

	entries := allEntries(t, idx.tree)
	require.Len(t, entries, n)
	requireAscending(t, entries, idx.cfg.KeyComparator, idx.cfg.ValueComparator)

	for _, k := range insertOrder {
		got, err := idx.Find(u64Key(uint64(k)))
		require.NoError(t, err)
		require.Equal(t, []uint32{1}, decodeU32s(got))
	}

	eraseOrder := rng.Perm(n)
	for _, k := range eraseOrder {
		require.NoError(t, idx.Erase(u64Key(uint64(k)), u32Val(1)))
	}

	require.Zero(t, idx.Len())
	entries = allEntries(t, idx.tree)
	require.Empty(t, entries)

	for _, k := range insertOrder {
		got, err := idx.Find(u64Key(uint64(k)))
		require.NoError(t, err)
		require.Empty(t, got)
	}
}

// Scenario 5: close and reopen must reproduce identical find results.
func TestScenarioReopenPreservesData(t *testing.T) {
	dir := testutil.TempDir(t)
	treePath := filepath.Join(dir, "tree.db")
	dataPath := filepath.Join(dir, "data.db")

	cfg := DefaultConfig(treePath, dataPath, 8, 4)
	cfg.MaxChildren = 6
	cfg.MaxLeafEntries = 6

	idx, err := Open(cfg)
	require.NoError(t, err)

	const n = 200
	rng := rand.New(rand.NewSource(7))
	insertOrder := rng.Perm(n)
	for _, k := range insertOrder {
		require.NoError(t, idx.Insert(u64Key(uint64(k)), u32Val(1)))
	}
	require.NoError(t, idx.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	for _, k := range insertOrder {
		got, err := reopened.Find(u64Key(uint64(k)))
		require.NoError(t, err)
		require.Equal(t, []uint32{1}, decodeU32s(got))
	}

	got, err := reopened.Find(u64Key(uint64(n + 1)))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestIndexRejectsWrongSizedKeyOrValue(t *testing.T) {
	idx := openTestIndex(t, 6, 6, 8, 4)
	defer idx.Close()

	err := idx.Insert([]byte("short"), u32Val(1))
	require.Error(t, err)

	err = idx.Insert(strKey("ok"), []byte{1, 2})
	require.Error(t, err)
}

func TestIndexPoisonsOnCloseAndRejectsFurtherCalls(t *testing.T) {
	idx := openTestIndex(t, 6, 6, 8, 4)
	require.NoError(t, idx.Insert(strKey("a"), u32Val(1)))
	require.NoError(t, idx.Close())

	_, err := idx.Find(strKey("a"))
	require.Error(t, err)
	err = idx.Insert(strKey("b"), u32Val(2))
	require.Error(t, err)
}
