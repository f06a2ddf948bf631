package btree

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kestrelkv/dupbtree/common"
)

const (
	treeFileMagic uint32 = 0x42545245 // "BTRE"
	dataFileMagic uint32 = 0x42544441 // "BTDA"
)

// Index is the public facade over a disk-resident duplicate-key B+
// tree (spec.md §1, §6): find/insert/erase over an ordered multimap,
// backed by a tree file and a data file, each with its own bounded LRU
// page cache and bounded LIFO free-page recycler.
//
// Grounded on the teacher's top-level BTree struct: a single façade
// owning the lower layers and a sticky "closed" flag instead of retrying
// after an I/O failure. Unlike the teacher,
// Index carries no mutex and no WAL: spec.md §5 rules out concurrent
// access entirely, and §1 rules out journaling — every operation here
// assumes a single caller and best-effort durability only.
type Index struct {
	cfg    Config
	tree   *treeManager
	closed atomic.Bool
	log    *zap.Logger
}

// Open creates or reopens an index at the paths named in cfg. A fresh
// pair of files starts as a single empty leaf acting as the root
// (spec.md §3's Lifecycle); reopening an existing pair reloads the
// pinned root from wherever it was left at the previous Close.
func Open(cfg Config) (*Index, error) {
	cfg.setDefaults()
	layout := cfg.layout()
	log := cfg.Logger

	treeStore, treeFresh, err := openPageStore(cfg.TreePath, layout.innerPageSize(), treeFileMagic)
	if err != nil {
		return nil, errors.Wrap(err, "open tree file")
	}
	dataStore, dataFresh, err := openPageStore(cfg.DataPath, layout.leafPageSize(), dataFileMagic)
	if err != nil {
		treeStore.close()
		return nil, errors.Wrap(err, "open data file")
	}

	treeFree, err := openRecycler(cfg.TreePath+".free", cfg.RecyclerCapacity)
	if err != nil {
		treeStore.close()
		dataStore.close()
		return nil, errors.Wrap(err, "open tree recycler")
	}
	dataFree, err := openRecycler(cfg.DataPath+".free", cfg.RecyclerCapacity)
	if err != nil {
		treeStore.close()
		dataStore.close()
		treeFree.close()
		return nil, errors.Wrap(err, "open data recycler")
	}

	t := &treeManager{
		layout:    layout,
		keyCmp:    cfg.KeyComparator,
		valCmp:    cfg.ValueComparator,
		treeStore: treeStore,
		dataStore: dataStore,
		treeFree:  treeFree,
		dataFree:  dataFree,
		log:       log,
	}
	t.treeCache = newPageCache(cfg.TreeCacheSize, func(p cachedPage) error {
		return t.writeInner(p.(*InnerPage))
	})
	t.dataCache = newPageCache(cfg.DataCacheSize, func(p cachedPage) error {
		return t.writeLeaf(p.(*LeafPage))
	})

	if treeFresh != dataFresh {
		treeStore.close()
		dataStore.close()
		treeFree.close()
		dataFree.close()
		return nil, common.ErrCorruptFile
	}

	if treeFresh {
		rootAddr, err := dataStore.allocate()
		if err != nil {
			return nil, err
		}
		root := newLeafPage(rootAddr, layout)
		if err := t.writeLeaf(root); err != nil {
			return nil, err
		}
		root.dirty = false
		t.rootIsLeaf = true
		t.rootLeaf = root
		treeStore.setRoot(rootAddr, true)
		if err := treeStore.flushHeader(); err != nil {
			return nil, err
		}
	} else {
		rootAddr, rootIsLeaf := treeStore.root()
		t.rootIsLeaf = rootIsLeaf
		if rootIsLeaf {
			root, err := t.fetchLeaf(rootAddr)
			if err != nil {
				return nil, err
			}
			t.rootLeaf = root
		} else {
			root, err := t.fetchInner(rootAddr)
			if err != nil {
				return nil, err
			}
			t.rootInner = root
		}
		// count is not persisted across reopen: a reopened index starts
		// Len() at 0 and moves it only by the inserts and erases made
		// after the reopen, so entries already on disk are never counted.
		// This matches the "no incremental metadata beyond the root"
		// durability stance.
	}

	log.Debug("index opened", zap.String("tree_file", cfg.TreePath), zap.String("data_file", cfg.DataPath))

	return &Index{cfg: cfg, tree: t, log: log}, nil
}

func (idx *Index) poisoned() error {
	if idx.closed.Load() {
		return common.ErrClosed
	}
	return nil
}

// poison permanently closes the index in response to a fatal I/O
// error, matching the teacher's closed.Swap one-way-door pattern: once
// poisoned, every subsequent call returns ErrClosed rather than
// retrying.
func (idx *Index) poison(cause error) error {
	if idx.closed.CompareAndSwap(false, true) {
		idx.log.Error("index poisoned by I/O failure", zap.Error(cause))
	}
	return cause
}

// Find returns the value of every entry with the given key, in
// ascending (key, value) order. A key with no entries yields an empty,
// non-nil-error result.
func (idx *Index) Find(key []byte) ([][]byte, error) {
	if err := idx.poisoned(); err != nil {
		return nil, err
	}
	values, err := idx.tree.find(key)
	if err != nil {
		return nil, idx.poison(err)
	}
	return values, nil
}

// Insert adds (key, value) to the index. A key or value of the wrong
// width is a plain caller error, not a fatal condition — it is returned
// as-is, without poisoning the index the way an I/O failure does.
func (idx *Index) Insert(key, value []byte) error {
	if err := idx.poisoned(); err != nil {
		return err
	}
	if err := validateEntry(Entry{Key: key, Value: value}, idx.tree.layout); err != nil {
		return err
	}
	if err := idx.tree.insert(key, value); err != nil {
		return idx.poison(err)
	}
	return nil
}

// Erase removes the exact (key, value) pair. Erasing a pair that is
// not present is a silent no-op, per spec.md §7. As with Insert, a
// wrong-width key or value is a caller error and does not poison the
// index.
func (idx *Index) Erase(key, value []byte) error {
	if err := idx.poisoned(); err != nil {
		return err
	}
	if err := validateEntry(Entry{Key: key, Value: value}, idx.tree.layout); err != nil {
		return err
	}
	if err := idx.tree.erase(key, value); err != nil {
		return idx.poison(err)
	}
	return nil
}

// Len reports the number of entries inserted minus the number erased
// since the index was opened (see Open's note on count not surviving a
// reopen).
func (idx *Index) Len() int64 {
	return idx.tree.len()
}

// Stats reports counters cmd/benchmark uses to compare layouts the way
// the teacher's engines report Stats() for its own comparison harness.
// WriteAmp is left for the caller to fill in from successive Stats
// snapshots (bytes of disk growth over bytes the caller asked to
// write), since the index itself has no notion of a benchmark's logical
// write size.
func (idx *Index) Stats() common.Stats {
	t := idx.tree
	treePages := int64(t.treeStore.nextAddr)
	leafPages := int64(t.dataStore.nextAddr)
	treeBytes := int64(t.treeStore.pageSize)*treePages + storeHeaderSize
	dataBytes := int64(t.dataStore.pageSize)*leafPages + storeHeaderSize

	return common.Stats{
		NumEntries:    t.count,
		NumTreePages:  treePages,
		NumLeafPages:  leafPages,
		TotalDiskSize: treeBytes + dataBytes,
		CacheHits:     t.treeCache.hits + t.dataCache.hits,
		CacheMisses:   t.treeCache.misses + t.dataCache.misses,
	}
}

// Close flushes the pinned root, drains both page caches (writing
// back any dirty page), persists both recyclers, and closes both
// files. Order: the root first, then both caches, then each store's
// header together with its file, then the recyclers.
func (idx *Index) Close() error {
	if idx.closed.Swap(true) {
		return nil
	}

	t := idx.tree
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if t.rootIsLeaf {
		record(t.writeLeaf(t.rootLeaf))
	} else {
		record(t.writeInner(t.rootInner))
	}

	record(t.treeCache.close())
	record(t.dataCache.close())

	rootAddr := uint32(0)
	if t.rootIsLeaf {
		rootAddr = t.rootLeaf.address
	} else {
		rootAddr = t.rootInner.address
	}
	t.treeStore.setRoot(rootAddr, t.rootIsLeaf)

	record(t.treeStore.close())
	record(t.dataStore.close())
	record(t.treeFree.close())
	record(t.dataFree.close())

	idx.log.Debug("index closed")
	return firstErr
}
