package btree

import "go.uber.org/zap"

// Config configures a duplicate-key B+ tree index. It follows the
// teacher's pattern of a single struct with a documented-defaults
// constructor rather than functional options.
type Config struct {
	// TreePath and DataPath are the two backing files spec.md §6
	// describes: TreePath holds inner pages and the root; DataPath
	// holds leaf pages. Recycler state is persisted alongside each,
	// at TreePath+".free" and DataPath+".free".
	TreePath string
	DataPath string

	// MaxChildren is M, the maximum number of children an inner page
	// may hold. MaxLeafEntries is L, the maximum number of entries a
	// leaf page may hold. Both must be >= 3 for split/merge logic to
	// leave well-defined minimums.
	MaxChildren    int
	MaxLeafEntries int

	// KeySize and ValueSize fix the byte width of every key and value
	// slot; every Entry passed to Find/Insert/Erase must match both.
	KeySize   int
	ValueSize int

	// TreeCacheSize and DataCacheSize bound the LRU page cache kept in
	// front of each file (spec.md §4.3).
	TreeCacheSize int
	DataCacheSize int

	// RecyclerCapacity bounds the free-page list persisted alongside
	// each file (spec.md §4.2). Pages freed past this capacity leak
	// (spec.md's documented, accepted behavior).
	RecyclerCapacity int

	// KeyComparator and ValueComparator define the total order over
	// keys and, for duplicate keys, over values. Defaulted to
	// byte-lexicographic order if nil.
	KeyComparator   Comparator
	ValueComparator Comparator

	// Logger receives lifecycle and poison events. Defaults to a no-op
	// logger.
	Logger *zap.Logger
}

// DefaultConfig returns a Config with the given paths, key/value sizes,
// and the teacher's usual modest defaults for the remaining knobs.
func DefaultConfig(treePath, dataPath string, keySize, valueSize int) Config {
	return Config{
		TreePath:         treePath,
		DataPath:         dataPath,
		MaxChildren:      64,
		MaxLeafEntries:   64,
		KeySize:          keySize,
		ValueSize:        valueSize,
		TreeCacheSize:    256,
		DataCacheSize:    256,
		RecyclerCapacity: 1024,
		KeyComparator:    DefaultComparator,
		ValueComparator:  DefaultComparator,
		Logger:           zap.NewNop(),
	}
}

func (c Config) layout() Layout {
	return Layout{
		MaxChildren:    c.MaxChildren,
		MaxLeafEntries: c.MaxLeafEntries,
		KeySize:        c.KeySize,
		ValueSize:      c.ValueSize,
	}
}

func (c *Config) setDefaults() {
	if c.KeyComparator == nil {
		c.KeyComparator = DefaultComparator
	}
	if c.ValueComparator == nil {
		c.ValueComparator = DefaultComparator
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.MaxChildren == 0 {
		c.MaxChildren = 64
	}
	if c.MaxLeafEntries == 0 {
		c.MaxLeafEntries = 64
	}
	if c.TreeCacheSize == 0 {
		c.TreeCacheSize = 256
	}
	if c.DataCacheSize == 0 {
		c.DataCacheSize = 256
	}
	if c.RecyclerCapacity == 0 {
		c.RecyclerCapacity = 1024
	}
}
