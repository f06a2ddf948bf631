package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/kestrelkv/dupbtree/common"
)

// Page kinds, per spec.md §3: an inner page indexes either more inner pages
// or leaf pages (state distinguishes the two); a leaf page holds entries.
const (
	stateInner      byte = 0 // children are inner pages
	stateLeafParent byte = 1 // children are leaf pages

	pageTypeInner byte = 1
	pageTypeLeaf  byte = 2
)

// Inner page layout:
//
//	[type:1][state:1][sonNum:2][sonPos: M * 4][index: (M-1) * entrySize]
//
// Leaf page layout:
//
//	[type:1][reserved:1][dataNum:2][nextPos:4][storage: L * entrySize]
const (
	innerHeaderSize = 4
	leafHeaderSize  = 8
)

// noAddr marks "no such page" — the tail of a leaf chain, or an
// as-yet-unallocated root. Never itself a valid allocated address in
// practice (allocation starts at 0 and climbs by one).
const noAddr uint32 = ^uint32(0)

// Layout fixes M (max children per inner page) and L (max entries per
// leaf), and the byte width of keys and values, for the lifetime of an
// open index. Every page in the tree file is exactly innerPageSize() bytes;
// every page in the data file is exactly leafPageSize() bytes — the
// "fixed-size page layout" spec.md §3 requires, computed once instead of
// hardcoded the way the teacher hardcodes PageSize = 4096.
type Layout struct {
	MaxChildren    int // M
	MaxLeafEntries int // L
	KeySize        int
	ValueSize      int
}

func (l Layout) entrySize() int      { return l.KeySize + l.ValueSize }
func (l Layout) minChildren() int    { return (l.MaxChildren + 1) / 2 } // ceil(M/2)
func (l Layout) minLeafEntries() int { return (l.MaxLeafEntries + 1) / 2 }
func (l Layout) innerPageSize() int {
	return innerHeaderSize + l.MaxChildren*4 + (l.MaxChildren-1)*l.entrySize()
}
func (l Layout) leafPageSize() int {
	return leafHeaderSize + l.MaxLeafEntries*l.entrySize()
}

// Entry is a (key, value) pair, copied by value on every move between
// pages per spec.md §3 "Lifecycle".
type Entry struct {
	Key   []byte
	Value []byte
}

func (e Entry) clone() Entry {
	k := make([]byte, len(e.Key))
	v := make([]byte, len(e.Value))
	copy(k, e.Key)
	copy(v, e.Value)
	return Entry{Key: k, Value: v}
}

// Comparator is the caller-supplied total order required by spec.md §6.
type Comparator func(a, b []byte) int

// DefaultComparator orders fixed-width slots byte-lexicographically.
func DefaultComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

// compareEntries orders by (key, value) lexicographically, per spec.md §3.
func compareEntries(a, b Entry, keyCmp, valCmp Comparator) int {
	if c := keyCmp(a.Key, b.Key); c != 0 {
		return c
	}
	return valCmp(a.Value, b.Value)
}

func validateEntry(e Entry, l Layout) error {
	if len(e.Key) != l.KeySize {
		return common.ErrInvalidKeySize
	}
	if len(e.Value) != l.ValueSize {
		return common.ErrInvalidValueSize
	}
	return nil
}

// InnerPage indexes son_num children via son_pos, separated by son_num-1
// entries in index, per spec.md §3.
type InnerPage struct {
	address uint32
	state   byte
	sonNum  int
	sonPos  []uint32
	index   []Entry
	dirty   bool
}

func newInnerPage(address uint32, state byte, l Layout) *InnerPage {
	return &InnerPage{
		address: address,
		state:   state,
		sonPos:  make([]uint32, 0, l.MaxChildren),
		index:   make([]Entry, 0, l.MaxChildren-1),
		dirty:   true,
	}
}

func (p *InnerPage) isFull(l Layout) bool { return p.sonNum >= l.MaxChildren }

// isOverflow reports whether the page has reached its child capacity.
// Splits are triggered when occupancy reaches M, not M+1 (spec.md §4.2),
// so insert callers push a child in unconditionally and then check
// isOverflow, rather than pre-checking isFull, since the in-memory
// slice can briefly hold the Mth child before the split that follows.
func (p *InnerPage) isOverflow(l Layout) bool { return p.sonNum >= l.MaxChildren }
func (p *InnerPage) isUnderflow(l Layout) bool {
	return p.sonNum < l.minChildren()
}

// childIndexFor returns the index of the first separator strictly greater
// than probe: the child whose range [index[i-1], index[i]) holds probe.
// An entry equal to a separator lives in the child to that separator's
// right (invariant 4). For find's key-only probe (an empty value, below
// every stored value) this is the smallest separator not less than probe.
func (p *InnerPage) childIndexFor(probe Entry, keyCmp, valCmp Comparator) int {
	lo, hi := 0, len(p.index)
	for lo < hi {
		mid := (lo + hi) / 2
		if compareEntries(p.index[mid], probe, keyCmp, valCmp) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// insertChildAt splices separator `sep` and the address of the new right
// sibling into slot pos (sonPos[pos] becomes the new child), preserving
// invariant 4 (index[i] == min of subtree son_pos[i+1]).
func (p *InnerPage) insertChildAt(pos int, sep Entry, childAddr uint32) {
	p.sonPos = append(p.sonPos, 0)
	copy(p.sonPos[pos+1:], p.sonPos[pos:len(p.sonPos)-1])
	p.sonPos[pos] = childAddr

	p.index = append(p.index, Entry{})
	copy(p.index[pos:], p.index[pos-1:len(p.index)-1])
	p.index[pos-1] = sep

	p.sonNum++
	p.dirty = true
}

// removeChildAt removes the child at sonPos[idx] and the separator that
// precedes it (index[idx-1]), used by merges (spec.md §4.4 erase, step 3/4).
func (p *InnerPage) removeChildAt(idx int) {
	copy(p.sonPos[idx:], p.sonPos[idx+1:])
	p.sonPos = p.sonPos[:len(p.sonPos)-1]

	sepIdx := idx - 1
	if sepIdx < 0 {
		sepIdx = 0
	}
	if len(p.index) > 0 {
		copy(p.index[sepIdx:], p.index[sepIdx+1:])
		p.index = p.index[:len(p.index)-1]
	}

	p.sonNum--
	p.dirty = true
}

func encodeInnerPage(p *InnerPage, l Layout) []byte {
	buf := make([]byte, l.innerPageSize())
	buf[0] = pageTypeInner
	buf[1] = p.state
	binary.BigEndian.PutUint16(buf[2:], uint16(p.sonNum))

	off := innerHeaderSize
	for i := 0; i < l.MaxChildren; i++ {
		if i < len(p.sonPos) {
			binary.BigEndian.PutUint32(buf[off:], p.sonPos[i])
		}
		off += 4
	}
	for i := 0; i < l.MaxChildren-1; i++ {
		if i < len(p.index) {
			e := p.index[i]
			copy(buf[off:off+l.KeySize], e.Key)
			copy(buf[off+l.KeySize:off+l.entrySize()], e.Value)
		}
		off += l.entrySize()
	}
	return buf
}

func decodeInnerPage(address uint32, data []byte, l Layout) (*InnerPage, error) {
	if len(data) != l.innerPageSize() || data[0] != pageTypeInner {
		return nil, common.ErrCorruptFile
	}
	p := &InnerPage{
		address: address,
		state:   data[1],
		sonNum:  int(binary.BigEndian.Uint16(data[2:])),
	}
	off := innerHeaderSize
	p.sonPos = make([]uint32, 0, l.MaxChildren)
	for i := 0; i < l.MaxChildren; i++ {
		if i < p.sonNum {
			p.sonPos = append(p.sonPos, binary.BigEndian.Uint32(data[off:]))
		}
		off += 4
	}
	p.index = make([]Entry, 0, l.MaxChildren-1)
	for i := 0; i < l.MaxChildren-1; i++ {
		if i < p.sonNum-1 {
			key := make([]byte, l.KeySize)
			val := make([]byte, l.ValueSize)
			copy(key, data[off:off+l.KeySize])
			copy(val, data[off+l.KeySize:off+l.entrySize()])
			p.index = append(p.index, Entry{Key: key, Value: val})
		}
		off += l.entrySize()
	}
	return p, nil
}

// LeafPage holds data_num entries in ascending order plus next_pos, the
// forward pointer used for duplicate-key scans (spec.md §3, §4.4).
type LeafPage struct {
	address uint32
	dataNum int
	nextPos uint32
	storage []Entry
	dirty   bool
}

func newLeafPage(address uint32, l Layout) *LeafPage {
	return &LeafPage{
		address: address,
		nextPos: noAddr,
		storage: make([]Entry, 0, l.MaxLeafEntries),
		dirty:   true,
	}
}

func (p *LeafPage) isFull(l Layout) bool { return p.dataNum >= l.MaxLeafEntries }

// isOverflow mirrors InnerPage.isOverflow: splits trigger at exactly L
// entries (spec.md §4.2), and entries are inserted first, checked
// after, since storage can transiently hold that many before the split.
func (p *LeafPage) isOverflow(l Layout) bool { return p.dataNum >= l.MaxLeafEntries }
func (p *LeafPage) isUnderflow(l Layout) bool {
	return p.dataNum < l.minLeafEntries()
}

// lowerBound returns the index of the first entry >= probe, per the
// "strict binary search over the composite order" of spec.md §4.4.
func (p *LeafPage) lowerBound(probe Entry, keyCmp, valCmp Comparator) int {
	lo, hi := 0, len(p.storage)
	for lo < hi {
		mid := (lo + hi) / 2
		if compareEntries(p.storage[mid], probe, keyCmp, valCmp) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// searchExact returns (index, true) if e is present, else (insertion
// point, false).
func (p *LeafPage) searchExact(e Entry, keyCmp, valCmp Comparator) (int, bool) {
	idx := p.lowerBound(e, keyCmp, valCmp)
	if idx < len(p.storage) && compareEntries(p.storage[idx], e, keyCmp, valCmp) == 0 {
		return idx, true
	}
	return idx, false
}

func (p *LeafPage) insertAt(idx int, e Entry) {
	p.storage = append(p.storage, Entry{})
	copy(p.storage[idx+1:], p.storage[idx:len(p.storage)-1])
	p.storage[idx] = e.clone()
	p.dataNum++
	p.dirty = true
}

func (p *LeafPage) deleteAt(idx int) {
	copy(p.storage[idx:], p.storage[idx+1:])
	p.storage = p.storage[:len(p.storage)-1]
	p.dataNum--
	p.dirty = true
}

func encodeLeafPage(p *LeafPage, l Layout) []byte {
	buf := make([]byte, l.leafPageSize())
	buf[0] = pageTypeLeaf
	binary.BigEndian.PutUint16(buf[2:], uint16(p.dataNum))
	binary.BigEndian.PutUint32(buf[4:], p.nextPos)

	off := leafHeaderSize
	for i := 0; i < l.MaxLeafEntries; i++ {
		if i < len(p.storage) {
			e := p.storage[i]
			copy(buf[off:off+l.KeySize], e.Key)
			copy(buf[off+l.KeySize:off+l.entrySize()], e.Value)
		}
		off += l.entrySize()
	}
	return buf
}

func decodeLeafPage(address uint32, data []byte, l Layout) (*LeafPage, error) {
	if len(data) != l.leafPageSize() || data[0] != pageTypeLeaf {
		return nil, common.ErrCorruptFile
	}
	p := &LeafPage{
		address: address,
		dataNum: int(binary.BigEndian.Uint16(data[2:])),
		nextPos: binary.BigEndian.Uint32(data[4:]),
	}
	off := leafHeaderSize
	p.storage = make([]Entry, 0, l.MaxLeafEntries)
	for i := 0; i < l.MaxLeafEntries; i++ {
		if i < p.dataNum {
			key := make([]byte, l.KeySize)
			val := make([]byte, l.ValueSize)
			copy(key, data[off:off+l.KeySize])
			copy(val, data[off+l.KeySize:off+l.entrySize()])
			p.storage = append(p.storage, Entry{Key: key, Value: val})
		}
		off += l.entrySize()
	}
	return p, nil
}
