package btree

import (
	"container/list"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// cachedPage is satisfied by *InnerPage and *LeafPage: anything the
// page cache can hold, evict, and write back.
type cachedPage interface {
	pageAddr() uint32
	isDirty() bool
}

func (p *InnerPage) pageAddr() uint32 { return p.address }
func (p *InnerPage) isDirty() bool    { return p.dirty }
func (p *LeafPage) pageAddr() uint32  { return p.address }
func (p *LeafPage) isDirty() bool     { return p.dirty }

type slotState byte

const (
	slotEmpty slotState = iota
	slotOccupied
	slotTombstone
)

type cacheSlot struct {
	state slotState
	addr  uint32
	elem  *list.Element
}

type cacheEntry struct {
	addr uint32
	page cachedPage
}

// pageCache is a bounded LRU cache of decoded pages, one per backing
// file (spec.md §4.3). Lookup uses an open-addressed table hashed with
// xxhash and probed at a fixed power-of-two stride (1, 2, 4, 8, ...)
// rather than chaining, per spec.md's description of the cache's
// lookup structure; eviction order is kept separately in a
// container/list, the same structure the teacher's Pager uses for its
// LRU list.
//
// get removes a page from the cache and hands ownership to the caller
// (spec.md §4.3 "get transfers ownership"); put re-inserts it,
// possibly evicting (and, if dirty, writing back) the current LRU
// victim to make room. There is no aliasing: a page is either held by
// the cache or by a caller, never both.
type pageCache struct {
	capacity  int
	slots     []cacheSlot
	mask      uint32
	order     *list.List
	count     int
	writeBack func(cachedPage) error

	hits   int64
	misses int64
}

func newPageCache(capacity int, writeBack func(cachedPage) error) *pageCache {
	size := nextPow2(capacity * 4)
	if size < 8 {
		size = 8
	}
	return &pageCache{
		capacity:  capacity,
		slots:     make([]cacheSlot, size),
		mask:      uint32(size - 1),
		order:     list.New(),
		writeBack: writeBack,
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func hashAddr(addr uint32) uint32 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], addr)
	return uint32(xxhash.Sum64(b[:]))
}

// probe walks the fixed power-of-two stride sequence starting at
// hashAddr(addr), reporting the slot holding addr if present, and the
// first empty-or-tombstone slot seen along the way (a candidate for
// insertion).
func (c *pageCache) probe(addr uint32) (found uint32, hasFound bool, insertAt uint32, hasInsert bool) {
	idx := hashAddr(addr) & c.mask
	stride := uint32(1)
	for i := 0; i < len(c.slots); i++ {
		s := &c.slots[idx]
		switch s.state {
		case slotEmpty:
			if !hasInsert {
				insertAt, hasInsert = idx, true
			}
			return 0, false, insertAt, hasInsert
		case slotTombstone:
			if !hasInsert {
				insertAt, hasInsert = idx, true
			}
		case slotOccupied:
			if s.addr == addr {
				return idx, true, 0, false
			}
		}
		idx = (idx + stride) & c.mask
		stride <<= 1
		if stride == 0 {
			stride = 1
		}
	}
	return 0, false, insertAt, hasInsert
}

// get detaches the cached page at addr, if present, and returns it to
// the caller. The cache no longer tracks it until a subsequent put.
func (c *pageCache) get(addr uint32) (cachedPage, bool) {
	slotIdx, found, _, _ := c.probe(addr)
	if !found {
		c.misses++
		return nil, false
	}
	c.hits++
	s := &c.slots[slotIdx]
	entry := s.elem.Value.(*cacheEntry)
	c.order.Remove(s.elem)
	s.state = slotTombstone
	s.elem = nil
	c.count--
	return entry.page, true
}

// put inserts page into the cache at the front of the LRU order,
// evicting (and, if dirty, writing back) the current tail if the
// cache is at capacity.
func (c *pageCache) put(page cachedPage) error {
	addr := page.pageAddr()

	if c.count >= c.capacity {
		if err := c.evictOne(); err != nil {
			return err
		}
	}

	foundAt, found, insertAt, hasInsert := c.probe(addr)
	if found {
		// Reinserting an address already present is a caller bug
		// (get/put should always pair); overwrite defensively.
		s := &c.slots[foundAt]
		c.order.Remove(s.elem)
		c.count--
		insertAt, hasInsert = foundAt, true
	}
	if !hasInsert {
		if err := c.grow(); err != nil {
			return err
		}
		_, _, insertAt, hasInsert = c.probe(addr)
	}

	elem := c.order.PushFront(&cacheEntry{addr: addr, page: page})
	c.slots[insertAt] = cacheSlot{state: slotOccupied, addr: addr, elem: elem}
	c.count++
	return nil
}

// evictOne writes back (if dirty) and drops the least recently used
// page to make room for an incoming put.
func (c *pageCache) evictOne() error {
	back := c.order.Back()
	if back == nil {
		return nil
	}
	entry := back.Value.(*cacheEntry)
	if entry.page.isDirty() {
		if err := c.writeBack(entry.page); err != nil {
			return err
		}
	}
	c.order.Remove(back)
	c.count--

	slotIdx, found, _, _ := c.probe(entry.addr)
	if found {
		c.slots[slotIdx].state = slotTombstone
		c.slots[slotIdx].elem = nil
	}
	return nil
}

// grow doubles the open-addressed table and rehashes live entries;
// put calls it when every slot along the incoming address's probe
// sequence is occupied (a tombstone or empty slot would have served).
func (c *pageCache) grow() error {
	old := c.slots
	c.slots = make([]cacheSlot, len(old)*2)
	c.mask = uint32(len(c.slots) - 1)

	for i := range old {
		if old[i].state != slotOccupied {
			continue
		}
		_, _, insertAt, _ := c.probe(old[i].addr)
		c.slots[insertAt] = old[i]
	}
	return nil
}

// close writes back every dirty page still held and drops them all.
func (c *pageCache) close() error {
	for e := c.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*cacheEntry)
		if entry.page.isDirty() {
			if err := c.writeBack(entry.page); err != nil {
				return err
			}
		}
	}
	c.order.Init()
	for i := range c.slots {
		c.slots[i] = cacheSlot{}
	}
	c.count = 0
	return nil
}
