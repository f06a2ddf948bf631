package btree

import (
	"encoding/binary"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
)

// storeHeaderSize is the fixed byte width of a pageStore's header:
//
//	[magic:4][pageSize:4][nextAddr:4][rootAddr:4][rootIsLeaf:4]
//
// rootIsLeaf is only meaningful on the tree file's store: the root of
// the whole index may itself be a leaf page (a tree small enough to
// fit in one page) living in the data file, or an inner page living
// in the tree file (spec.md §3's pinned-root discussion). The data
// file's store carries the field too, unused, to keep one header
// layout for both files.
const storeHeaderSize = 20

// pageStore owns one backing file (spec.md §6: either the tree file or
// the data file) and the fixed-size paged region that follows its
// header. It never retries a failed I/O operation: once any read or
// write fails, the store is poisoned and every subsequent call returns
// the poisoning error, per spec.md §7 ("any I/O error is fatal").
//
// Grounded on the teacher's Pager, trimmed to the single-threaded,
// no-WAL contract spec.md requires: no mutex (spec.md §5 — no sharing,
// no locks), no dirty-page cache (cache.go owns that layer above
// this one), one page size per store instead of one global PageSize
// constant.
type pageStore struct {
	file       *os.File
	pageSize   int
	magic      uint32
	nextAddr   uint32
	rootAddr   uint32
	rootIsLeaf bool
	poisonErr  atomic.Value // error
	poisoned   atomic.Bool
}

// openPageStore opens path, creating and initializing a fresh header if
// it does not exist. pageSize is the caller's fixed per-page size for
// this file (innerPageSize or leafPageSize, computed from Layout).
func openPageStore(path string, pageSize int, magic uint32) (s *pageStore, created bool, err error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, false, errors.Wrapf(err, "open %s", path)
		}
		s, err = createPageStore(path, pageSize, magic)
		return s, true, err
	}

	s = &pageStore{file: file, pageSize: pageSize, magic: magic}
	if err := s.readHeader(); err != nil {
		file.Close()
		return nil, false, err
	}
	return s, false, nil
}

func createPageStore(path string, pageSize int, magic uint32) (*pageStore, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}

	s := &pageStore{
		file:     file,
		pageSize: pageSize,
		magic:    magic,
		nextAddr: 0,
		rootAddr: 0,
	}
	if err := s.flushHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return s, nil
}

func (s *pageStore) readHeader() error {
	buf := make([]byte, storeHeaderSize)
	n, err := s.file.ReadAt(buf, 0)
	if err != nil || n != storeHeaderSize {
		return s.poison(errors.Wrap(err, "read header"))
	}

	magic := binary.BigEndian.Uint32(buf[0:])
	if magic != s.magic {
		return s.poison(errors.Errorf("%s: bad magic", s.file.Name()))
	}
	s.pageSize = int(binary.BigEndian.Uint32(buf[4:]))
	s.nextAddr = binary.BigEndian.Uint32(buf[8:])
	s.rootAddr = binary.BigEndian.Uint32(buf[12:])
	s.rootIsLeaf = binary.BigEndian.Uint32(buf[16:]) != 0
	return nil
}

func (s *pageStore) flushHeader() error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	buf := make([]byte, storeHeaderSize)
	binary.BigEndian.PutUint32(buf[0:], s.magic)
	binary.BigEndian.PutUint32(buf[4:], uint32(s.pageSize))
	binary.BigEndian.PutUint32(buf[8:], s.nextAddr)
	binary.BigEndian.PutUint32(buf[12:], s.rootAddr)
	if s.rootIsLeaf {
		binary.BigEndian.PutUint32(buf[16:], 1)
	}

	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return s.poison(errors.Wrap(err, "write header"))
	}
	return nil
}

func (s *pageStore) offset(addr uint32) int64 {
	return storeHeaderSize + int64(addr)*int64(s.pageSize)
}

// read loads the raw bytes of the page at addr. The caller decodes it
// with decodeInnerPage or decodeLeafPage.
func (s *pageStore) read(addr uint32) ([]byte, error) {
	if err := s.checkPoisoned(); err != nil {
		return nil, err
	}
	buf := make([]byte, s.pageSize)
	n, err := s.file.ReadAt(buf, s.offset(addr))
	if err != nil || n != s.pageSize {
		return nil, s.poison(errors.Wrapf(err, "read page %d", addr))
	}
	return buf, nil
}

// write persists data (exactly pageSize bytes) at addr.
func (s *pageStore) write(addr uint32, data []byte) error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	if _, err := s.file.WriteAt(data, s.offset(addr)); err != nil {
		return s.poison(errors.Wrapf(err, "write page %d", addr))
	}
	return nil
}

// allocate returns a brand-new address at the end of the paged region.
// Callers must first consult the recycler for a reusable address;
// allocate is the fallback when the recycler is empty (spec.md §4.2).
func (s *pageStore) allocate() (uint32, error) {
	if err := s.checkPoisoned(); err != nil {
		return 0, err
	}
	addr := s.nextAddr
	s.nextAddr++
	return addr, nil
}

func (s *pageStore) root() (addr uint32, isLeaf bool) { return s.rootAddr, s.rootIsLeaf }

func (s *pageStore) setRoot(addr uint32, isLeaf bool) {
	s.rootAddr = addr
	s.rootIsLeaf = isLeaf
}

func (s *pageStore) close() error {
	if s.poisoned.Load() {
		return s.file.Close()
	}
	if err := s.flushHeader(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// poison marks the store permanently failed and returns the wrapped
// error for the caller to propagate. Once poisoned a store never
// recovers, matching the teacher's closed.Swap one-way-door pattern.
func (s *pageStore) poison(err error) error {
	if err == nil {
		return nil
	}
	if s.poisoned.CompareAndSwap(false, true) {
		s.poisonErr.Store(err)
	}
	return err
}

func (s *pageStore) checkPoisoned() error {
	if s.poisoned.Load() {
		if e, ok := s.poisonErr.Load().(error); ok {
			return e
		}
		return errors.New("page store poisoned")
	}
	return nil
}
