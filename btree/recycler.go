package btree

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// recyclerMagic is written to the free-page file the same way
// storeHeaderSize's magic guards the page store — a cheap sanity check
// on open, not a format version scheme (spec.md carries no versioning).
const recyclerMagic = 0x46524545 // "FREE"

// recyclerHeaderSize is [magic:4][capacity:4][size:4].
const recyclerHeaderSize = 12

// recycler is a bounded LIFO of freed page addresses, one per backing
// file, persisted as:
//
//	[magic:4][capacity:4][size:4][addr0..addrN-1:4 each][unused]
//
// per spec.md §4.2 and §6. push is a documented no-op once the
// recycler is at capacity: the freed address is simply never reused
// again, a deliberate leak rather than an error (spec.md's open
// question on recycler exhaustion, resolved here as "silently
// absorbed").
type recycler struct {
	file     *os.File
	capacity int
	addrs    []uint32
}

func openRecycler(path string, capacity int) (*recycler, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		return createRecycler(path, capacity)
	}

	r := &recycler{file: file, capacity: capacity}
	if err := r.load(); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func createRecycler(path string, capacity int) (*recycler, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	r := &recycler{file: file, capacity: capacity, addrs: make([]uint32, 0, capacity)}
	if err := r.persist(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return r, nil
}

func (r *recycler) recyclerSize() int {
	return recyclerHeaderSize + r.capacity*4
}

func (r *recycler) load() error {
	buf := make([]byte, recyclerHeaderSize)
	if _, err := r.file.ReadAt(buf, 0); err != nil {
		return errors.Wrap(err, "read recycler header")
	}
	if binary.BigEndian.Uint32(buf[0:]) != recyclerMagic {
		return errors.New("corrupt recycler file")
	}
	r.capacity = int(binary.BigEndian.Uint32(buf[4:]))
	size := int(binary.BigEndian.Uint32(buf[8:]))

	body := make([]byte, size*4)
	if size > 0 {
		if _, err := r.file.ReadAt(body, recyclerHeaderSize); err != nil {
			return errors.Wrap(err, "read recycler body")
		}
	}
	r.addrs = make([]uint32, size, r.capacity)
	for i := 0; i < size; i++ {
		r.addrs[i] = binary.BigEndian.Uint32(body[i*4:])
	}
	return nil
}

// persist rewrites the whole recycler file. Called when the file is
// created and on close; push and pop change only the in-memory stack.
// The file is small (bounded by capacity) so a full rewrite is
// the simplest correct approach, matching spec.md's "best-effort
// durability, no incremental journaling" stance.
func (r *recycler) persist() error {
	buf := make([]byte, recyclerHeaderSize+len(r.addrs)*4)
	binary.BigEndian.PutUint32(buf[0:], recyclerMagic)
	binary.BigEndian.PutUint32(buf[4:], uint32(r.capacity))
	binary.BigEndian.PutUint32(buf[8:], uint32(len(r.addrs)))
	off := recyclerHeaderSize
	for _, a := range r.addrs {
		binary.BigEndian.PutUint32(buf[off:], a)
		off += 4
	}
	if _, err := r.file.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "persist recycler")
	}
	return nil
}

// push offers addr for reuse. Past capacity it is a silent no-op —
// the address leaks rather than erroring, matching spec.md §7.
func (r *recycler) push(addr uint32) {
	if len(r.addrs) >= r.capacity {
		return
	}
	r.addrs = append(r.addrs, addr)
}

// pop returns the most recently freed address (LIFO), or (0, false)
// when empty — the "empty-signal" spec.md §4.2 calls for.
func (r *recycler) pop() (uint32, bool) {
	if len(r.addrs) == 0 {
		return 0, false
	}
	last := len(r.addrs) - 1
	addr := r.addrs[last]
	r.addrs = r.addrs[:last]
	return addr, true
}

func (r *recycler) close() error {
	if err := r.persist(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
