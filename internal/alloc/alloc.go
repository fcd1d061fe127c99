// Package alloc hands out regions of an arena and takes them back.
//
// Requests are rounded up to a power-of-two size class (16 bytes and up).
// Each class keeps a singly linked free list inside the arena: the first
// word of a released block holds the offset of the next free block of the
// same class, and the list heads live in the superblock, so released space
// is reused across remounts. Fresh space comes from a watermark cursor that
// only moves forward.
//
// The allocator never zeroes memory; callers initialize every region they
// receive.
package alloc

import (
	"errors"
	"math/bits"

	"arenafs/internal/arena"
	"arenafs/internal/logging"
)

// MinClassShift is log2 of the smallest block handed out.
const MinClassShift = 4

var (
	logger = logging.GetLogger().WithPrefix("alloc")

	// ErrOutOfSpace indicates that no free block and no unused arena space
	// can hold the request.
	ErrOutOfSpace = errors.New("alloc: out of space")
)

// ClassOf returns the size class serving requests of n bytes.
func ClassOf(n uint64) (int, bool) {
	if n <= 1<<MinClassShift {
		return 0, true
	}
	c := bits.Len64(n-1) - MinClassShift
	if c >= arena.NumClasses {
		return 0, false
	}
	return c, true
}

// ClassSize returns the block size of class c.
func ClassSize(c int) uint64 {
	return 1 << (c + MinClassShift)
}

// Capacity returns the number of bytes actually reserved for a request of
// n bytes. Capacity(0) is 0.
func Capacity(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	c, ok := ClassOf(n)
	if !ok {
		return 0
	}
	return ClassSize(c)
}

// Allocator carves blocks out of one arena. It keeps no state of its own
// outside the arena's superblock.
type Allocator struct {
	a  *arena.Arena
	sb arena.Superblock
}

// New returns an allocator over a formatted (or being formatted) arena.
func New(a *arena.Arena) *Allocator {
	return &Allocator{a: a, sb: a.Superblock()}
}

// Allocate reserves Capacity(n) bytes and returns their offset. A zero
// length yields arena.Nil.
func (al *Allocator) Allocate(n uint64) (arena.Offset, error) {
	if n == 0 {
		return arena.Nil, nil
	}
	c, ok := ClassOf(n)
	if !ok {
		return arena.Nil, ErrOutOfSpace
	}

	if off := al.pop(c); off != arena.Nil {
		logger.Trace("Reused %d-byte block at %d", ClassSize(c), off)
		return off, nil
	}

	size := ClassSize(c)
	cursor := al.sb.Cursor()
	total := al.a.Size()
	if size <= total && cursor <= total-size {
		al.sb.SetCursor(cursor + size)
		logger.Trace("Carved %d-byte block at %d", size, cursor)
		return arena.Offset(cursor), nil
	}

	// Watermark exhausted: split the smallest larger free block.
	for k := c + 1; k < arena.NumClasses; k++ {
		off := al.pop(k)
		if off == arena.Nil {
			continue
		}
		for j := k - 1; j >= c; j-- {
			al.push(j, off+arena.Offset(ClassSize(j)))
		}
		logger.Trace("Split %d-byte block at %d for a %d-byte request", ClassSize(k), off, size)
		return off, nil
	}

	logger.Debug("Out of space allocating %d bytes (cursor=%d, free=%d)", n, cursor, al.sb.FreeBytes())
	return arena.Nil, ErrOutOfSpace
}

// Release returns a block obtained from Allocate(n) to its free list. n
// must be the length originally requested or the block's capacity.
// Releasing arena.Nil is a no-op.
func (al *Allocator) Release(off arena.Offset, n uint64) {
	if off == arena.Nil || n == 0 {
		return
	}
	c, ok := ClassOf(n)
	if !ok {
		return
	}
	al.push(c, off)
	logger.Trace("Released %d-byte block at %d", ClassSize(c), off)
}

func (al *Allocator) pop(c int) arena.Offset {
	head := al.sb.FreeHead(c)
	if head == arena.Nil {
		return arena.Nil
	}
	next := arena.Offset(al.a.Uint64(head))
	al.sb.SetFreeHead(c, next)
	al.sb.SetFreeBytes(al.sb.FreeBytes() - ClassSize(c))
	return head
}

func (al *Allocator) push(c int, off arena.Offset) {
	al.a.PutUint64(off, uint64(al.sb.FreeHead(c)))
	al.sb.SetFreeHead(c, off)
	al.sb.SetFreeBytes(al.sb.FreeBytes() + ClassSize(c))
}

// Free returns the number of bytes still available: space above the
// watermark plus blocks parked on free lists.
func (al *Allocator) Free() uint64 {
	return al.a.Size() - al.sb.Cursor() + al.sb.FreeBytes()
}

// Used returns the number of bytes handed out and not released,
// including the superblock.
func (al *Allocator) Used() uint64 {
	return al.a.Size() - al.Free()
}
