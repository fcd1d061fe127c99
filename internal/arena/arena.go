// Package arena provides offset-addressed access to the fixed-size byte
// region that holds a complete filesystem image.
//
// Every reference stored inside the image is an Offset relative to the
// start of the region, never a native address, so the same bytes can be
// mapped at any base address (for example after a remount) without
// invalidating anything. Arena is the only type that turns an Offset into
// a location; the rest of the engine goes through it.
package arena

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/tchajed/marshal"
)

// Offset is a byte position inside the arena.
type Offset uint64

// Nil is the offset stored for an absent region.
const Nil Offset = 0

// WordSize is the width of every integer field stored in the arena.
const WordSize = 8

var (
	// ErrBadArena indicates a nil or empty backing region.
	ErrBadArena = errors.New("arena: invalid backing region")

	// ErrNotInArena indicates a location that does not belong to the arena.
	ErrNotInArena = errors.New("arena: location outside arena")
)

// BoundsError describes an access that would leave the arena. Accessors
// panic with a *BoundsError; callers that must survive a corrupt image
// recover it at their operation boundary.
type BoundsError struct {
	Off  Offset
	Len  uint64
	Size uint64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("arena: access [%d, +%d) outside arena of %d bytes", e.Off, e.Len, e.Size)
}

// Arena wraps the raw image bytes.
type Arena struct {
	buf []byte
}

// New wraps buf. The arena does not copy buf; writes go straight to it.
func New(buf []byte) (*Arena, error) {
	if len(buf) == 0 {
		return nil, ErrBadArena
	}
	return &Arena{buf: buf}, nil
}

// Size returns the arena size in bytes.
func (a *Arena) Size() uint64 {
	return uint64(len(a.buf))
}

// Image returns the raw bytes backing the arena.
func (a *Arena) Image() []byte {
	return a.buf
}

func (a *Arena) check(off Offset, n uint64) {
	size := a.Size()
	if uint64(off) > size || n > size-uint64(off) {
		panic(&BoundsError{Off: off, Len: n, Size: size})
	}
}

// Contains reports whether [off, off+n) lies inside the arena.
func (a *Arena) Contains(off Offset, n uint64) bool {
	size := a.Size()
	return uint64(off) <= size && n <= size-uint64(off)
}

// Locate returns the n bytes at off. The returned slice must not be
// retained past the current operation.
func (a *Arena) Locate(off Offset, n uint64) []byte {
	a.check(off, n)
	end := uint64(off) + n
	return a.buf[off:end:end]
}

// OffsetOf is the inverse of Locate: it returns the offset of the first
// byte of p, which must point into the arena.
func (a *Arena) OffsetOf(p []byte) (Offset, error) {
	if len(p) == 0 {
		return Nil, ErrNotInArena
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.buf)))
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(p)))
	if ptr < base || uint64(ptr-base) >= a.Size() {
		return Nil, ErrNotInArena
	}
	return Offset(ptr - base), nil
}

// Uint64 reads the word stored at off.
func (a *Arena) Uint64(off Offset) uint64 {
	dec := marshal.NewDec(a.Locate(off, WordSize))
	return dec.GetInt()
}

// PutUint64 stores v at off.
func (a *Arena) PutUint64(off Offset, v uint64) {
	enc := marshal.NewEnc(WordSize)
	enc.PutInt(v)
	copy(a.Locate(off, WordSize), enc.Finish())
}

// Zero clears n bytes starting at off.
func (a *Arena) Zero(off Offset, n uint64) {
	clear(a.Locate(off, n))
}

// Move copies n bytes from src to dst. The ranges may overlap.
func (a *Arena) Move(dst, src Offset, n uint64) {
	if n == 0 {
		return
	}
	copy(a.Locate(dst, n), a.Locate(src, n))
}
