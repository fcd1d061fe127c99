package arena

// Superblock layout, fixed at offset 0. All fields are little-endian words.
//
//	0   magic        Magic once the image is formatted, 0 on a fresh arena
//	8   root         offset of the root directory node
//	16  cursor       watermark: first byte never handed out
//	24  size         arena size recorded at format time
//	32  free bytes   bytes currently parked on the free lists
//	40  free heads   NumClasses list heads, one per allocation size class
const (
	offMagic     Offset = 0
	offRoot      Offset = 8
	offCursor    Offset = 16
	offSize      Offset = 24
	offFreeBytes Offset = 32
	offFreeHeads Offset = 40

	// NumClasses is the number of allocation size classes.
	NumClasses = 48

	// SuperblockSize is the number of bytes reserved at the start of the arena.
	SuperblockSize = uint64(offFreeHeads) + NumClasses*WordSize
)

// Magic marks a formatted image ("ARENAFS1").
const Magic uint64 = 0x3153464e45524141

// Superblock is a view of the superblock of an arena.
type Superblock struct {
	a *Arena
}

// Superblock returns the superblock view. The arena must be at least
// SuperblockSize bytes.
func (a *Arena) Superblock() Superblock {
	return Superblock{a: a}
}

// Initialized reports whether the image has been formatted.
func (s Superblock) Initialized() bool {
	return s.a.Uint64(offMagic) == Magic
}

// Blank reports whether the magic word is still zero.
func (s Superblock) Blank() bool {
	return s.a.Uint64(offMagic) == 0
}

// Reset clears every superblock field except the magic and positions the
// watermark just past the superblock.
func (s Superblock) Reset() {
	s.a.Zero(offRoot, SuperblockSize-uint64(offRoot))
	s.a.PutUint64(offSize, s.a.Size())
	s.a.PutUint64(offCursor, SuperblockSize)
}

// MarkInitialized writes the magic word. It is the last step of formatting.
func (s Superblock) MarkInitialized() {
	s.a.PutUint64(offMagic, Magic)
}

func (s Superblock) Root() Offset          { return Offset(s.a.Uint64(offRoot)) }
func (s Superblock) SetRoot(off Offset)    { s.a.PutUint64(offRoot, uint64(off)) }
func (s Superblock) Cursor() uint64        { return s.a.Uint64(offCursor) }
func (s Superblock) SetCursor(c uint64)    { s.a.PutUint64(offCursor, c) }
func (s Superblock) RecordedSize() uint64  { return s.a.Uint64(offSize) }
func (s Superblock) FreeBytes() uint64     { return s.a.Uint64(offFreeBytes) }
func (s Superblock) SetFreeBytes(n uint64) { s.a.PutUint64(offFreeBytes, n) }

// FreeHead returns the head of the free list for class c.
func (s Superblock) FreeHead(c int) Offset {
	return Offset(s.a.Uint64(offFreeHeads + Offset(c*WordSize)))
}

// SetFreeHead replaces the head of the free list for class c.
func (s Superblock) SetFreeHead(c int, off Offset) {
	s.a.PutUint64(offFreeHeads+Offset(c*WordSize), uint64(off))
}
