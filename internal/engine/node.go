package engine

import (
	"time"

	"arenafs/internal/arena"
)

// Kind tags a node as a file or a directory.
type Kind uint64

const (
	KindFile      Kind = 1
	KindDirectory Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "invalid"
	}
}

// NameMax is the longest name a node can carry, in bytes.
const NameMax = 255

// Node header layout. For a file, length is the byte length and data the
// start of its bytes; for a directory, length is the child count and data
// the start of an array of child node offsets. capacity is the size of the
// region at data as reserved by the allocator.
const (
	hdrKind     arena.Offset = 0
	hdrNameLen  arena.Offset = 8
	hdrName     arena.Offset = 16
	hdrAtime    arena.Offset = hdrName + NameMax + 1
	hdrMtime    arena.Offset = hdrAtime + 16
	hdrCtime    arena.Offset = hdrMtime + 16
	hdrLength   arena.Offset = hdrCtime + 16
	hdrData     arena.Offset = hdrLength + 8
	hdrCapacity arena.Offset = hdrData + 8

	nodeSize = uint64(hdrCapacity) + 8
)

// node is a view of one node header in the arena. It holds only the
// arena and the offset, never a location.
type node struct {
	a   *arena.Arena
	off arena.Offset
}

func (n node) word(field arena.Offset) uint64 {
	return n.a.Uint64(n.off + field)
}

func (n node) setWord(field arena.Offset, v uint64) {
	n.a.PutUint64(n.off+field, v)
}

func (n node) kind() Kind   { return Kind(n.word(hdrKind)) }
func (n node) isDir() bool  { return n.kind() == KindDirectory }
func (n node) isFile() bool { return n.kind() == KindFile }

func (n node) name() string {
	l := n.word(hdrNameLen)
	if l > NameMax {
		panic(&arena.BoundsError{Off: n.off + hdrName, Len: l, Size: NameMax})
	}
	return string(n.a.Locate(n.off+hdrName, l))
}

func (n node) setName(name string) {
	field := n.a.Locate(n.off+hdrName, NameMax+1)
	clear(field)
	copy(field, name)
	n.setWord(hdrNameLen, uint64(len(name)))
}

func (n node) time(field arena.Offset) time.Time {
	return time.Unix(int64(n.word(field)), int64(n.word(field+8)))
}

func (n node) setTime(field arena.Offset, t time.Time) {
	n.setWord(field, uint64(t.Unix()))
	n.setWord(field+8, uint64(t.Nanosecond()))
}

func (n node) length() uint64              { return n.word(hdrLength) }
func (n node) setLength(l uint64)          { n.setWord(hdrLength, l) }
func (n node) data() arena.Offset          { return arena.Offset(n.word(hdrData)) }
func (n node) setData(off arena.Offset)    { n.setWord(hdrData, uint64(off)) }
func (n node) capacity() uint64            { return n.word(hdrCapacity) }
func (n node) setCapacity(capacity uint64) { n.setWord(hdrCapacity, capacity) }

// setRegion installs a new data region in one step.
func (n node) setRegion(off arena.Offset, capacity uint64) {
	n.setData(off)
	n.setCapacity(capacity)
}

// touch sets mtime and ctime to now.
func (n node) touch(now time.Time) {
	n.setTime(hdrMtime, now)
	n.setTime(hdrCtime, now)
}
