package engine

import (
	"arenafs/internal/alloc"
	"arenafs/internal/arena"
)

// store creates, links and destroys nodes. Directory child arrays have no
// fixed capacity: when an append does not fit, a larger array is written
// first and swapped in, and only then is the old one released.
type store struct {
	a     *arena.Arena
	alloc *alloc.Allocator
	clock Clock
}

func (s *store) node(off arena.Offset) node {
	return node{a: s.a, off: off}
}

func (s *store) createNode(kind Kind, name string) (node, error) {
	off, err := s.alloc.Allocate(nodeSize)
	if err != nil {
		return node{}, err
	}
	n := s.node(off)
	s.a.Zero(off, nodeSize)
	n.setWord(hdrKind, uint64(kind))
	n.setName(name)
	now := s.clock.Now()
	n.setTime(hdrAtime, now)
	n.setTime(hdrMtime, now)
	n.setTime(hdrCtime, now)
	return n, nil
}

// childCount returns the number of entries in dir. A count whose array
// could not fit the arena panics with a BoundsError, as any other
// out-of-range access does.
func (s *store) childCount(dir node) uint64 {
	count := dir.length()
	if count > s.a.Size()/arena.WordSize {
		panic(&arena.BoundsError{Off: dir.data(), Len: count, Size: s.a.Size()})
	}
	return count
}

// children returns the child offsets of dir.
func (s *store) children(dir node) []arena.Offset {
	count := s.childCount(dir)
	if count == 0 {
		return nil
	}
	base := dir.data()
	// Validate the whole array once before reading it word by word.
	s.a.Locate(base, count*arena.WordSize)
	out := make([]arena.Offset, count)
	for i := range out {
		out[i] = arena.Offset(s.a.Uint64(base + arena.Offset(i*arena.WordSize)))
	}
	return out
}

// findChild scans dir for a child called name.
func (s *store) findChild(dir node, name string) (node, bool) {
	for _, off := range s.children(dir) {
		child := s.node(off)
		if child.name() == name {
			return child, true
		}
	}
	return node{}, false
}

// addChild appends child to dir. The caller has already checked that no
// sibling has the same name. On failure dir is unchanged.
func (s *store) addChild(dir node, child arena.Offset) error {
	count := s.childCount(dir)
	need := (count + 1) * arena.WordSize
	if need <= dir.capacity() {
		s.a.PutUint64(dir.data()+arena.Offset(count*arena.WordSize), uint64(child))
		dir.setLength(count + 1)
		return nil
	}

	grown, err := s.alloc.Allocate(need)
	if err != nil {
		return err
	}
	old, oldCapacity := dir.data(), dir.capacity()
	s.a.Move(grown, old, count*arena.WordSize)
	s.a.PutUint64(grown+arena.Offset(count*arena.WordSize), uint64(child))

	dir.setRegion(grown, alloc.Capacity(need))
	dir.setLength(count + 1)
	s.alloc.Release(old, oldCapacity)
	return nil
}

// removeChild unlinks child from dir by moving the last entry into its
// slot, so entry order is not preserved. It reports whether child was
// found. An emptied array is released.
func (s *store) removeChild(dir node, child arena.Offset) bool {
	count := s.childCount(dir)
	base := dir.data()
	for i := uint64(0); i < count; i++ {
		slot := base + arena.Offset(i*arena.WordSize)
		if arena.Offset(s.a.Uint64(slot)) != child {
			continue
		}
		last := base + arena.Offset((count-1)*arena.WordSize)
		s.a.PutUint64(slot, s.a.Uint64(last))
		dir.setLength(count - 1)
		if count == 1 {
			capacity := dir.capacity()
			dir.setRegion(arena.Nil, 0)
			s.alloc.Release(base, capacity)
		}
		return true
	}
	return false
}

// destroy releases every region owned by an already unlinked node.
func (s *store) destroy(n node) {
	data, capacity := n.data(), n.capacity()
	n.setRegion(arena.Nil, 0)
	n.setLength(0)
	s.alloc.Release(data, capacity)
	s.alloc.Release(n.off, nodeSize)
}

// resize sets a file's byte length to size. Newly exposed bytes read as
// zero. Growing beyond the current capacity moves the data to a new region;
// shrinking into a smaller size class moves it when space allows and
// otherwise keeps the old region.
func (s *store) resize(n node, size uint64) error {
	oldLen, capacity, data := n.length(), n.capacity(), n.data()

	switch {
	case size == oldLen:
		return nil

	case size == 0:
		n.setRegion(arena.Nil, 0)
		s.alloc.Release(data, capacity)

	case size <= capacity:
		if size > oldLen {
			s.a.Zero(data+arena.Offset(oldLen), size-oldLen)
		} else if alloc.Capacity(size) < capacity {
			if smaller, err := s.alloc.Allocate(size); err == nil {
				s.a.Move(smaller, data, size)
				n.setRegion(smaller, alloc.Capacity(size))
				s.alloc.Release(data, capacity)
			}
		}

	default:
		if size > s.a.Size() {
			return alloc.ErrOutOfSpace
		}
		grown, err := s.alloc.Allocate(size)
		if err != nil {
			return err
		}
		s.a.Move(grown, data, oldLen)
		s.a.Zero(grown+arena.Offset(oldLen), size-oldLen)
		n.setRegion(grown, alloc.Capacity(size))
		s.alloc.Release(data, capacity)
	}

	n.setLength(size)
	return nil
}
