package engine

import (
	"fmt"

	"arenafs/internal/alloc"
	"arenafs/internal/arena"
)

// Check walks the whole tree from the root and verifies the structural
// invariants of the image: every stored offset lies inside the arena,
// every node has a valid kind and name, sibling names are unique, lengths
// fit their regions, and no node is reachable twice. It returns the first
// violation found, wrapped in ErrBadArenaState.
func (fs *FS) Check() (err error) {
	defer fs.guard(OpCheck, "/", &err)

	root := fs.root()
	if !root.isDir() || root.name() != "/" {
		return newError(OpCheck, "/", fmt.Errorf("%w: malformed root", ErrBadArenaState))
	}

	seen := map[arena.Offset]bool{root.off: true}
	var visit func(dir node, path string) error
	visit = func(dir node, path string) error {
		if dir.length() > fs.a.Size()/arena.WordSize {
			return newError(OpCheck, path, fmt.Errorf("%w: %d entries cannot fit the arena", ErrBadArenaState, dir.length()))
		}
		if err := fs.checkRegion(dir, dir.length()*arena.WordSize); err != nil {
			return newError(OpCheck, path, err)
		}
		names := make(map[string]bool)
		for _, off := range fs.store.children(dir) {
			if off == arena.Nil || !fs.a.Contains(off, nodeSize) {
				return newError(OpCheck, path, fmt.Errorf("%w: child offset %d out of range", ErrBadArenaState, off))
			}
			if seen[off] {
				return newError(OpCheck, path, fmt.Errorf("%w: node %d reachable twice", ErrBadArenaState, off))
			}
			seen[off] = true

			child := fs.store.node(off)
			name := child.name()
			childPath := joinPath(path, name)
			if err := checkName(name); err != nil {
				return newError(OpCheck, childPath, fmt.Errorf("%w: bad name: %v", ErrBadArenaState, err))
			}
			if names[name] {
				return newError(OpCheck, childPath, fmt.Errorf("%w: duplicate name", ErrBadArenaState))
			}
			names[name] = true

			switch child.kind() {
			case KindFile:
				if err := fs.checkRegion(child, child.length()); err != nil {
					return newError(OpCheck, childPath, err)
				}
			case KindDirectory:
				if err := visit(child, childPath); err != nil {
					return err
				}
			default:
				return newError(OpCheck, childPath, fmt.Errorf("%w: kind %d", ErrBadArenaState, child.kind()))
			}
		}
		return nil
	}
	return visit(root, "/")
}

// checkRegion verifies that a node's data region can hold used bytes.
func (fs *FS) checkRegion(n node, used uint64) error {
	data, capacity := n.data(), n.capacity()
	switch {
	case used > capacity:
		return fmt.Errorf("%w: %d bytes in a %d-byte region", ErrBadArenaState, used, capacity)
	case data == arena.Nil && capacity != 0:
		return fmt.Errorf("%w: capacity %d without a region", ErrBadArenaState, capacity)
	case data != arena.Nil && !fs.a.Contains(data, capacity):
		return fmt.Errorf("%w: region [%d, +%d) out of range", ErrBadArenaState, data, capacity)
	case capacity != 0 && alloc.Capacity(capacity) != capacity:
		return fmt.Errorf("%w: capacity %d is not a size class", ErrBadArenaState, capacity)
	}
	return nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
