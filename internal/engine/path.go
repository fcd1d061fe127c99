package engine

import (
	"strings"
)

// splitPath breaks a slash-separated path into its non-empty components,
// so "//a///b/" and "/a/b" are the same path. The root has no components.
func splitPath(p string) ([]string, error) {
	if p == "" {
		return nil, ErrInvalidArgument
	}
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts, nil
}

// checkName validates a name about to be stored in a node.
func checkName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return ErrInvalidArgument
	case len(name) > NameMax:
		return ErrNameTooLong
	case strings.ContainsRune(name, '/') || strings.ContainsRune(name, 0):
		return ErrInvalidArgument
	}
	return nil
}

// walk follows components from the root. An intermediate component that
// is a file fails with ErrNotADirectory.
func (fs *FS) walk(parts []string) (node, error) {
	cur := fs.root()
	for _, part := range parts {
		if !cur.isDir() {
			return node{}, ErrNotADirectory
		}
		child, ok := fs.store.findChild(cur, part)
		if !ok {
			return node{}, ErrNotFound
		}
		cur = child
	}
	return cur, nil
}

// resolve maps a path to its node. "/" is the root.
func (fs *FS) resolve(p string) (node, error) {
	parts, err := splitPath(p)
	if err != nil {
		return node{}, err
	}
	return fs.walk(parts)
}

// resolveParent maps a path to the directory that holds (or would hold)
// its last component, and that component. For "/" it returns the root and
// an empty name; callers that create or remove must reject that case.
func (fs *FS) resolveParent(p string) (node, string, error) {
	parts, err := splitPath(p)
	if err != nil {
		return node{}, "", err
	}
	if len(parts) == 0 {
		return fs.root(), "", nil
	}
	parent, err := fs.walk(parts[:len(parts)-1])
	if err != nil {
		return node{}, "", err
	}
	if !parent.isDir() {
		return node{}, "", ErrNotADirectory
	}
	return parent, parts[len(parts)-1], nil
}

// lookupChild resolves a path to (parent, child). The root has no parent
// and yields ErrInvalidArgument.
func (fs *FS) lookupChild(p string) (node, node, error) {
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return node{}, node{}, err
	}
	if name == "" {
		return node{}, node{}, ErrInvalidArgument
	}
	child, ok := fs.store.findChild(parent, name)
	if !ok {
		return node{}, node{}, ErrNotFound
	}
	return parent, child, nil
}

// isRoot reports whether p names the root directory.
func isRoot(p string) bool {
	parts, err := splitPath(p)
	return err == nil && len(parts) == 0
}
