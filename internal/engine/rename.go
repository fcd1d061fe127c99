package engine

import (
	"slices"
)

// Rename moves the node at from to to.
//
// The target must not exist: replacing an existing entry is refused with
// ErrAlreadyExists. A directory with children is only moved when the FS
// was created WithDirectoryMoves; the move relinks the directory's own
// offset and leaves its descendants where they are. A directory can never
// be moved below itself. Renaming a path to itself succeeds without
// touching anything.
func (fs *FS) Rename(from, to string) (err error) {
	defer fs.guard(OpRename, from, &err)

	fromParts, err := splitPath(from)
	if err != nil {
		return newError(OpRename, from, err)
	}
	toParts, err := splitPath(to)
	if err != nil {
		return newError(OpRename, to, err)
	}
	if len(fromParts) == 0 {
		if len(toParts) == 0 {
			return nil
		}
		return newError(OpRename, from, ErrInvalidArgument)
	}

	srcParent, src, err := fs.lookupChild(from)
	if err != nil {
		return newError(OpRename, from, err)
	}
	if slices.Equal(fromParts, toParts) {
		return nil
	}

	dstParent, dstName, err := fs.resolveParent(to)
	if err != nil {
		return newError(OpRename, to, err)
	}
	if dstName == "" {
		return newError(OpRename, to, ErrAlreadyExists)
	}
	if _, exists := fs.store.findChild(dstParent, dstName); exists {
		return newError(OpRename, to, ErrAlreadyExists)
	}
	if err := checkName(dstName); err != nil {
		return newError(OpRename, to, err)
	}

	if src.isDir() {
		if len(toParts) > len(fromParts) && slices.Equal(toParts[:len(fromParts)], fromParts) {
			return newError(OpRename, to, ErrInvalidArgument)
		}
		if src.length() > 0 && !fs.opts.moveDirs {
			return newError(OpRename, from, ErrDirectoryNotEmpty)
		}
	}

	now := fs.now()
	if dstParent.off != srcParent.off {
		// Link into the new parent first: if that needs space and fails,
		// nothing has changed yet.
		if err := fs.store.addChild(dstParent, src.off); err != nil {
			return newError(OpRename, to, mapAllocErr(err, ErrOutOfSpace))
		}
		fs.store.removeChild(srcParent, src.off)
		dstParent.touch(now)
	}
	src.setName(dstName)
	src.setTime(hdrCtime, now)
	srcParent.touch(now)

	logger.Trace("Renamed %q to %q", from, to)
	return nil
}
