// Package engine implements a complete filesystem inside a single arena:
// the node store, path resolution and the POSIX-like operation set.
//
// An FS is a handle over one arena. It does no locking; the host must
// serialize calls so that at most one mutating operation runs at a time.
// Read-only operations may interleave with each other.
package engine

import (
	"errors"
	"fmt"
	"time"

	"arenafs/internal/alloc"
	"arenafs/internal/arena"
	"arenafs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("engine")
)

// MinArenaSize is the smallest arena that can hold the superblock and an
// empty root directory.
var MinArenaSize = arena.SuperblockSize + alloc.Capacity(nodeSize)

// Clock supplies timestamps for new and modified nodes.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type options struct {
	clock    Clock
	uid, gid uint32
	moveDirs bool
}

// Option configures an FS.
type Option func(*options)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithOwner sets the uid and gid reported for every node.
func WithOwner(uid, gid uint32) Option {
	return func(o *options) { o.uid, o.gid = uid, gid }
}

// WithDirectoryMoves lets Rename relink non-empty directories. Without it
// renaming a populated directory fails with ErrDirectoryNotEmpty.
func WithDirectoryMoves(enabled bool) Option {
	return func(o *options) { o.moveDirs = enabled }
}

// FS is a mounted filesystem over one arena.
type FS struct {
	a     *arena.Arena
	sb    arena.Superblock
	alloc *alloc.Allocator
	store *store
	opts  options
}

// New mounts the filesystem held in a. A zero-filled arena is formatted
// into an empty filesystem; an arena formatted earlier is used as is.
// Anything else fails with ErrBadArenaState.
func New(a *arena.Arena, opts ...Option) (fs *FS, err error) {
	if a == nil {
		return nil, newError(OpMount, "", ErrBadArenaState)
	}
	o := options{clock: realClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if a.Size() < MinArenaSize {
		return nil, newError(OpMount, "", fmt.Errorf("%w: arena of %d bytes, need %d",
			ErrOutOfSpace, a.Size(), MinArenaSize))
	}

	al := alloc.New(a)
	fs = &FS{
		a:     a,
		sb:    a.Superblock(),
		alloc: al,
		store: &store{a: a, alloc: al, clock: o.clock},
		opts:  o,
	}
	defer func() {
		if err != nil {
			fs = nil
		}
	}()
	defer fs.guard(OpMount, "", &err)

	switch {
	case fs.sb.Initialized():
		if err := fs.verifySuperblock(); err != nil {
			return nil, newError(OpMount, "", err)
		}
		logger.Debug("Mounted existing image (%d bytes, root at %d)", a.Size(), fs.sb.Root())
	case fs.sb.Blank():
		if err := fs.format(); err != nil {
			return nil, newError(OpMount, "", err)
		}
		logger.Info("Formatted fresh arena of %d bytes", a.Size())
	default:
		return nil, newError(OpMount, "", fmt.Errorf("%w: unrecognized superblock", ErrBadArenaState))
	}
	return fs, nil
}

func (fs *FS) format() error {
	fs.sb.Reset()
	root, err := fs.store.createNode(KindDirectory, "/")
	if err != nil {
		return mapAllocErr(err, ErrOutOfSpace)
	}
	fs.sb.SetRoot(root.off)
	fs.sb.MarkInitialized()
	return nil
}

func (fs *FS) verifySuperblock() error {
	size := fs.a.Size()
	if recorded := fs.sb.RecordedSize(); recorded != size {
		return fmt.Errorf("%w: image formatted for %d bytes, arena has %d", ErrBadArenaState, recorded, size)
	}
	if cursor := fs.sb.Cursor(); cursor < arena.SuperblockSize || cursor > size {
		return fmt.Errorf("%w: allocation cursor %d out of range", ErrBadArenaState, cursor)
	}
	rootOff := fs.sb.Root()
	if rootOff == arena.Nil || !fs.a.Contains(rootOff, nodeSize) {
		return fmt.Errorf("%w: root offset %d out of range", ErrBadArenaState, rootOff)
	}
	if !fs.root().isDir() {
		return fmt.Errorf("%w: root is not a directory", ErrBadArenaState)
	}
	return nil
}

func (fs *FS) root() node {
	return fs.store.node(fs.sb.Root())
}

func (fs *FS) now() time.Time {
	return fs.opts.clock.Now()
}

// Arena returns the arena the filesystem lives in.
func (fs *FS) Arena() *arena.Arena {
	return fs.a
}

// guard turns a bounds violation raised while reading a corrupt image into
// ErrBadArenaState for the current operation.
func (fs *FS) guard(op, path string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	be, ok := r.(*arena.BoundsError)
	if !ok {
		panic(r)
	}
	logger.Error("Corrupt arena during %s %q: %v", op, path, be)
	*err = newError(op, path, fmt.Errorf("%w: %v", ErrBadArenaState, be))
}

// mapAllocErr translates allocator exhaustion into the taxonomy value the
// calling operation reports.
func mapAllocErr(err error, as error) error {
	if errors.Is(err, alloc.ErrOutOfSpace) {
		return as
	}
	return err
}
