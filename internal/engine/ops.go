package engine

import (
	"fmt"
	"os"
	"time"

	"arenafs/internal/arena"
)

// Attr describes one node.
type Attr struct {
	Ino   uint64 // node offset; stable for the node's lifetime
	Kind  Kind
	Mode  os.FileMode
	Nlink uint32
	Size  uint64 // files only
	Uid   uint32
	Gid   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// IsDir reports whether the node is a directory.
func (a Attr) IsDir() bool { return a.Kind == KindDirectory }

func (fs *FS) attrOf(n node) Attr {
	attr := Attr{
		Ino:   uint64(n.off),
		Kind:  n.kind(),
		Uid:   fs.opts.uid,
		Gid:   fs.opts.gid,
		Atime: n.time(hdrAtime),
		Mtime: n.time(hdrMtime),
		Ctime: n.time(hdrCtime),
	}
	if n.isDir() {
		attr.Mode = os.ModeDir | 0o755
		attr.Nlink = 2
	} else {
		attr.Mode = 0o644
		attr.Nlink = 1
		attr.Size = n.length()
	}
	return attr
}

// GetAttr returns the attributes of the node at p.
func (fs *FS) GetAttr(p string) (attr Attr, err error) {
	defer fs.guard(OpGetattr, p, &err)
	n, err := fs.resolve(p)
	if err != nil {
		return Attr{}, newError(OpGetattr, p, err)
	}
	return fs.attrOf(n), nil
}

// ReadDir returns the names of the entries of the directory at p. There
// are no "." or ".." entries. The caller owns the returned slice.
func (fs *FS) ReadDir(p string) (names []string, err error) {
	defer fs.guard(OpReadDir, p, &err)
	dir, err := fs.resolve(p)
	if err != nil {
		return nil, newError(OpReadDir, p, err)
	}
	if !dir.isDir() {
		return nil, newError(OpReadDir, p, ErrNotADirectory)
	}
	children := fs.store.children(dir)
	names = make([]string, 0, len(children))
	for _, off := range children {
		names = append(names, fs.store.node(off).name())
	}
	return names, nil
}

// Mknod creates an empty file at p.
func (fs *FS) Mknod(p string) (err error) {
	defer fs.guard(OpCreate, p, &err)
	return fs.create(OpCreate, p, KindFile)
}

// Mkdir creates an empty directory at p.
func (fs *FS) Mkdir(p string) (err error) {
	defer fs.guard(OpMkdir, p, &err)
	return fs.create(OpMkdir, p, KindDirectory)
}

func (fs *FS) create(op, p string, kind Kind) error {
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return newError(op, p, err)
	}
	if name == "" {
		return newError(op, p, ErrInvalidArgument)
	}
	if _, exists := fs.store.findChild(parent, name); exists {
		return newError(op, p, ErrAlreadyExists)
	}
	if err := checkName(name); err != nil {
		return newError(op, p, err)
	}

	n, err := fs.store.createNode(kind, name)
	if err != nil {
		return newError(op, p, mapAllocErr(err, ErrOutOfSpace))
	}
	if err := fs.store.addChild(parent, n.off); err != nil {
		fs.store.destroy(n)
		return newError(op, p, mapAllocErr(err, ErrOutOfSpace))
	}
	parent.touch(fs.now())
	logger.Trace("Created %s %q at %d", kind, p, n.off)
	return nil
}

// Unlink removes the file at p and releases its data.
func (fs *FS) Unlink(p string) (err error) {
	defer fs.guard(OpUnlink, p, &err)
	if isRoot(p) {
		return newError(OpUnlink, p, ErrIsADirectory)
	}
	parent, child, err := fs.lookupChild(p)
	if err != nil {
		return newError(OpUnlink, p, err)
	}
	if child.isDir() {
		return newError(OpUnlink, p, ErrIsADirectory)
	}
	fs.store.removeChild(parent, child.off)
	fs.store.destroy(child)
	parent.touch(fs.now())
	logger.Trace("Removed file %q", p)
	return nil
}

// Rmdir removes the empty directory at p. The root cannot be removed.
func (fs *FS) Rmdir(p string) (err error) {
	defer fs.guard(OpRmdir, p, &err)
	parent, child, err := fs.lookupChild(p)
	if err != nil {
		return newError(OpRmdir, p, err)
	}
	if !child.isDir() {
		return newError(OpRmdir, p, ErrNotADirectory)
	}
	if child.length() > 0 {
		return newError(OpRmdir, p, ErrDirectoryNotEmpty)
	}
	fs.store.removeChild(parent, child.off)
	fs.store.destroy(child)
	parent.touch(fs.now())
	logger.Trace("Removed directory %q", p)
	return nil
}

// Truncate sets the length of the file at p. Bytes past the old length
// read as zero; bytes past the new length are dropped.
func (fs *FS) Truncate(p string, size int64) (err error) {
	defer fs.guard(OpTruncate, p, &err)
	if size < 0 {
		return newError(OpTruncate, p, ErrInvalidArgument)
	}
	n, err := fs.resolve(p)
	if err != nil {
		return newError(OpTruncate, p, err)
	}
	if n.isDir() {
		return newError(OpTruncate, p, ErrIsADirectory)
	}
	if err := fs.store.resize(n, uint64(size)); err != nil {
		return newError(OpTruncate, p, mapAllocErr(err, ErrOutOfSpace))
	}
	n.touch(fs.now())
	return nil
}

// Open checks that p exists and reports its kind. No handle is kept.
// Directories can be opened for listing but not for Read or Write.
func (fs *FS) Open(p string) (kind Kind, err error) {
	defer fs.guard(OpOpen, p, &err)
	n, err := fs.resolve(p)
	if err != nil {
		return 0, newError(OpOpen, p, err)
	}
	return n.kind(), nil
}

// Read copies bytes of the file at p starting at off into buf and returns
// how many were copied. Reading at or past the end returns 0 and no error.
func (fs *FS) Read(p string, buf []byte, off int64) (read int, err error) {
	defer fs.guard(OpRead, p, &err)
	if off < 0 {
		return 0, newError(OpRead, p, ErrInvalidArgument)
	}
	n, err := fs.resolve(p)
	if err != nil {
		return 0, newError(OpRead, p, err)
	}
	if n.isDir() {
		return 0, newError(OpRead, p, ErrIsADirectory)
	}
	length := n.length()
	if uint64(off) >= length || len(buf) == 0 {
		return 0, nil
	}
	count := min(uint64(len(buf)), length-uint64(off))
	return copy(buf, fs.a.Locate(n.data()+arena.Offset(off), count)), nil
}

// Write copies buf into the file at p starting at off, extending the file
// first when the write ends past its length. A gap between the old end
// and off reads as zero.
func (fs *FS) Write(p string, buf []byte, off int64) (written int, err error) {
	defer fs.guard(OpWrite, p, &err)
	if off < 0 {
		return 0, newError(OpWrite, p, ErrInvalidArgument)
	}
	n, err := fs.resolve(p)
	if err != nil {
		return 0, newError(OpWrite, p, err)
	}
	if n.isDir() {
		return 0, newError(OpWrite, p, ErrIsADirectory)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	end := uint64(off) + uint64(len(buf))
	if end < uint64(off) || end > fs.a.Size() {
		return 0, newError(OpWrite, p, ErrOutOfMemory)
	}
	if end > n.length() {
		if err := fs.store.resize(n, end); err != nil {
			return 0, newError(OpWrite, p, mapAllocErr(err, ErrOutOfMemory))
		}
	}
	written = copy(fs.a.Locate(n.data()+arena.Offset(off), uint64(len(buf))), buf)
	n.touch(fs.now())
	return written, nil
}

// Timespec is a caller-supplied timestamp for Utimens. Nsec may hold one
// of the sentinels UtimeNow or UtimeOmit.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Sentinels for Timespec.Nsec, with the values Linux uses.
const (
	UtimeNow  = (1 << 30) - 1
	UtimeOmit = (1 << 30) - 2
)

var (
	// TimeNow sets a timestamp to the current time.
	TimeNow = Timespec{Nsec: UtimeNow}
	// TimeOmit leaves a timestamp unchanged.
	TimeOmit = Timespec{Nsec: UtimeOmit}
)

// TimespecOf converts t to a Timespec.
func TimespecOf(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

func (ts Timespec) valid() bool {
	return ts.Nsec == UtimeNow || ts.Nsec == UtimeOmit || (ts.Nsec >= 0 && ts.Nsec < int64(time.Second))
}

// Utimens sets the access and modification times of the node at p. The
// change time becomes the current time. The root's times cannot be set.
func (fs *FS) Utimens(p string, atime, mtime Timespec) (err error) {
	defer fs.guard(OpUtimens, p, &err)
	if !atime.valid() || !mtime.valid() {
		return newError(OpUtimens, p, ErrInvalidArgument)
	}
	parts, err := splitPath(p)
	if err != nil {
		return newError(OpUtimens, p, err)
	}
	if len(parts) == 0 {
		return newError(OpUtimens, p, ErrInvalidArgument)
	}
	n, err := fs.walk(parts)
	if err != nil {
		return newError(OpUtimens, p, err)
	}

	now := fs.now()
	for _, t := range []struct {
		field arena.Offset
		ts    Timespec
	}{{hdrAtime, atime}, {hdrMtime, mtime}} {
		switch t.ts.Nsec {
		case UtimeOmit:
		case UtimeNow:
			n.setTime(t.field, now)
		default:
			n.setTime(t.field, time.Unix(t.ts.Sec, t.ts.Nsec))
		}
	}
	n.setTime(hdrCtime, now)
	return nil
}

// BlockSize is the block size reported by Statfs.
const BlockSize = 1024

// Statfs is filesystem usage as reported by Statfs.
type Statfs struct {
	BlockSize   uint64
	Blocks      uint64
	BlocksFree  uint64
	BlocksAvail uint64
	NameMax     uint64
}

// Statfs fills out with usage figures. Free space counts both the unused
// tail of the arena and released blocks waiting for reuse.
func (fs *FS) Statfs(out *Statfs) (err error) {
	defer fs.guard(OpStatfs, "", &err)
	if out == nil {
		return newError(OpStatfs, "", ErrInvalidArgument)
	}
	if !fs.sb.Initialized() {
		return newError(OpStatfs, "", fmt.Errorf("%w: arena not initialized", ErrBadArenaState))
	}
	free := fs.alloc.Free() / BlockSize
	*out = Statfs{
		BlockSize:   BlockSize,
		Blocks:      fs.a.Size() / BlockSize,
		BlocksFree:  free,
		BlocksAvail: free,
		NameMax:     NameMax,
	}
	return nil
}

// Usage returns the bytes in use and the bytes still available.
func (fs *FS) Usage() (used, free uint64) {
	return fs.alloc.Used(), fs.alloc.Free()
}
