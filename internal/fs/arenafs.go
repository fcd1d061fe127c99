package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"arenafs/internal/engine"
	"arenafs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// Flusher writes the arena image back to stable storage.
type Flusher interface {
	Flush() error
}

// MountOptions configures the kernel mount.
type MountOptions struct {
	FSName     string
	AllowOther bool
}

// flushRetries bounds how often a temporarily failing flush is retried.
const flushRetries = 3

// ArenaFS serves an engine.FS over FUSE. The engine does no locking of
// its own: mutating calls take mu exclusively, lookups and reads share it.
type ArenaFS struct {
	engine  *engine.FS
	flusher Flusher
	paths   *PathRegistry
	conn    *fuse.Conn
	served  chan struct{}
	mu      sync.RWMutex
}

// NewArenaFS wraps e. flusher may be nil when the image lives only in
// memory.
func NewArenaFS(e *engine.FS, flusher Flusher) *ArenaFS {
	vfsLogger.Debug("Creating FUSE filesystem")
	return &ArenaFS{
		engine:  e,
		flusher: flusher,
		paths:   NewPathRegistry(),
		served:  make(chan struct{}),
	}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (afs *ArenaFS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return &Dir{fs: afs, path: afs.paths.Get("/")}, nil
}

// Statfs implements the fusefs.FSStatfser interface.
func (afs *ArenaFS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	afs.mu.RLock()
	defer afs.mu.RUnlock()

	var st engine.Statfs
	if err := afs.engine.Statfs(&st); err != nil {
		return ToFuseError(err)
	}
	resp.Bsize = uint32(st.BlockSize)
	resp.Frsize = uint32(st.BlockSize)
	resp.Blocks = st.Blocks
	resp.Bfree = st.BlocksFree
	resp.Bavail = st.BlocksAvail
	resp.Namelen = uint32(st.NameMax)
	vfsLogger.Trace("Statfs: %d/%d blocks free", st.BlocksFree, st.Blocks)
	return nil
}

// flush pushes the image to disk, retrying transient failures.
func (afs *ArenaFS) flush() error {
	if afs.flusher == nil {
		return nil
	}
	var err error
	for attempt := 1; attempt <= flushRetries; attempt++ {
		if err = afs.flusher.Flush(); err == nil || !IsTemporary(err) {
			break
		}
		vfsLogger.Warn("Flush attempt %d failed: %v", attempt, err)
	}
	if err != nil {
		vfsLogger.Error("Failed to flush image: %v", err)
		return ToFuseError(err)
	}
	return nil
}

func (afs *ArenaFS) attr(p string, a *fuse.Attr) error {
	attr, err := afs.engine.GetAttr(p)
	if err != nil {
		return err
	}
	fillAttr(attr, a)
	return nil
}

func fillAttr(attr engine.Attr, a *fuse.Attr) {
	a.Inode = attr.Ino
	a.Mode = attr.Mode
	a.Nlink = attr.Nlink
	a.Size = attr.Size
	a.Blocks = blocks(attr.Size)
	a.BlockSize = engine.BlockSize
	a.Uid = attr.Uid
	a.Gid = attr.Gid
	a.Atime = attr.Atime
	a.Mtime = attr.Mtime
	a.Ctime = attr.Ctime
}

// node returns the FUSE node for p, sharing its path with other live
// nodes for the same entry.
func (afs *ArenaFS) node(p string, kind engine.Kind) fusefs.Node {
	vp := afs.paths.Get(p)
	if kind == engine.KindDirectory {
		return &Dir{fs: afs, path: vp}
	}
	return &File{fs: afs, path: vp}
}

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the filesystem at mountPoint and serves it in the
// background until it is unmounted. Done reports when serving stops.
func (afs *ArenaFS) Mount(mountPoint string, opts MountOptions) error {
	vfsLogger.Info("Mounting arena filesystem")
	vfsLogger.Debug("Mount point: %s", mountPoint)

	mountOpts := []fuse.MountOption{
		fuse.FSName(opts.FSName),
		fuse.Subtype("arenafs"),
		fuse.DefaultPermissions(),
		fuse.MaxReadahead(128 << 10),
	}
	if opts.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	afs.conn = c

	go func() {
		defer close(afs.served)
		if err := fusefs.Serve(c, afs); err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
		}
		vfsLogger.Debug("FUSE server stopped")
	}()

	// Wait for mount to be ready
	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		vfsLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Done is closed once a mounted filesystem stops serving.
func (afs *ArenaFS) Done() <-chan struct{} {
	return afs.served
}

// Unmount cleanly unmounts the filesystem and flushes the image.
func (afs *ArenaFS) Unmount(mountPoint string) error {
	vfsLogger.Info("Unmounting filesystem from: %s", mountPoint)
	if afs.conn == nil {
		return nil
	}
	err := fuse.Unmount(mountPoint)
	if err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
	} else {
		vfsLogger.Info("Unmount completed successfully")
	}

	afs.mu.Lock()
	defer afs.mu.Unlock()
	if flushErr := afs.flush(); flushErr != nil {
		err = errors.Join(err, flushErr)
	}
	return err
}
