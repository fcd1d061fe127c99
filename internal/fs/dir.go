package fs

import (
	"context"
	"path"

	"arenafs/internal/engine"
	"arenafs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is a directory node. It holds only its path; every call goes back to
// the engine.
type Dir struct {
	fs   *ArenaFS
	path *VirtualPath
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	p, err := d.path.Live()
	if err != nil {
		return err
	}
	dirLogger.Trace("Getting attributes for directory: %q", p)
	return ToFuseError(d.fs.attr(p, a))
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	childPath, err := d.path.Child(name)
	if err != nil {
		return nil, err
	}
	dirLogger.Debug("Looking up %q", childPath)

	attr, err := d.fs.engine.GetAttr(childPath)
	if err != nil {
		dirLogger.Debug("%s %q: %v", OpLookup, childPath, err)
		return nil, ToFuseError(err)
	}
	return d.fs.node(childPath, attr.Kind), nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	p, err := d.path.Live()
	if err != nil {
		return nil, err
	}
	dirLogger.Debug("Reading directory contents: %q", p)
	names, err := d.fs.engine.ReadDir(p)
	if err != nil {
		return nil, ToFuseError(err)
	}

	entries := make([]fuse.Dirent, 0, len(names)+2)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	for _, name := range names {
		attr, err := d.fs.engine.GetAttr(path.Join(p, name))
		if err != nil {
			return nil, ToFuseError(err)
		}
		dirent := fuse.Dirent{Inode: attr.Ino, Name: name, Type: fuse.DT_File}
		if attr.IsDir() {
			dirent.Type = fuse.DT_Dir
		}
		entries = append(entries, dirent)
	}

	dirLogger.Debug("Directory %q contains %d entries", p, len(names))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a new directory.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	newPath, err := d.path.Child(req.Name)
	if err != nil {
		return nil, err
	}
	dirLogger.Debug("Creating directory %q", newPath)
	if err := d.fs.engine.Mkdir(newPath); err != nil {
		return nil, ToFuseError(err)
	}
	return d.fs.node(newPath, engine.KindDirectory), nil
}

// Create implements the NodeCreater interface, creating and opening a new
// file.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	newPath, err := d.path.Child(req.Name)
	if err != nil {
		return nil, nil, err
	}
	dirLogger.Debug("Creating file %q", newPath)
	if err := d.fs.engine.Mknod(newPath); err != nil {
		return nil, nil, ToFuseError(err)
	}
	if err := d.fs.attr(newPath, &resp.Attr); err != nil {
		return nil, nil, ToFuseError(err)
	}

	f := d.fs.node(newPath, engine.KindFile).(*File)
	resp.Flags |= fuse.OpenDirectIO
	return f, &FileHandle{file: f}, nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	childPath, err := d.path.Child(req.Name)
	if err != nil {
		return err
	}
	dirLogger.Debug("Removing %q (isDir=%v)", childPath, req.Dir)

	if req.Dir {
		err = d.fs.engine.Rmdir(childPath)
	} else {
		err = d.fs.engine.Unlink(childPath)
	}
	if err != nil {
		return ToFuseError(err)
	}
	d.fs.paths.Forget(childPath)
	return nil
}

// Rename implements the NodeRenamer interface, renaming/moving a file or directory.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Rename target is not a directory node")
		return ToFuseError(&engine.Error{Op: engine.OpRename, Err: engine.ErrNotADirectory})
	}

	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	oldPath, err := d.path.Child(req.OldName)
	if err != nil {
		return err
	}
	newPath, err := target.path.Child(req.NewName)
	if err != nil {
		return err
	}
	dirLogger.Debug("Rename operation: %q -> %q", oldPath, newPath)

	if err := d.fs.engine.Rename(oldPath, newPath); err != nil {
		return ToFuseError(err)
	}
	d.fs.paths.Rename(oldPath, newPath)
	return nil
}

// Setattr implements the NodeSetattrer interface. Only timestamps can be
// changed on a directory; mode and owner changes are accepted and ignored.
func (d *Dir) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	p, err := d.path.Live()
	if err != nil {
		return err
	}
	dirLogger.Debug("%s %q: %v", OpSetattr, p, req.Valid)
	if err := d.fs.setTimes(p, req); err != nil {
		return ToFuseError(err)
	}
	return ToFuseError(d.fs.attr(p, &resp.Attr))
}

// Fsync implements the NodeFsyncer interface, flushing the whole image.
func (d *Dir) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	dirLogger.Trace("%s %q", OpFsync, d.path.String())
	return d.fs.flush()
}
