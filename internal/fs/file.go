package fs

import (
	"context"

	"arenafs/internal/engine"
	"arenafs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is a regular file node.
type File struct {
	fs   *ArenaFS
	path *VirtualPath
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()

	p, err := f.path.Live()
	if err != nil {
		return err
	}
	fileLogger.Trace("Getting attributes for file: %q", p)
	if err := f.fs.attr(p, a); err != nil {
		return ToFuseError(err)
	}
	fileLogger.Trace("File attributes: mode=%v, size=%d, mtime=%v", a.Mode, a.Size, a.Mtime)
	return nil
}

// Open implements the NodeOpener interface. The engine keeps no handles;
// the returned FileHandle only remembers the node.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	if req.Flags&fuse.OpenTruncate != 0 {
		f.fs.mu.Lock()
		defer f.fs.mu.Unlock()
	} else {
		f.fs.mu.RLock()
		defer f.fs.mu.RUnlock()
	}

	p, err := f.path.Live()
	if err != nil {
		return nil, err
	}
	fileLogger.Debug("Opening file %q with flags %v", p, req.Flags)

	if req.Flags&fuse.OpenTruncate != 0 {
		if err := f.fs.engine.Truncate(p, 0); err != nil {
			return nil, ToFuseError(err)
		}
	} else {
		kind, err := f.fs.engine.Open(p)
		if err != nil {
			return nil, ToFuseError(err)
		}
		if kind != engine.KindFile {
			return nil, ToFuseError(&engine.Error{Op: engine.OpOpen, Path: p, Err: engine.ErrIsADirectory})
		}
	}

	// The engine is the only cache.
	resp.Flags |= fuse.OpenDirectIO
	return &FileHandle{file: f}, nil
}

// Setattr implements the NodeSetattrer interface: size changes truncate,
// atime and mtime changes set times. Mode and owner are fixed and their
// changes are ignored.
func (f *File) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	p, err := f.path.Live()
	if err != nil {
		return err
	}
	fileLogger.Debug("%s %q: %v", OpSetattr, p, req.Valid)
	if req.Valid.Size() {
		if err := f.fs.engine.Truncate(p, int64(req.Size)); err != nil {
			return ToFuseError(err)
		}
	}
	if err := f.fs.setTimes(p, req); err != nil {
		return ToFuseError(err)
	}
	return ToFuseError(f.fs.attr(p, &resp.Attr))
}

// Fsync implements the NodeFsyncer interface, flushing the whole image.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()

	fileLogger.Trace("%s %q", OpFsync, f.path.String())
	return f.fs.flush()
}

func (afs *ArenaFS) setTimes(p string, req *fuse.SetattrRequest) error {
	atime, mtime := engine.TimeOmit, engine.TimeOmit
	switch {
	case req.Valid.AtimeNow():
		atime = engine.TimeNow
	case req.Valid.Atime():
		atime = engine.TimespecOf(req.Atime)
	}
	switch {
	case req.Valid.MtimeNow():
		mtime = engine.TimeNow
	case req.Valid.Mtime():
		mtime = engine.TimespecOf(req.Mtime)
	}
	if atime == engine.TimeOmit && mtime == engine.TimeOmit {
		return nil
	}
	return afs.engine.Utimens(p, atime, mtime)
}

// FileHandle is an open file. Reads and writes go to the engine by path,
// so a handle keeps working after its file is renamed.
type FileHandle struct {
	file *File
}

// Read implements the HandleReader interface, reading data from the file.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.file.fs.mu.RLock()
	defer fh.file.fs.mu.RUnlock()

	p, err := fh.file.path.Live()
	if err != nil {
		return err
	}
	fileLogger.Trace("Reading %d bytes from file %q at offset %d", req.Size, p, req.Offset)

	buf := make([]byte, req.Size)
	n, err := fh.file.fs.engine.Read(p, buf, req.Offset)
	if err != nil {
		return ToFuseError(err)
	}
	resp.Data = buf[:n]
	fileLogger.Trace("Successfully read %d bytes", n)
	return nil
}

// Write implements the HandleWriter interface, writing data to the file.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fh.file.fs.mu.Lock()
	defer fh.file.fs.mu.Unlock()

	p, err := fh.file.path.Live()
	if err != nil {
		return err
	}
	fileLogger.Trace("Writing %d bytes to file %q at offset %d", len(req.Data), p, req.Offset)

	n, err := fh.file.fs.engine.Write(p, req.Data, req.Offset)
	if err != nil {
		return ToFuseError(err)
	}
	resp.Size = n
	return nil
}

// Flush implements the HandleFlusher interface. It runs on every close of
// a file descriptor.
func (fh *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	fh.file.fs.mu.RLock()
	defer fh.file.fs.mu.RUnlock()

	fileLogger.Trace("%s %q", OpFlush, fh.file.path.String())
	return fh.file.fs.flush()
}

// Release implements the HandleReleaser interface.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Debug("Closing file %q", fh.file.path.String())
	return nil
}
