package engine

import (
	"errors"
	"fmt"
	"syscall"
)

// Error taxonomy. Every failure returned by an FS operation wraps exactly
// one of these.
var (
	ErrNotFound          = errors.New("no such file or directory")
	ErrAlreadyExists     = errors.New("file exists")
	ErrNotADirectory     = errors.New("not a directory")
	ErrIsADirectory      = errors.New("is a directory")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrNameTooLong       = errors.New("file name too long")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrOutOfSpace        = errors.New("no space left in arena")
	ErrOutOfMemory       = errors.New("cannot grow file data")
	ErrBadArenaState     = errors.New("arena is invalid or corrupt")
)

// Error records the operation and path of a failed call.
type Error struct {
	Op   string // Operation that failed (e.g., "mkdir", "write")
	Path string // Affected path
	Err  error  // Underlying error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, path string, err error) *Error {
	e := &Error{Op: op, Path: path, Err: err}
	logger.Debug("%v", e)
	return e
}

// Operation names used in errors and logs.
const (
	OpMount    = "mount"
	OpGetattr  = "getattr"
	OpReadDir  = "readdir"
	OpCreate   = "create"
	OpMkdir    = "mkdir"
	OpUnlink   = "unlink"
	OpRmdir    = "rmdir"
	OpRename   = "rename"
	OpTruncate = "truncate"
	OpOpen     = "open"
	OpRead     = "read"
	OpWrite    = "write"
	OpUtimens  = "utimens"
	OpStatfs   = "statfs"
	OpCheck    = "check"
)

var errnos = []struct {
	err   error
	errno syscall.Errno
}{
	{ErrNotFound, syscall.ENOENT},
	{ErrAlreadyExists, syscall.EEXIST},
	{ErrNotADirectory, syscall.ENOTDIR},
	{ErrIsADirectory, syscall.EISDIR},
	{ErrDirectoryNotEmpty, syscall.ENOTEMPTY},
	{ErrNameTooLong, syscall.ENAMETOOLONG},
	{ErrInvalidArgument, syscall.EINVAL},
	{ErrOutOfSpace, syscall.ENOSPC},
	{ErrOutOfMemory, syscall.ENOMEM},
	{ErrBadArenaState, syscall.EFAULT},
}

// Errno maps an error from this package to the POSIX error number a host
// driver reports. Unknown errors map to EIO; nil maps to 0.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for _, e := range errnos {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	return syscall.EIO
}
