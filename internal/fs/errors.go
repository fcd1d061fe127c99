// Package fs serves an arena filesystem over FUSE.
//
// This file contains error handling utilities.
package fs

import (
	"errors"
	"syscall"

	"arenafs/internal/engine"
	"arenafs/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// Host operation names used in logs. Engine operations carry their own
// names in *engine.Error.
const (
	OpLookup  = "lookup"
	OpSetattr = "setattr"
	OpFsync   = "fsync"
	OpFlush   = "flush"
)

// ToFuseError converts an engine error to the FUSE error code the kernel
// expects. Errors from outside the engine become EIO.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var fsErr *engine.Error
	if errors.As(err, &fsErr) {
		errno := engine.Errno(fsErr)
		errLogger.Trace("Converting engine error to %v: %v", errno, fsErr)
		return errno
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	errLogger.Debug("Unknown error type, returning EIO: %v", err)
	return syscall.EIO
}

// IsTemporary returns true if the error is likely temporary and the
// operation could succeed if retried.
func IsTemporary(err error) bool {
	switch {
	case errors.Is(err, syscall.EAGAIN):
		return true
	case errors.Is(err, syscall.EBUSY):
		return true
	case errors.Is(err, syscall.EINTR):
		return true
	default:
		return false
	}
}
