package fs

import (
	"os"
	"strconv"
)

// blocks returns the number of 512-byte blocks a file of size bytes
// occupies, as stat reports it.
func blocks(size uint64) uint64 {
	return (size + 511) / 512
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// Owner returns the uid and gid reported for every node: the PUID and
// PGID environment variables when set, otherwise the current process.
func Owner() (uid, gid uint32) {
	uid = safeIntToUint32(os.Getuid())
	gid = safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			vfsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			vfsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}
	return uid, gid
}
