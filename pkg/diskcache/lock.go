package diskcache

import (
	"os"

	"golang.org/x/sys/unix"
)

// flockHandle wraps an exclusive, non-blocking advisory lock on a shard's
// LOCK file, used for startup conflict detection per §4.G.2: failure to
// acquire raises ErrInstanceConflict, since no two processes may mount the
// same cache directory.
type flockHandle struct {
	file *os.File
}

// acquireExclusiveLock opens (creating if needed) path and takes a
// non-blocking exclusive flock on it. The lock is released by calling
// release, typically at shutdown or on startup failure.
func acquireExclusiveLock(path string) (*flockHandle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, err
	}

	return &flockHandle{file: f}, nil
}

// release drops the flock and closes the underlying file descriptor.
func (h *flockHandle) release() error {
	if h == nil || h.file == nil {
		return nil
	}
	_ = unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	return h.file.Close()
}
