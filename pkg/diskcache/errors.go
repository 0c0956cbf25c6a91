package diskcache

import "errors"

var (
	// ErrLockTimeout is returned when a writer couldn't acquire its
	// per-key lock within the caller's deadline.
	ErrLockTimeout = errors.New("diskcache: lock timeout")

	// ErrInstanceConflict is returned at startup when a shard's log file
	// is already locked by another process. Fatal: no two processes may
	// mount the same cache directory.
	ErrInstanceConflict = errors.New("diskcache: another instance holds this cache directory")

	// ErrFileAlreadyExists is returned by TryWriteFile when recheckFirst
	// is set and the target file is already present.
	ErrFileAlreadyExists = errors.New("diskcache: file already exists")

	// ErrCorruptShard is returned by the log record parser for a record
	// body too short or malformed to decode. It does not surface from New:
	// replay treats the first unreadable record (short, CRC mismatch, or
	// malformed) as the end of the log and keeps the records before it.
	ErrCorruptShard = errors.New("diskcache: corrupt metadata shard")

	// ErrSpaceExhausted is returned by TryReserveSpace when eviction could
	// not free enough room. The caller drops the store silently; it's
	// cache.
	ErrSpaceExhausted = errors.New("diskcache: could not free enough space")
)
