package diskcache

import (
	"time"

	"github.com/marmos91/imagecache/pkg/cachekey"
)

// EntryFlag is a bitset of small boolean attributes carried on a CacheEntry.
type EntryFlag uint8

const (
	// FlagGenerated marks an entry whose content was produced by the
	// factory path (as opposed to replicated from another tier).
	FlagGenerated EntryFlag = 1 << iota
)

// Has reports whether flag is set.
func (f EntryFlag) Has(flag EntryFlag) bool {
	return f&flag != 0
}

// Entry is the disk tier's on-disk-backed metadata record. Identity is
// Hash; the file body lives on disk at PhysicalPath.
type Entry struct {
	Hash                cachekey.Key
	RelativePath        string
	ContentType         string
	AccessCountKey      uint64
	CreatedAt           time.Time
	LastDeletionAttempt time.Time
	EstDiskSize         int64
	Flags               EntryFlag
}

// HashString returns the lowercase-hex rendering of Hash.
func (e *Entry) HashString() string {
	return e.Hash.ToStringKey()
}

// op classifies a metadata log record.
type op uint8

const (
	opUpsert op = iota
	opDelete
)
