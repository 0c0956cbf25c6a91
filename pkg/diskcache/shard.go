package diskcache

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/marmos91/imagecache/pkg/cachekey"
)

// shard owns one independent append-structured metadata log plus its
// in-memory index, per §4.G.2. shardOf(key) = key[0:4] mod shardCount
// assigns a key to exactly one shard.
type shard struct {
	mu           sync.RWMutex
	index        map[cachekey.Key]*Entry
	currentBytes int64

	logPath string
	lock    *flockHandle
}

// newShard opens (creating if needed) shard i's log under metaRoot,
// acquires its exclusive conflict-detection lock, and replays its log into
// an in-memory index.
func newShard(metaRoot string, i int) (*shard, error) {
	dir := filepath.Join(metaRoot, shardDirName(i))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	logPath := filepath.Join(dir, walFileName)

	lock, err := acquireExclusiveLock(filepath.Join(dir, "LOCK"))
	if err != nil {
		return nil, ErrInstanceConflict
	}

	index, err := replayLog(logPath)
	if err != nil {
		_ = lock.release()
		return nil, err
	}

	var total int64
	for _, e := range index {
		total += e.EstDiskSize
	}

	return &shard{
		index:        index,
		currentBytes: total,
		logPath:      logPath,
		lock:         lock,
	}, nil
}

func shardDirName(i int) string {
	return "shard-" + strconv.Itoa(i)
}

// close releases the shard's conflict-detection lock.
func (s *shard) close() error {
	return s.lock.release()
}

// upsert records entry in the in-memory index and appends an Upsert record
// to the log. Caller must hold s.mu for writing.
func (s *shard) upsert(e Entry) error {
	frame := encodeRecord(walRecord{Timestamp: e.CreatedAt, Op: opUpsert, Entry: e})
	if err := appendLog(s.logPath, frame); err != nil {
		return err
	}
	if old, ok := s.index[e.Hash]; ok {
		s.currentBytes -= old.EstDiskSize
	}
	entryCopy := e
	s.index[e.Hash] = &entryCopy
	s.currentBytes += e.EstDiskSize
	return nil
}

// delete removes entry's record from the index and appends a Delete
// tombstone. Caller must hold s.mu for writing.
func (s *shard) delete(key cachekey.Key) error {
	e, ok := s.index[key]
	if !ok {
		return nil
	}
	frame := encodeRecord(walRecord{Op: opDelete, Entry: Entry{Hash: key}})
	if err := appendLog(s.logPath, frame); err != nil {
		return err
	}
	s.currentBytes -= e.EstDiskSize
	delete(s.index, key)
	return nil
}

// get returns a copy of the entry for key, if present. Caller must hold
// s.mu for reading.
func (s *shard) get(key cachekey.Key) (Entry, bool) {
	e, ok := s.index[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// snapshot returns a copy of every entry currently indexed. Caller must
// hold s.mu for reading.
func (s *shard) snapshot() []Entry {
	out := make([]Entry, 0, len(s.index))
	for _, e := range s.index {
		out = append(out, *e)
	}
	return out
}
