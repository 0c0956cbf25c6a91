// Package diskcache implements the tiered disk cache engine of §4.G:
// content-addressed path layout, per-shard append-only metadata, space
// reservation, least-frequently-used eviction, and a streaming file writer.
package diskcache

import (
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/marmos91/imagecache/pkg/cachekey"
	"github.com/marmos91/imagecache/pkg/runner"
)

// Metrics receives disk engine observability events. A nil Metrics is
// valid everywhere and costs nothing (every call site guards with a nil
// check before invoking it).
type Metrics interface {
	RecordCacheBytes(bytes int64)
	RecordEviction(freedBytes int64, count int)
}

// WriteResult classifies the outcome of TryWriteFile.
type WriteResult int

const (
	FileCreated WriteResult = iota
	FileAlreadyExists
	FileWriteErr
	LockTimeout
)

// Config configures an Engine.
type Config struct {
	// Root is the directory content files are written under.
	Root string
	// MetaRoot is the directory metadata shard logs live under. Defaults
	// to Root/meta when empty.
	MetaRoot string
	// Shards is the number of independent metadata shards; shardOf
	// assigns a key to shard key[0:4] mod Shards. Defaults to 16.
	Shards int
	// Extension is appended to every content file (without the leading
	// dot); empty means no extension.
	Extension string

	MaxCacheBytes      int64
	SoftWatermark      int64
	MinCleanupBytes    int64
	MinAgeToDelete     time.Duration
	RetryDeletionAfter time.Duration

	// CleanupInterval is how often the background runner wakes to check
	// softWatermark. Defaults to 30s.
	CleanupInterval time.Duration

	// Metrics, if set, receives cache-byte and eviction observations.
	Metrics Metrics
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MetaRoot == "" {
		out.MetaRoot = filepath.Join(out.Root, "meta")
	}
	if out.Shards <= 0 {
		out.Shards = 16
	}
	if out.MinAgeToDelete < 0 {
		out.MinAgeToDelete = 5 * time.Minute
	}
	if out.RetryDeletionAfter <= 0 {
		out.RetryDeletionAfter = time.Minute
	}
	if out.CleanupInterval <= 0 {
		out.CleanupInterval = 30 * time.Second
	}
	return out
}

// Engine is the disk tier's content-addressed store: path layout, sharded
// metadata, space reservation with LFU eviction, and a file writer.
type Engine struct {
	cfg     Config
	paths   *pathBuilder
	shards  []*shard
	counter *bucketCounter
	locks   *keyLockPool

	cleanup *runner.Runner[struct{}]
}

// New opens (or creates) the cache rooted at cfg.Root, acquiring an
// exclusive conflict-detection lock on every metadata shard. A second
// process opening the same Root fails with ErrInstanceConflict.
func New(cfg Config) (*Engine, error) {
	c := cfg.withDefaults()

	if err := os.MkdirAll(c.Root, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(c.Root, metaDirName), 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.MetaRoot, 0755); err != nil {
		return nil, err
	}

	shards := make([]*shard, c.Shards)
	for i := range shards {
		s, err := newShard(c.MetaRoot, i)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = shards[j].close()
			}
			return nil, err
		}
		shards[i] = s
	}

	e := &Engine{
		cfg:     c,
		paths:   newPathBuilder(c.Root, c.Extension),
		shards:  shards,
		counter: newBucketCounter(16), // 65536 slots
		locks:   newKeyLockPool(),
	}
	e.cleanup = runner.New(e.cleanupOnce, 0, 0)
	return e, nil
}

// Close releases every shard's conflict-detection lock and stops the
// background cleanup runner.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.cleanup.StopAsync(ctx); err != nil {
		return err
	}
	var firstErr error
	for _, s := range e.shards {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// shardOf implements shardOf(key) = key[0:4] mod shards.
func (e *Engine) shardOf(key cachekey.Key) *shard {
	idx := int(binary.LittleEndian.Uint32(key[0:4]) % uint32(len(e.shards)))
	return e.shards[idx]
}

func accessCountKeyFor(key cachekey.Key) uint64 {
	// hash(hash): a second, independent fold of the key's bytes so the
	// bucket counter's distribution doesn't mirror shard selection.
	h := key.Hash()
	return h ^ (h >> 33)
}

// TryReserveSpace admits entry's estimated size into the cache's
// accounting, evicting LFU victims first if allowEviction is set and the
// budget would otherwise be exceeded (§4.G.4). On success the metadata
// record is upserted with a future CreatedAt sentinel; MarkFileCreated
// rewrites it once the bytes are actually on disk.
func (e *Engine) TryReserveSpace(ctx context.Context, entry Entry, allowEviction bool) (bool, error) {
	if e.cfg.MaxCacheBytes <= 0 {
		return e.upsertSentinel(entry)
	}

	total := e.totalBytes()
	if total+entry.EstDiskSize <= e.cfg.MaxCacheBytes {
		return e.upsertSentinel(entry)
	}
	if !allowEviction {
		return false, ErrSpaceExhausted
	}

	needed := total + entry.EstDiskSize - e.cfg.MaxCacheBytes
	if needed < e.cfg.MinCleanupBytes {
		needed = e.cfg.MinCleanupBytes
	}
	if err := e.evict(ctx, needed); err != nil {
		return false, err
	}
	if e.totalBytes()+entry.EstDiskSize > e.cfg.MaxCacheBytes {
		return false, ErrSpaceExhausted
	}
	return e.upsertSentinel(entry)
}

func (e *Engine) upsertSentinel(entry Entry) (bool, error) {
	entry.CreatedAt = time.Now().Add(24 * time.Hour)
	entry.AccessCountKey = accessCountKeyFor(entry.Hash)
	if entry.RelativePath == "" {
		entry.RelativePath = e.paths.relativePath(entry.Hash)
	}

	s := e.shardOf(entry.Hash)
	s.mu.Lock()
	err := s.upsert(entry)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.RecordCacheBytes(e.totalBytes())
	}
	return true, nil
}

// MarkFileCreated rewrites key's CreatedAt to now, committing the entry:
// invariant 2 ("a disk entry's file exists iff its metadata record's
// CreatedAt <= now") only holds once this has run.
func (e *Engine) MarkFileCreated(key cachekey.Key) error {
	s := e.shardOf(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.get(key)
	if !ok {
		return nil
	}
	existing.CreatedAt = time.Now()
	return s.upsert(existing)
}

func (e *Engine) totalBytes() int64 {
	var total int64
	for _, s := range e.shards {
		s.mu.RLock()
		total += s.currentBytes
		s.mu.RUnlock()
	}
	return total
}

// TryWriteFile stages bytes produced by writerFn at the target physical
// path's ".tmp" sibling, then atomically renames into place (§4.G.3).
// Fsync is not required; the metadata record is ground truth for torn
// writes.
func (e *Engine) TryWriteFile(ctx context.Context, key cachekey.Key, recheckFirst bool, timeout time.Duration, writerFn func(io.Writer) error) (WriteResult, error) {
	release, err := e.acquireKeyLock(ctx, key, timeout)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return LockTimeout, err
		}
		return FileWriteErr, err
	}
	defer release()

	target := e.paths.physicalPath(key)
	if recheckFirst {
		if _, err := os.Stat(target); err == nil {
			return FileAlreadyExists, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return FileWriteErr, err
	}

	tmp := e.paths.tempPath(key)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return FileWriteErr, err
	}

	if err := writerFn(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return FileWriteErr, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return FileWriteErr, err
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return FileWriteErr, err
	}

	return FileCreated, nil
}

func (e *Engine) acquireKeyLock(ctx context.Context, key cachekey.Key, timeout time.Duration) (func(), error) {
	lockCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return e.locks.acquire(lockCtx, key)
}

// FetchAsync looks up key's metadata record and, if present and committed
// (CreatedAt <= now), opens its file for streaming read. A bare file
// without a record, a missing file, or any I/O error on open is treated as
// a miss (§4.G.5). The metadata record is read before the file is opened,
// and the returned content type comes from that record.
func (e *Engine) FetchAsync(ctx context.Context, key cachekey.Key) (io.ReadCloser, string, bool) {
	s := e.shardOf(key)
	s.mu.RLock()
	entry, ok := s.get(key)
	s.mu.RUnlock()

	e.NotifyUsed(key)

	if !ok {
		return nil, "", false
	}
	if entry.CreatedAt.After(time.Now()) {
		return nil, "", false // reserved but not yet committed
	}

	f, err := os.Open(e.paths.physicalPath(key))
	if err != nil {
		return nil, "", false
	}
	return f, entry.ContentType, true
}

// NotifyUsed records an access against key's bucket counter. FetchAsync
// calls it on every lookup, hit or miss; callers may also call it whenever
// they otherwise touch an entry.
func (e *Engine) NotifyUsed(key cachekey.Key) {
	e.counter.Increment(accessCountKeyFor(key))
}

// Invalidate removes key's metadata record and its backing file, if any.
func (e *Engine) Invalidate(ctx context.Context, key cachekey.Key) (bool, error) {
	release, err := e.acquireKeyLock(ctx, key, 0)
	if err != nil {
		return false, err
	}
	defer release()

	s := e.shardOf(key)
	s.mu.Lock()
	_, existed := s.get(key)
	derr := s.delete(key)
	s.mu.Unlock()
	if derr != nil {
		return false, derr
	}
	if !existed {
		return false, nil
	}

	if err := os.Remove(e.paths.physicalPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true, err
	}
	return true, nil
}

// PurgeBySource removes every entry whose key shares sourceHash, returning
// the count removed.
func (e *Engine) PurgeBySource(ctx context.Context, sourceHash string) (int, error) {
	var victims []cachekey.Key
	for _, s := range e.shards {
		s.mu.RLock()
		for k := range s.index {
			if k.SourcePrefix() == sourceHash {
				victims = append(victims, k)
			}
		}
		s.mu.RUnlock()
	}

	removed := 0
	for _, k := range victims {
		ok, err := e.Invalidate(ctx, k)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// evictionCandidate is a disk entry eligible for deletion, snapshotted
// under a shard read lock before sorting and acting (the pattern the
// teacher's in-memory LRU eviction also uses, generalized here to LFU).
type evictionCandidate struct {
	key         cachekey.Key
	estDiskSize int64
	accessCount uint16
	createdAt   time.Time
}

// evict frees at least needed bytes using ascending access-count order
// (least-used first), ties broken by ascending CreatedAt. This ordering is
// the historically critical correctness property (§4.G.4): reversing it
// destroys cache value under Zipfian traffic.
func (e *Engine) evict(ctx context.Context, needed int64) error {
	now := time.Now()

	var candidates []evictionCandidate
	for _, s := range e.shards {
		s.mu.RLock()
		for _, entry := range s.snapshot() {
			if now.Sub(entry.CreatedAt) < e.cfg.MinAgeToDelete {
				continue
			}
			if !entry.LastDeletionAttempt.IsZero() && now.Sub(entry.LastDeletionAttempt) < e.cfg.RetryDeletionAfter {
				continue
			}
			candidates = append(candidates, evictionCandidate{
				key:         entry.Hash,
				estDiskSize: entry.EstDiskSize,
				accessCount: e.counter.Count(entry.AccessCountKey),
				createdAt:   entry.CreatedAt,
			})
		}
		s.mu.RUnlock()
	}

	slices.SortFunc(candidates, func(a, b evictionCandidate) int {
		if c := cmp.Compare(a.accessCount, b.accessCount); c != 0 {
			return c
		}
		return cmp.Compare(a.createdAt.UnixNano(), b.createdAt.UnixNano())
	})

	var freed int64
	var evicted int
	for _, c := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if freed >= needed {
			break
		}

		release, err := e.acquireKeyLock(ctx, c.key, 0)
		if err != nil {
			continue
		}
		ok, derr := e.evictOne(c.key)
		release()
		if derr != nil {
			continue
		}
		if ok {
			freed += c.estDiskSize
			evicted++
		}
	}
	if e.cfg.Metrics != nil && evicted > 0 {
		e.cfg.Metrics.RecordEviction(freed, evicted)
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.RecordCacheBytes(e.totalBytes())
	}
	return nil
}

func (e *Engine) evictOne(key cachekey.Key) (bool, error) {
	s := e.shardOf(key)
	s.mu.Lock()
	entry, ok := s.get(key)
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	derr := s.delete(key)
	s.mu.Unlock()
	if derr != nil {
		return false, derr
	}

	if err := os.Remove(e.paths.physicalPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		// Record the failed attempt so RetryDeletionAfter throttles
		// future retries, same as a failed deletion in the live index.
		entry.LastDeletionAttempt = time.Now()
		s.mu.Lock()
		_ = s.upsert(entry)
		s.mu.Unlock()
		return false, err
	}
	return true, nil
}

// EvictLRU is kept as a direct, explicit-call analogue to the background
// runner's watermark eviction, useful for tests and operator-triggered
// cleanup.
func (e *Engine) EvictLRU(ctx context.Context, targetFreeBytes int64) error {
	return e.evict(ctx, targetFreeBytes)
}

// StartBackgroundCleanup launches the non-overlapping cleanup runner
// (§4.G.6): it wakes every CleanupInterval, and if total bytes exceed
// SoftWatermark, evicts down to SoftWatermark - MinCleanupBytes.
func (e *Engine) StartBackgroundCleanup() {
	go func() {
		ticker := time.NewTicker(e.cfg.CleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			e.cleanup.FireAndForget(e.cfg.CleanupInterval)
		}
	}()
}

func (e *Engine) cleanupOnce(ctx context.Context) (struct{}, error) {
	if e.cfg.SoftWatermark <= 0 {
		return struct{}{}, nil
	}
	total := e.totalBytes()
	if total <= e.cfg.SoftWatermark {
		return struct{}{}, nil
	}
	target := e.cfg.SoftWatermark - e.cfg.MinCleanupBytes
	if target < 0 {
		target = 0
	}
	return struct{}{}, e.evict(ctx, total-target)
}

// TestRootDirectory is a periodic self-check (§4.I): it verifies the
// content root is still a writable directory. Transient failures are
// logged by the caller but never change provider capabilities.
func (e *Engine) TestRootDirectory() bool {
	info, err := os.Stat(e.cfg.Root)
	if err != nil || !info.IsDir() {
		return false
	}
	probe := filepath.Join(e.cfg.Root, ".health-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// TestMetaStore is a periodic self-check (§4.I) that every shard's log can
// be stat'ed; a log that does not exist yet counts as healthy. The log's
// contents are not read.
func (e *Engine) TestMetaStore() bool {
	for _, s := range e.shards {
		s.mu.RLock()
		_, err := os.Stat(s.logPath)
		s.mu.RUnlock()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return false
		}
	}
	return true
}

// TotalBytes exposes the current cross-shard total, e.g. for metrics.
func (e *Engine) TotalBytes() int64 {
	return e.totalBytes()
}

// MetaPath returns the absolute path for a reserved meta key (e.g.
// "bloom/v1"), rooted at {root}/__meta/.
func (e *Engine) MetaPath(metaKey string) string {
	return e.paths.metaPath(metaKey)
}

// WriteMetaBlob writes data to path atomically (temp file + rename), for
// small non-content blobs such as bloom checkpoints.
func (e *Engine) WriteMetaBlob(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ReadMetaBlob reads the blob written by WriteMetaBlob.
func (e *Engine) ReadMetaBlob(path string) ([]byte, error) {
	return os.ReadFile(path)
}
