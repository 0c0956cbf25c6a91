package diskcache

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/imagecache/pkg/cachekey"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg.Root = dir
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Close(context.Background())
	})
	return e
}

func writeAndCommit(t *testing.T, e *Engine, key cachekey.Key, body []byte) {
	t.Helper()
	ok, err := e.TryReserveSpace(context.Background(), Entry{
		Hash:        key,
		ContentType: "image/jpeg",
		EstDiskSize: int64(len(body)),
	}, true)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := e.TryWriteFile(context.Background(), key, false, time.Second, func(w io.Writer) error {
		_, err := w.Write(body)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, FileCreated, res)
	require.NoError(t, e.MarkFileCreated(key))
}

func TestEngine_WriteThenFetchRoundTrip(t *testing.T) {
	e := newTestEngine(t, Config{Shards: 4})
	key := cachekey.FromStrings("source-a", "variant-1")
	body := []byte("hello cache")

	writeAndCommit(t, e, key, body)

	rc, contentType, ok := e.FetchAsync(context.Background(), key)
	require.True(t, ok)
	require.Equal(t, "image/jpeg", contentType)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestEngine_FetchMissOnUnknownKey(t *testing.T) {
	e := newTestEngine(t, Config{Shards: 4})
	key := cachekey.FromStrings("never", "seen")

	_, _, ok := e.FetchAsync(context.Background(), key)
	require.False(t, ok)
}

func TestEngine_FetchMissWhileReservedNotYetCommitted(t *testing.T) {
	e := newTestEngine(t, Config{Shards: 4})
	key := cachekey.FromStrings("pending", "v1")

	ok, err := e.TryReserveSpace(context.Background(), Entry{Hash: key, EstDiskSize: 10}, true)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, hit := e.FetchAsync(context.Background(), key)
	require.False(t, hit, "a reserved-but-uncommitted entry must not be servable")
}

func TestEngine_Invalidate(t *testing.T) {
	e := newTestEngine(t, Config{Shards: 4})
	key := cachekey.FromStrings("src", "v1")
	writeAndCommit(t, e, key, []byte("payload"))

	removed, err := e.Invalidate(context.Background(), key)
	require.NoError(t, err)
	require.True(t, removed)

	_, _, ok := e.FetchAsync(context.Background(), key)
	require.False(t, ok)

	_, err = os.Stat(e.paths.physicalPath(key))
	require.True(t, os.IsNotExist(err))
}

func TestEngine_PurgeBySource(t *testing.T) {
	e := newTestEngine(t, Config{Shards: 4})
	k1 := cachekey.FromStrings("shared-source", "thumb")
	k2 := cachekey.FromStrings("shared-source", "full")
	k3 := cachekey.FromStrings("other-source", "thumb")

	writeAndCommit(t, e, k1, []byte("a"))
	writeAndCommit(t, e, k2, []byte("b"))
	writeAndCommit(t, e, k3, []byte("c"))

	n, err := e.PurgeBySource(context.Background(), k1.SourcePrefix())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, _, ok := e.FetchAsync(context.Background(), k3)
	require.True(t, ok, "purge must not touch entries from a different source")
}

func TestEngine_EvictionPrefersLeastUsed(t *testing.T) {
	e := newTestEngine(t, Config{
		Shards:         1,
		MaxCacheBytes:  30,
		MinCleanupBytes: 1,
		MinAgeToDelete: 0,
	})

	hot := cachekey.FromStrings("hot", "v1")
	cold := cachekey.FromStrings("cold", "v1")

	writeAndCommit(t, e, hot, bytes.Repeat([]byte("x"), 10))
	writeAndCommit(t, e, cold, bytes.Repeat([]byte("y"), 10))

	// Access hot repeatedly so its bucket counter clearly exceeds cold's.
	for i := 0; i < 5; i++ {
		rc, _, ok := e.FetchAsync(context.Background(), hot)
		require.True(t, ok)
		rc.Close()
	}

	third := cachekey.FromStrings("third", "v1")
	ok, err := e.TryReserveSpace(context.Background(), Entry{
		Hash:        third,
		EstDiskSize: 15,
	}, true)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, hotStillThere := e.FetchAsync(context.Background(), hot)
	require.True(t, hotStillThere, "frequently accessed entry must survive eviction")
}

func TestEngine_InstanceConflictOnSecondOpen(t *testing.T) {
	dir := t.TempDir()
	e1, err := New(Config{Root: dir, Shards: 2})
	require.NoError(t, err)
	defer e1.Close(context.Background())

	_, err = New(Config{Root: dir, Shards: 2})
	require.ErrorIs(t, err, ErrInstanceConflict)
}

func TestEngine_TryWriteFileRecheckFindsExisting(t *testing.T) {
	e := newTestEngine(t, Config{Shards: 2})
	key := cachekey.FromStrings("src", "v1")
	writeAndCommit(t, e, key, []byte("first"))

	res, err := e.TryWriteFile(context.Background(), key, true, time.Second, func(w io.Writer) error {
		_, err := w.Write([]byte("second"))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, FileAlreadyExists, res)
}

func TestEngine_HealthChecks(t *testing.T) {
	e := newTestEngine(t, Config{Shards: 2})
	require.True(t, e.TestRootDirectory())
	require.True(t, e.TestMetaStore())
}
