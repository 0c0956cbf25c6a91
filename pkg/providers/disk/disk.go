// Package disk adapts the content-addressed disk engine into the uniform
// provider.Provider contract.
package disk

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/marmos91/imagecache/pkg/cachekey"
	"github.com/marmos91/imagecache/pkg/diskcache"
	"github.com/marmos91/imagecache/pkg/provider"
)

// Provider is the disk cache tier.
type Provider struct {
	name   string
	engine *diskcache.Engine

	writeTimeout time.Duration
	minStoreSize int64
}

// Config configures a disk Provider.
type Config struct {
	// Name identifies this provider within a cascade. Defaults to "disk".
	Name string
	// Engine is the underlying content-addressed store. Required.
	Engine *diskcache.Engine
	// WriteTimeout bounds how long a single store waits for its per-key
	// lock. Defaults to 5s.
	WriteTimeout time.Duration
	// MinStoreSize, if set, makes WantsToStore reject anything smaller
	// (not worth a disk write).
	MinStoreSize int64
}

// New constructs a disk Provider over an already-open engine.
func New(cfg Config) *Provider {
	name := cfg.Name
	if name == "" {
		name = "disk"
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Provider{
		name:         name,
		engine:       cfg.Engine,
		writeTimeout: timeout,
		minStoreSize: cfg.MinStoreSize,
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.name }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		RequiresInlineExecution: false,
		LatencyZone:             provider.LatencyZoneDisk,
		IsLocal:                 true,
	}
}

// FetchAsync implements provider.Provider.
func (p *Provider) FetchAsync(ctx context.Context, key cachekey.Key) (*provider.FetchResult, error) {
	rc, contentType, ok := p.engine.FetchAsync(ctx, key)
	if !ok {
		return nil, nil
	}
	return &provider.FetchResult{
		DataStream: rc,
		Metadata:   provider.EntryMetadata{ContentType: contentType},
	}, nil
}

// StoreAsync implements provider.Provider: reserve space (evicting if
// needed), write the bytes to a temp file and rename into place, then
// commit the metadata record.
func (p *Provider) StoreAsync(ctx context.Context, key cachekey.Key, data []byte, meta provider.EntryMetadata) error {
	ok, err := p.engine.TryReserveSpace(ctx, diskcache.Entry{
		Hash:        key,
		ContentType: meta.ContentType,
		EstDiskSize: int64(len(data)),
	}, true)
	if err != nil {
		return err
	}
	if !ok {
		return nil // couldn't free enough room; drop the store, it's cache
	}

	res, err := p.engine.TryWriteFile(ctx, key, true, p.writeTimeout, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
	if err != nil {
		return err
	}
	if res == diskcache.FileAlreadyExists {
		return nil
	}
	return p.engine.MarkFileCreated(key)
}

// InvalidateAsync implements provider.Provider.
func (p *Provider) InvalidateAsync(ctx context.Context, key cachekey.Key) (bool, error) {
	return p.engine.Invalidate(ctx, key)
}

// PurgeBySourceAsync implements provider.Provider.
func (p *Provider) PurgeBySourceAsync(ctx context.Context, sourceHash string) (int, error) {
	return p.engine.PurgeBySource(ctx, sourceHash)
}

// WantsToStore implements provider.Provider (§4.G.7): a memory-tier miss
// doesn't mean disk is empty too — it missed faster, so disk likely already
// has it — so NotQueried is declined; FreshlyCreated and Missed both admit,
// subject to the minimum store size floor.
func (p *Provider) WantsToStore(key cachekey.Key, sizeBytes int64, reason provider.WantsToStoreReason) bool {
	if reason == provider.NotQueried {
		return false
	}
	return sizeBytes >= p.minStoreSize
}

// ProbablyContains implements provider.Provider: disk is local, always
// consulted directly.
func (p *Provider) ProbablyContains(key cachekey.Key) bool {
	return true
}

// HealthCheckAsync implements provider.Provider.
func (p *Provider) HealthCheckAsync(ctx context.Context) bool {
	return p.engine.TestRootDirectory() && p.engine.TestMetaStore()
}

// PutBlob implements provider.BlobStore, persisting small arbitrary blobs
// (bloom checkpoints) under the engine's reserved meta tree.
func (p *Provider) PutBlob(ctx context.Context, key string, data []byte) error {
	path := p.engine.MetaPath(key)
	return p.engine.WriteMetaBlob(path, data)
}

// GetBlob implements provider.BlobStore.
func (p *Provider) GetBlob(ctx context.Context, key string) ([]byte, error) {
	path := p.engine.MetaPath(key)
	return p.engine.ReadMetaBlob(path)
}

var (
	_ provider.Provider  = (*Provider)(nil)
	_ provider.BlobStore = (*Provider)(nil)
)
