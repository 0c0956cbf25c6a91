// Package memory implements the fastest cache tier: an in-process,
// insert-only map keyed by cachekey.Key. All data is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/imagecache/pkg/cachekey"
	"github.com/marmos91/imagecache/pkg/provider"
)

type entry struct {
	data     []byte
	meta     provider.EntryMetadata
	storedAt time.Time
}

// Provider is an in-memory cache tier. Stores are insert-only: a concurrent
// store racing against an existing entry for the same key discards its own
// bytes rather than overwriting (decision for the source's TryAdd
// semantics).
type Provider struct {
	name string

	mu      sync.RWMutex
	entries map[cachekey.Key]*entry

	maxBytes     int64
	currentBytes int64
}

// Config configures a memory Provider.
type Config struct {
	// Name identifies this provider within a cascade. Defaults to "memory".
	Name string
	// MaxBytes bounds total resident size; 0 means unbounded.
	MaxBytes int64
}

// New constructs a memory Provider.
func New(cfg Config) *Provider {
	name := cfg.Name
	if name == "" {
		name = "memory"
	}
	return &Provider{
		name:     name,
		entries:  make(map[cachekey.Key]*entry),
		maxBytes: cfg.MaxBytes,
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.name }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		RequiresInlineExecution: true,
		LatencyZone:             provider.LatencyZoneMemory,
		IsLocal:                 true,
	}
}

// FetchAsync implements provider.Provider.
func (p *Provider) FetchAsync(ctx context.Context, key cachekey.Key) (*provider.FetchResult, error) {
	p.mu.RLock()
	e, ok := p.entries[key]
	p.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &provider.FetchResult{Data: e.data, Metadata: e.meta}, nil
}

// StoreAsync implements provider.Provider. A key already present keeps its
// original bytes; the new store is silently discarded (insert-only).
func (p *Provider) StoreAsync(ctx context.Context, key cachekey.Key, data []byte, meta provider.EntryMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[key]; exists {
		return nil
	}
	if p.maxBytes > 0 && p.currentBytes+int64(len(data)) > p.maxBytes {
		return nil // cache miss on capacity, not an error
	}

	p.entries[key] = &entry{data: data, meta: meta, storedAt: time.Now()}
	p.currentBytes += int64(len(data))
	return nil
}

// InvalidateAsync implements provider.Provider.
func (p *Provider) InvalidateAsync(ctx context.Context, key cachekey.Key) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return false, nil
	}
	delete(p.entries, key)
	p.currentBytes -= int64(len(e.data))
	return true, nil
}

// PurgeBySourceAsync implements provider.Provider.
func (p *Provider) PurgeBySourceAsync(ctx context.Context, sourceHash string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, e := range p.entries {
		if key.SourcePrefix() != sourceHash {
			continue
		}
		delete(p.entries, key)
		p.currentBytes -= int64(len(e.data))
		removed++
	}
	return removed, nil
}

// WantsToStore implements provider.Provider: memory always wants a copy of
// anything that fits, regardless of reason.
func (p *Provider) WantsToStore(key cachekey.Key, sizeBytes int64, reason provider.WantsToStoreReason) bool {
	if p.maxBytes <= 0 {
		return true
	}
	return sizeBytes <= p.maxBytes
}

// ProbablyContains implements provider.Provider: memory is always consulted
// directly, never bloom-gated (it's local).
func (p *Provider) ProbablyContains(key cachekey.Key) bool {
	return true
}

// HealthCheckAsync implements provider.Provider: memory has no external
// dependency, so it's always healthy.
func (p *Provider) HealthCheckAsync(ctx context.Context) bool {
	return true
}

// Count returns the current number of resident entries, for metrics.
func (p *Provider) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// CurrentBytes returns the current resident byte total, for metrics.
func (p *Provider) CurrentBytes() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentBytes
}

var _ provider.Provider = (*Provider)(nil)
