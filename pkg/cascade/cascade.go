// Package cascade implements the tiered cache orchestration engine: an
// ordered list of providers, bloom-gated remote lookups, subscription-based
// replication after a hit or a fresh factory run, and bloom checkpoint
// lifecycle management.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/imagecache/internal/logger"
	"github.com/marmos91/imagecache/pkg/bloom"
	"github.com/marmos91/imagecache/pkg/cachekey"
	"github.com/marmos91/imagecache/pkg/coalesce"
	"github.com/marmos91/imagecache/pkg/provider"
	"github.com/marmos91/imagecache/pkg/uploadqueue"
)

// Status classifies the outcome of GetOrCreateAsync.
type Status int

const (
	Created Status = iota
	MemoryHit
	DiskHit
	CloudHit
	OtherHit
	TimeoutStatus
	ErrorStatus
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Created:
		return "Created"
	case MemoryHit:
		return "MemoryHit"
	case DiskHit:
		return "DiskHit"
	case CloudHit:
		return "CloudHit"
	case OtherHit:
		return "Hit"
	case TimeoutStatus:
		return "Timeout"
	case ErrorStatus:
		return "Error"
	default:
		return "Unknown"
	}
}

// Result is returned by GetOrCreateAsync.
type Result struct {
	Status       Status
	ProviderName string
	ContentType  string
	Latency      time.Duration
	Data         []byte
	DataStream   io.ReadCloser
	ErrorDetail  error
}

// Close releases the underlying stream, if any.
func (r *Result) Close() error {
	if r == nil || r.DataStream == nil {
		return nil
	}
	return r.DataStream.Close()
}

// FactoryResult is what a factory function returns on success.
type FactoryResult struct {
	Data        []byte
	ContentType string
}

// Factory produces fresh bytes for a key on a full miss. Returning a nil
// *FactoryResult (with a nil error) signals "nothing to cache" rather than
// an error.
type Factory func(ctx context.Context) (*FactoryResult, error)

// EventKind classifies a cascade event emitted through the configured
// callback.
type EventKind int

const (
	EventMiss EventKind = iota
	EventHit
	EventStore
	EventError
)

// Event is delivered to the optional OnEvent callback.
type Event struct {
	Kind     EventKind
	Key      cachekey.Key
	Provider string
	Err      error
}

// ErrDuplicateProvider is returned by RegisterProvider when Name is already
// registered.
var ErrDuplicateProvider = errors.New("cascade: provider already registered")

// Config configures a Cascade.
type Config struct {
	Bloom             *bloom.Filter
	CoalescingTimeout time.Duration
	UploadQueue       *uploadqueue.Queue
	OnEvent           func(Event)
}

// Cascade orchestrates an ordered set of providers behind a single
// GetOrCreateAsync/InvalidateAsync/PurgeBySourceAsync surface.
type Cascade struct {
	mu        sync.RWMutex
	providers []provider.Provider
	byName    map[string]provider.Provider

	bloomFilter *bloom.Filter
	coalescer   *coalesce.Coalescer[*FactoryResult]
	uploads     *uploadqueue.Queue
	timeout     time.Duration

	onEvent func(Event)
}

// New constructs an empty Cascade; call RegisterProvider to add tiers.
func New(cfg Config) *Cascade {
	bf := cfg.Bloom
	if bf == nil {
		bf, _ = bloom.New(100_000, 0.01, 4)
	}
	timeout := cfg.CoalescingTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Cascade{
		byName:      make(map[string]provider.Provider),
		bloomFilter: bf,
		coalescer:   coalesce.New[*FactoryResult](),
		uploads:     cfg.UploadQueue,
		timeout:     timeout,
		onEvent:     cfg.OnEvent,
	}
}

// RegisterProvider appends p to the cascade's ordered tier list. Providers
// are consulted in registration order on the read path.
func (c *Cascade) RegisterProvider(p provider.Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byName[p.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name())
	}
	c.byName[p.Name()] = p
	c.providers = append(c.providers, p)
	return nil
}

func (c *Cascade) snapshotProviders() []provider.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]provider.Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

func (c *Cascade) emit(evt Event) {
	if c.onEvent != nil {
		c.onEvent(evt)
	}
}

func bloomTag(key cachekey.Key, providerName string) string {
	return key.ToStringKey() + ":" + providerName
}

func statusForProvider(p provider.Provider) Status {
	switch p.Capabilities().LatencyZone {
	case provider.LatencyZoneMemory:
		return MemoryHit
	case provider.LatencyZoneDisk:
		return DiskHit
	case provider.LatencyZoneRemote:
		return CloudHit
	default:
		return OtherHit
	}
}

// GetOrCreateAsync is the cascade's read path (§4.F): scan providers in
// order (bloom-gating remote ones), replicate into interested non-hit
// providers on a hit, or coalesce a single factory invocation on a full
// miss and replicate the fresh result.
func (c *Cascade) GetOrCreateAsync(ctx context.Context, key cachekey.Key, factory Factory) (*Result, error) {
	start := time.Now()
	providers := c.snapshotProviders()

	var hit provider.Provider
	var hitResult *provider.FetchResult
	checked := make(map[string]bool, len(providers))
	bloomMissed := make(map[string]bool, len(providers))

	for _, p := range providers {
		if !p.Capabilities().IsLocal {
			if !c.bloomFilter.ProbablyContains(bloomTag(key, p.Name())) {
				bloomMissed[p.Name()] = true // positively known absent
				continue
			}
		}
		checked[p.Name()] = true

		res, err := p.FetchAsync(ctx, key)
		if err != nil {
			c.emit(Event{Kind: EventError, Key: key, Provider: p.Name(), Err: err})
			continue
		}
		if res != nil {
			hit = p
			hitResult = res
			break
		}
	}

	if hit != nil {
		return c.handleHit(ctx, key, providers, checked, bloomMissed, hit, hitResult, start)
	}

	return c.handleMiss(ctx, key, providers, factory, start)
}

func (c *Cascade) handleHit(ctx context.Context, key cachekey.Key, providers []provider.Provider, checked, bloomMissed map[string]bool, hit provider.Provider, res *provider.FetchResult, start time.Time) (*Result, error) {
	c.emit(Event{Kind: EventHit, Key: key, Provider: hit.Name()})

	var data []byte
	stream := res.DataStream

	subscribers := c.subscribersFor(providers, key, hit.Name(), checked, bloomMissed, res.Metadata.ContentLength, FreshReason(false))
	if len(subscribers) > 0 && stream != nil {
		buffered, err := io.ReadAll(stream)
		stream.Close()
		stream = nil
		if err != nil {
			return nil, err
		}
		data = buffered
	} else if stream == nil {
		data = res.Data
	}

	for _, sub := range subscribers {
		c.replicate(ctx, key, sub, data, res.Metadata)
	}

	result := &Result{
		Status:       statusForProvider(hit),
		ProviderName: hit.Name(),
		ContentType:  res.Metadata.ContentType,
		Latency:      time.Since(start),
		Data:         data,
		DataStream:   stream,
	}
	return result, nil
}

// FreshReason distinguishes the two call sites that compute a subscription
// set: false for a hit (reason per-provider is Missed/NotQueried), true for
// a fresh factory run (reason is always FreshlyCreated).
type FreshReason bool

// subscribersFor decides which non-hit providers should receive a
// replication store. On a hit (fresh == false), a provider that was
// actually fetched and came up empty, or a remote provider the bloom
// filter positively ruled out, is Missed; a provider the scan never
// reached (a closer tier hit first) is NotQueried.
func (c *Cascade) subscribersFor(providers []provider.Provider, key cachekey.Key, hitName string, checked, bloomMissed map[string]bool, size int64, fresh FreshReason) []provider.Provider {
	var out []provider.Provider
	for _, p := range providers {
		if p.Name() == hitName {
			continue
		}
		var reason provider.WantsToStoreReason
		if bool(fresh) {
			reason = provider.FreshlyCreated
		} else if checked[p.Name()] || bloomMissed[p.Name()] {
			reason = provider.Missed
		} else {
			reason = provider.NotQueried
		}
		if p.WantsToStore(key, size, reason) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Cascade) replicate(ctx context.Context, key cachekey.Key, p provider.Provider, data []byte, meta provider.EntryMetadata) {
	store := func() {
		if err := p.StoreAsync(ctx, key, data, meta); err != nil {
			c.emit(Event{Kind: EventError, Key: key, Provider: p.Name(), Err: err})
			return
		}
		c.emit(Event{Kind: EventStore, Key: key, Provider: p.Name()})
		if !p.Capabilities().IsLocal {
			c.bloomFilter.Insert(bloomTag(key, p.Name()))
		}
	}

	if p.Capabilities().RequiresInlineExecution || c.uploads == nil {
		store()
		return
	}

	admitted := c.uploads.TryEnqueue(key.ToStringKey()+":"+p.Name(), data, meta, func(ctx context.Context, body []byte) error {
		return p.StoreAsync(ctx, key, body, meta)
	})
	switch admitted {
	case uploadqueue.Enqueued:
		if !p.Capabilities().IsLocal {
			c.bloomFilter.Insert(bloomTag(key, p.Name()))
		}
	case uploadqueue.AlreadyPresent:
	case uploadqueue.QueueFull:
		logger.Warn("upload queue full, storing inline", logger.Provider(p.Name()), logger.CacheKey(key.ToStringKey()))
		store()
	}
}

func (c *Cascade) handleMiss(ctx context.Context, key cachekey.Key, providers []provider.Provider, factory Factory, start time.Time) (*Result, error) {
	c.emit(Event{Kind: EventMiss, Key: key})

	ok, fr, factoryErr := c.coalescer.TryExecuteAsync(ctx, key.ToStringKey(), c.timeout, func() (*FactoryResult, error) {
		return factory(ctx)
	})

	if factoryErr != nil {
		c.emit(Event{Kind: EventError, Key: key, Err: factoryErr})
		return nil, factoryErr
	}

	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Result{Status: TimeoutStatus, Latency: time.Since(start)}, nil
	}
	if fr == nil {
		c.emit(Event{Kind: EventError, Key: key})
		return &Result{Status: ErrorStatus, Latency: time.Since(start), ErrorDetail: errors.New("cascade: factory produced no result")}, nil
	}

	meta := provider.EntryMetadata{ContentType: fr.ContentType, ContentLength: int64(len(fr.Data))}
	for _, p := range providers {
		if p.WantsToStore(key, int64(len(fr.Data)), provider.FreshlyCreated) {
			c.replicateFresh(ctx, key, p, fr.Data, meta)
		}
	}

	return &Result{
		Status:      Created,
		ContentType: fr.ContentType,
		Latency:     time.Since(start),
		Data:        fr.Data,
	}, nil
}

func (c *Cascade) replicateFresh(ctx context.Context, key cachekey.Key, p provider.Provider, data []byte, meta provider.EntryMetadata) {
	c.replicate(ctx, key, p, data, meta)
}

// InvalidateAsync removes key from every registered provider concurrently;
// no tier is authoritative.
func (c *Cascade) InvalidateAsync(ctx context.Context, key cachekey.Key) error {
	providers := c.snapshotProviders()
	var wg sync.WaitGroup
	errs := make([]error, len(providers))
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			if _, err := p.InvalidateAsync(ctx, key); err != nil {
				errs[i] = err
			}
		}(i, p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// PurgeBySourceAsync sums PurgeBySourceAsync across every registered
// provider.
func (c *Cascade) PurgeBySourceAsync(ctx context.Context, sourceHash string) (int, error) {
	providers := c.snapshotProviders()
	total := 0
	for _, p := range providers {
		n, err := p.PurgeBySourceAsync(ctx, sourceHash)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

const bloomMetaKey = "bloom/v1"

// CheckpointBloomFilterAsync writes the filter's serialized form under the
// reserved meta key via the last registered local provider implementing
// provider.BlobStore.
func (c *Cascade) CheckpointBloomFilterAsync(ctx context.Context) error {
	store := c.lastBlobStore()
	if store == nil {
		return errors.New("cascade: no provider implements BlobStore")
	}
	return store.PutBlob(ctx, bloomMetaKey, c.bloomFilter.ToBytes())
}

// LoadBloomFilterAsync loads a previously checkpointed filter.
func (c *Cascade) LoadBloomFilterAsync(ctx context.Context) error {
	store := c.lastBlobStore()
	if store == nil {
		return errors.New("cascade: no provider implements BlobStore")
	}
	data, err := store.GetBlob(ctx, bloomMetaKey)
	if err != nil {
		return err
	}
	return c.bloomFilter.FromBytes(data)
}

// MergeBloomFilterFromPeer merges a peer's serialized filter into this
// cascade's bloom filter via OR, for multi-instance deployments.
func (c *Cascade) MergeBloomFilterFromPeer(data []byte) error {
	return c.bloomFilter.MergeFromPeer(data)
}

// HealthCheckAsync aggregates per-provider health (§4.I): every registered
// provider is checked concurrently and its result is returned keyed by
// provider name; the results are not combined into a single verdict.
// Capabilities are static per provider and are never altered by a failed
// check here.
func (c *Cascade) HealthCheckAsync(ctx context.Context) map[string]bool {
	providers := c.snapshotProviders()
	out := make(map[string]bool, len(providers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p provider.Provider) {
			defer wg.Done()
			ok := p.HealthCheckAsync(ctx)
			mu.Lock()
			out[p.Name()] = ok
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return out
}

func (c *Cascade) lastBlobStore() provider.BlobStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var last provider.BlobStore
	for _, p := range c.providers {
		if !p.Capabilities().IsLocal {
			continue
		}
		if bs, ok := p.(provider.BlobStore); ok {
			last = bs
		}
	}
	return last
}
