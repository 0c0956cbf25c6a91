// Package provider defines the uniform tier contract every cache provider
// (memory, disk, cloud, ...) implements, plus the small value types the
// cascade passes across that contract.
package provider

import (
	"context"
	"io"

	"github.com/marmos91/imagecache/pkg/cachekey"
)

// WantsToStoreReason classifies why a provider is being asked whether it
// wants a replication store.
type WantsToStoreReason int

const (
	// FreshlyCreated means the cascade just ran the factory; this is a
	// brand-new artifact with no prior presence anywhere.
	FreshlyCreated WantsToStoreReason = iota
	// Missed means this provider was actively checked during the scan and
	// came back empty, or is a remote provider the bloom filter ruled out.
	Missed
	// NotQueried means the scan never reached this provider because a
	// faster tier already hit.
	NotQueried
)

// String implements fmt.Stringer.
func (r WantsToStoreReason) String() string {
	switch r {
	case FreshlyCreated:
		return "FreshlyCreated"
	case Missed:
		return "Missed"
	case NotQueried:
		return "NotQueried"
	default:
		return "Unknown"
	}
}

// LatencyZone gives callers a coarse notion of a tier's expected latency,
// used for logging and metrics labeling rather than scheduling decisions.
type LatencyZone int

const (
	LatencyZoneMemory LatencyZone = iota
	LatencyZoneDisk
	LatencyZoneRemote
)

// String implements fmt.Stringer.
func (z LatencyZone) String() string {
	switch z {
	case LatencyZoneMemory:
		return "memory"
	case LatencyZoneDisk:
		return "disk"
	case LatencyZoneRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Capabilities describes the static, provider-wide properties the cascade
// consults when deciding how to treat a tier. These never vary per-call.
type Capabilities struct {
	// RequiresInlineExecution means StoreAsync must complete before the
	// cascade returns its result to the caller (invariant 6).
	RequiresInlineExecution bool
	// LatencyZone classifies expected latency for logging/metrics.
	LatencyZone LatencyZone
	// IsLocal means the provider is always consulted directly; remote
	// (non-local) providers are gated by the bloom filter.
	IsLocal bool
}

// EntryMetadata carries the small attributes that travel beside cached
// bytes.
type EntryMetadata struct {
	ContentType   string
	ContentLength int64
}

// FetchResult is returned by a successful FetchAsync. Exactly one of Data or
// DataStream is meaningful; the consumer disposes the result via Close, and
// when a stream is present, Close closes the stream.
type FetchResult struct {
	Data       []byte
	DataStream io.ReadCloser
	Metadata   EntryMetadata
}

// Close releases the underlying stream, if any. It is a no-op when the
// result carries buffered Data instead.
func (r *FetchResult) Close() error {
	if r == nil || r.DataStream == nil {
		return nil
	}
	return r.DataStream.Close()
}

// Provider is the uniform contract every cache tier implements.
type Provider interface {
	// Name is unique across the cascade's registered providers.
	Name() string
	// Capabilities returns this provider's static properties.
	Capabilities() Capabilities
	// FetchAsync returns nil (not an error) on a miss.
	FetchAsync(ctx context.Context, key cachekey.Key) (*FetchResult, error)
	// StoreAsync replicates bytes and metadata into this tier.
	StoreAsync(ctx context.Context, key cachekey.Key, data []byte, meta EntryMetadata) error
	// InvalidateAsync removes key from this tier, reporting whether
	// anything was removed.
	InvalidateAsync(ctx context.Context, key cachekey.Key) (bool, error)
	// PurgeBySourceAsync removes every entry sharing sourceHash, returning
	// the count removed.
	PurgeBySourceAsync(ctx context.Context, sourceHash string) (int, error)
	// WantsToStore reports whether this provider wants a replication
	// store for key, given its size and the reason it's being offered.
	WantsToStore(key cachekey.Key, sizeBytes int64, reason WantsToStoreReason) bool
	// ProbablyContains reports whether key might be present. Local tiers
	// usually return true unconditionally; remote tiers are gated by the
	// cascade's bloom filter before this is even consulted.
	ProbablyContains(key cachekey.Key) bool
	// HealthCheckAsync reports whether the tier is currently usable.
	HealthCheckAsync(ctx context.Context) bool
}

// BlobStore is the optional capability a provider implements if it can hold
// small arbitrary blobs under reserved meta keys (used for bloom checkpoint
// persistence). Not every provider needs this; the cascade looks for the
// last local provider implementing it.
type BlobStore interface {
	PutBlob(ctx context.Context, key string, data []byte) error
	GetBlob(ctx context.Context, key string) ([]byte, error)
}
