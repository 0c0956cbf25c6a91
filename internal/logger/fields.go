package logger

import (
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently across
// log statements so aggregation/querying sees a stable schema.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Operation metadata
	KeyOperation  = "operation" // GetOrCreate, Invalidate, PurgeBySource, Checkpoint, ...
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"

	// Cache key / tier identity
	KeyCacheKey  = "cache_key"
	KeyProvider  = "provider"
	KeyStoreType = "store_type" // memory, disk, cloud

	// Cache layer
	KeyCacheHit      = "cache_hit"
	KeyCacheStatus   = "cache_status" // Created, MemoryHit, DiskHit, CloudHit, Timeout, Error
	KeySize          = "size_bytes"
	KeyCacheCapacity = "cache_capacity"
	KeyEvicted       = "evicted"

	// Remote storage
	KeyBucket     = "bucket"
	KeyObjectKey  = "object_key"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"

	// Bloom filter
	KeySlot      = "slot"
	KeySlotCount = "slot_count"
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for OpenTelemetry span ID.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// Operation returns a slog.Attr for the operation name.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error, or a no-op attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code.
func ErrorCode(code int) slog.Attr { return slog.Int(KeyErrorCode, code) }

// CacheKey returns a slog.Attr for the hex cache key.
func CacheKey(key string) slog.Attr { return slog.String(KeyCacheKey, key) }

// Provider returns a slog.Attr for the tier/provider name.
func Provider(name string) slog.Attr { return slog.String(KeyProvider, name) }

// StoreType returns a slog.Attr for the backing store type.
func StoreType(t string) slog.Attr { return slog.String(KeyStoreType, t) }

// CacheHit returns a slog.Attr for a cache hit indicator.
func CacheHit(hit bool) slog.Attr { return slog.Bool(KeyCacheHit, hit) }

// CacheStatus returns a slog.Attr for the CacheResult status.
func CacheStatus(status string) slog.Attr { return slog.String(KeyCacheStatus, status) }

// Size returns a slog.Attr for a byte size.
func Size(n uint64) slog.Attr { return slog.Uint64(KeySize, n) }

// CacheCapacity returns a slog.Attr for the configured cache capacity.
func CacheCapacity(capacity int64) slog.Attr { return slog.Int64(KeyCacheCapacity, capacity) }

// Evicted returns a slog.Attr for the number of entries evicted.
func Evicted(n int) slog.Attr { return slog.Int(KeyEvicted, n) }

// Bucket returns a slog.Attr for the cloud bucket name.
func Bucket(name string) slog.Attr { return slog.String(KeyBucket, name) }

// ObjectKey returns a slog.Attr for the remote object key.
func ObjectKey(key string) slog.Attr { return slog.String(KeyObjectKey, key) }

// Attempt returns a slog.Attr for the retry attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// MaxRetries returns a slog.Attr for the maximum retry attempts.
func MaxRetries(n int) slog.Attr { return slog.Int(KeyMaxRetries, n) }

// Slot returns a slog.Attr for a bloom filter slot index.
func Slot(n int) slog.Attr { return slog.Int(KeySlot, n) }

// SlotCount returns a slog.Attr for the bloom filter slot count.
func SlotCount(n int) slog.Attr { return slog.Int(KeySlotCount, n) }
