package diskcache

import "sync/atomic"

// bucketCounter is a compact, unpersisted access-count table: a 2^n-slot
// table of saturating uint16 counters, keyed by accessCountKey mod slots.
// A cold start begins every counter at zero; combined with minAgeToDelete
// this is acceptable (§4.G.4).
type bucketCounter struct {
	slots []atomic.Uint32 // stored as uint32 to use atomic.Uint32's CAS; saturates at uint16 max
	mask  uint64
}

const maxBucketValue = 0xFFFF

// newBucketCounter creates a table with 2^log2Slots slots.
func newBucketCounter(log2Slots int) *bucketCounter {
	n := 1 << log2Slots
	return &bucketCounter{
		slots: make([]atomic.Uint32, n),
		mask:  uint64(n - 1),
	}
}

func (c *bucketCounter) slotFor(accessCountKey uint64) *atomic.Uint32 {
	return &c.slots[accessCountKey&c.mask]
}

// Increment bumps the counter for key, saturating at 65535.
func (c *bucketCounter) Increment(accessCountKey uint64) {
	slot := c.slotFor(accessCountKey)
	for {
		old := slot.Load()
		if old >= maxBucketValue {
			return
		}
		if slot.CompareAndSwap(old, old+1) {
			return
		}
	}
}

// Count returns the current saturating count for key.
func (c *bucketCounter) Count(accessCountKey uint64) uint16 {
	return uint16(c.slotFor(accessCountKey).Load())
}
