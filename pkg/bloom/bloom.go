// Package bloom implements a rotating multi-slot probabilistic set used to
// gate expensive remote-tier lookups. slotCount independent bitsets age
// inserted keys: insertion always targets the current slot, queries OR all
// slots, and Rotate() advances the current slot and clears it, so any key
// survives at least slotCount-1 rotations before it can age out.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	checkpointMagic   = "BLM1"
	checkpointVersion = uint8(1)
)

var (
	// ErrInvalidParams is returned by New when the sizing parameters are
	// out of range.
	ErrInvalidParams = fmt.Errorf("bloom: estimatedItems must be > 0, falsePositiveRate in (0,1), slotCount >= 1")

	// ErrCorruptCheckpoint is returned by FromBytes/MergeFromPeer when the
	// payload's magic, version, or shape doesn't match this filter.
	ErrCorruptCheckpoint = fmt.Errorf("bloom: corrupt or incompatible checkpoint")
)

// Filter is a rotating bloom filter: slotCount independent bitsets sized
// from estimatedItems and falsePositiveRate using the standard formulas
// m = -n*ln(p)/(ln 2)^2, k = (m/n)*ln 2.
type Filter struct {
	bitsPerSlot uint32
	hashCount   uint16
	slotCount   uint16

	mu      sync.RWMutex // guards current and the slot references; Insert/ProbablyContains read-lock it only to pick up slots
	current uint16

	// slots[i] is a bit-packed array of bitsPerSlot bits, one uint64 word
	// per 64 bits. Individual bit sets/tests use atomic loads and
	// compare-and-swap on the words, after mu has been released.
	slots [][]uint64
}

// New constructs a Filter sized for estimatedItems entries at the target
// falsePositiveRate, split across slotCount independent aging slots.
func New(estimatedItems int64, falsePositiveRate float64, slotCount int) (*Filter, error) {
	if estimatedItems <= 0 || falsePositiveRate <= 0 || falsePositiveRate >= 1 || slotCount < 1 {
		return nil, ErrInvalidParams
	}

	ln2 := math.Ln2
	m := -float64(estimatedItems) * math.Log(falsePositiveRate) / (ln2 * ln2)
	k := (m / float64(estimatedItems)) * ln2

	bitsPerSlot := uint32(math.Ceil(m))
	if bitsPerSlot == 0 {
		bitsPerSlot = 1
	}
	hashCount := uint16(math.Round(k))
	if hashCount < 1 {
		hashCount = 1
	}

	f := &Filter{
		bitsPerSlot: bitsPerSlot,
		hashCount:   hashCount,
		slotCount:   uint16(slotCount),
		slots:       make([][]uint64, slotCount),
	}
	words := wordsFor(bitsPerSlot)
	for i := range f.slots {
		f.slots[i] = make([]uint64, words)
	}
	return f, nil
}

func wordsFor(bits uint32) int {
	return int((bits + 63) / 64)
}

// Insert writes key into the current slot only.
func (f *Filter) Insert(key string) {
	f.mu.RLock()
	slot := f.slots[f.current]
	f.mu.RUnlock()

	h1, h2 := doubleHash(key)
	for i := uint16(0); i < f.hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % uint64(f.bitsPerSlot)
		setBitAtomic(slot, bit)
	}
}

// ProbablyContains ORs across all slots: a true positive window spans every
// non-expired slot, never producing a false negative for keys inserted
// within the last slotCount-1 rotations.
func (f *Filter) ProbablyContains(key string) bool {
	f.mu.RLock()
	slots := f.slots
	f.mu.RUnlock()

	h1, h2 := doubleHash(key)
	for i := uint16(0); i < f.hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % uint64(f.bitsPerSlot)
		found := false
		for _, slot := range slots {
			if testBitAtomic(slot, bit) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Rotate advances the current-slot pointer and zeroes the newly-current
// slot. Rotation cadence is owner-driven; this filter has no internal timer.
func (f *Filter) Rotate() {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := (f.current + 1) % f.slotCount
	words := wordsFor(f.bitsPerSlot)
	f.slots[next] = make([]uint64, words)
	f.current = next
}

// Clear zeroes every slot and resets the current-slot pointer.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	words := wordsFor(f.bitsPerSlot)
	for i := range f.slots {
		f.slots[i] = make([]uint64, words)
	}
	f.current = 0
}

// ToBytes emits a versioned payload per the checkpoint format:
// {magic, version, slotCount, bitsPerSlot, hashCount, currentSlot, bitmaps...}.
func (f *Filter) ToBytes() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()

	words := wordsFor(f.bitsPerSlot)
	header := 4 + 1 + 2 + 4 + 2 + 2
	buf := make([]byte, header+int(f.slotCount)*words*8)

	copy(buf[0:4], checkpointMagic)
	buf[4] = checkpointVersion
	binary.LittleEndian.PutUint16(buf[5:7], f.slotCount)
	binary.LittleEndian.PutUint32(buf[7:11], f.bitsPerSlot)
	binary.LittleEndian.PutUint16(buf[11:13], f.hashCount)
	binary.LittleEndian.PutUint16(buf[13:15], f.current)

	off := header
	for _, slot := range f.slots {
		for _, w := range slot {
			binary.LittleEndian.PutUint64(buf[off:off+8], w)
			off += 8
		}
	}
	return buf
}

// FromBytes validates and replaces this filter's state from a checkpoint
// payload produced by ToBytes. An incompatible shape rejects the load and
// leaves the filter untouched, returning ErrCorruptCheckpoint.
func (f *Filter) FromBytes(data []byte) error {
	slotCount, bitsPerSlot, hashCount, current, slots, err := parseCheckpoint(data)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.slotCount = slotCount
	f.bitsPerSlot = bitsPerSlot
	f.hashCount = hashCount
	f.current = current
	f.slots = slots
	return nil
}

// MergeFromPeer requires the peer payload to have an identical shape
// (slotCount, bitsPerSlot, hashCount) to this filter and ORs each slot
// bitmap in, preserving this filter's current-slot pointer.
func (f *Filter) MergeFromPeer(data []byte) error {
	slotCount, bitsPerSlot, hashCount, _, slots, err := parseCheckpoint(data)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if slotCount != f.slotCount || bitsPerSlot != f.bitsPerSlot || hashCount != f.hashCount {
		return ErrCorruptCheckpoint
	}
	for i := range f.slots {
		for w := range f.slots[i] {
			f.slots[i][w] |= slots[i][w]
		}
	}
	return nil
}

func parseCheckpoint(data []byte) (slotCount uint16, bitsPerSlot uint32, hashCount, current uint16, slots [][]uint64, err error) {
	const headerSize = 4 + 1 + 2 + 4 + 2 + 2
	if len(data) < headerSize {
		return 0, 0, 0, 0, nil, ErrCorruptCheckpoint
	}
	if string(data[0:4]) != checkpointMagic {
		return 0, 0, 0, 0, nil, ErrCorruptCheckpoint
	}
	if data[4] != checkpointVersion {
		return 0, 0, 0, 0, nil, ErrCorruptCheckpoint
	}

	slotCount = binary.LittleEndian.Uint16(data[5:7])
	bitsPerSlot = binary.LittleEndian.Uint32(data[7:11])
	hashCount = binary.LittleEndian.Uint16(data[11:13])
	current = binary.LittleEndian.Uint16(data[13:15])

	if slotCount < 1 || bitsPerSlot == 0 {
		return 0, 0, 0, 0, nil, ErrCorruptCheckpoint
	}
	if current >= slotCount {
		return 0, 0, 0, 0, nil, ErrCorruptCheckpoint
	}

	words := wordsFor(bitsPerSlot)
	expected := headerSize + int(slotCount)*words*8
	if len(data) != expected {
		return 0, 0, 0, 0, nil, ErrCorruptCheckpoint
	}

	slots = make([][]uint64, slotCount)
	off := headerSize
	for i := range slots {
		slots[i] = make([]uint64, words)
		for w := 0; w < words; w++ {
			slots[i][w] = binary.LittleEndian.Uint64(data[off : off+8])
			off += 8
		}
	}
	return slotCount, bitsPerSlot, hashCount, current, slots, nil
}

// doubleHash derives two independent 64-bit hashes from key using the
// standard double-hashing trick (g_i(x) = h1(x) + i*h2(x)), avoiding a
// distinct hash function per probe.
func doubleHash(key string) (uint64, uint64) {
	h1 := xxhash.Sum64String(key)
	h2 := xxhash.Sum64(append([]byte(key), 0xff))
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

func setBitAtomic(words []uint64, bit uint64) {
	idx := bit / 64
	mask := uint64(1) << (bit % 64)
	ptr := (*uint64)(&words[idx])
	for {
		old := atomic.LoadUint64(ptr)
		if old&mask != 0 {
			return
		}
		if atomic.CompareAndSwapUint64(ptr, old, old|mask) {
			return
		}
	}
}

func testBitAtomic(words []uint64, bit uint64) bool {
	idx := bit / 64
	mask := uint64(1) << (bit % 64)
	return atomic.LoadUint64(&words[idx])&mask != 0
}
