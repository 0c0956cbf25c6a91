// Package cachekey implements the 32-byte content-addressed identifier used
// throughout the cache core: a SourceHash half derived from request origin
// identity, and a VariantHash half derived from processing parameters.
package cachekey

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Size is the total length of a CacheKey in bytes.
const Size = 32

// halfSize is the length of each half (SourceHash, VariantHash).
const halfSize = Size / 2

// ErrInvalidLength is returned by FromRaw32 when the input isn't exactly
// Size bytes long.
var ErrInvalidLength = errors.New("cachekey: raw input must be exactly 32 bytes")

// Key is a 32-byte content-addressed identifier: SourceHash[0:16] derived
// from request origin identity, VariantHash[16:32] derived from processing
// parameters. The zero value is not a valid key.
type Key [Size]byte

// FromStrings derives a Key by hashing source and variant independently with
// a 128-bit non-cryptographic hash. Each half is filled by running xxhash64
// twice, once over the input and once over the input with a 0x01 byte
// appended, and concatenating the two 8-byte digests, since xxhash64 itself
// only produces 64 bits.
func FromStrings(source, variant string) Key {
	var k Key
	fillHalf(k[0:halfSize], source)
	fillHalf(k[halfSize:Size], variant)
	return k
}

func fillHalf(dst []byte, s string) {
	lo := xxhash.Sum64String(s)
	hi := xxhash.Sum64(append([]byte(s), 0x01))
	binary.LittleEndian.PutUint64(dst[0:8], lo)
	binary.LittleEndian.PutUint64(dst[8:16], hi)
}

// FromRaw32 admits an externally-produced 32-byte fingerprint verbatim.
func FromRaw32(raw []byte) (Key, error) {
	var k Key
	if len(raw) != Size {
		return k, fmt.Errorf("%w: got %d", ErrInvalidLength, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// SourceHash returns the first half of the key.
func (k Key) SourceHash() [halfSize]byte {
	var h [halfSize]byte
	copy(h[:], k[0:halfSize])
	return h
}

// VariantHash returns the second half of the key.
func (k Key) VariantHash() [halfSize]byte {
	var h [halfSize]byte
	copy(h[:], k[halfSize:Size])
	return h
}

// ToStringKey renders the full key as lowercase hex (64 characters).
func (k Key) ToStringKey() string {
	return hex.EncodeToString(k[:])
}

// String implements fmt.Stringer via ToStringKey.
func (k Key) String() string {
	return k.ToStringKey()
}

// SourcePrefix returns the 32-hex-character source string, used for
// purge-by-source and tagging.
func (k Key) SourcePrefix() string {
	return hex.EncodeToString(k[0:halfSize])
}

// variantHex returns the 32-hex-character variant string.
func (k Key) variantHex() string {
	return hex.EncodeToString(k[halfSize:Size])
}

// ToStoragePath renders the three-level fan-out path used by local
// providers: {first-4-of-sourcehex}/{32-sourcehex}/{32-varianthex}. It is a
// pure function of the key's bytes; the same key always maps to the same
// path.
func (k Key) ToStoragePath() string {
	sourceHex := k.SourcePrefix()
	return sourceHex[:4] + "/" + sourceHex + "/" + k.variantHex()
}

// Hash returns a fast, non-cryptographic hash of the key suitable for use as
// a Go map key or hash table bucket selector: the first 8 bytes reinterpreted
// as a little-endian uint64.
func (k Key) Hash() uint64 {
	return binary.LittleEndian.Uint64(k[0:8])
}

// Equal reports whether two keys have identical bytes.
func (k Key) Equal(other Key) bool {
	return k == other
}

// IsZero reports whether the key is the all-zero value (never produced by
// FromStrings, only possible via the zero value or an unchecked FromRaw32).
func (k Key) IsZero() bool {
	return k == Key{}
}
