package cachekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStrings_Deterministic(t *testing.T) {
	k1 := FromStrings("https://example.com/a.jpg", "w=200;h=100")
	k2 := FromStrings("https://example.com/a.jpg", "w=200;h=100")
	assert.Equal(t, k1, k2)
}

func TestFromStrings_DistinctInputsDiffer(t *testing.T) {
	k1 := FromStrings("source-a", "variant-a")
	k2 := FromStrings("source-b", "variant-a")
	k3 := FromStrings("source-a", "variant-b")
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestFromStrings_SourcePrefixStable(t *testing.T) {
	k1 := FromStrings("same-source", "variant-1")
	k2 := FromStrings("same-source", "variant-2")
	assert.Equal(t, k1.SourcePrefix(), k2.SourcePrefix())
}

func TestToStringKey_LowercaseHex64(t *testing.T) {
	k := FromStrings("src", "var")
	s := k.ToStringKey()
	require.Len(t, s, 64)
	for _, c := range s {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}
}

func TestToStoragePath_Shape(t *testing.T) {
	k := FromStrings("src", "var")
	path := k.ToStoragePath()
	prefix := k.SourcePrefix()
	assert.Equal(t, prefix[:4]+"/"+prefix+"/"+k.variantHex(), path)
}

func TestToStoragePath_PureFunctionOfKey(t *testing.T) {
	k := FromStrings("src", "var")
	assert.Equal(t, k.ToStoragePath(), k.ToStoragePath())
}

func TestFromRaw32_RoundTrip(t *testing.T) {
	original := FromStrings("src", "var")
	raw := original[:]
	k, err := FromRaw32(raw)
	require.NoError(t, err)
	assert.Equal(t, original, k)
}

func TestFromRaw32_RejectsWrongLength(t *testing.T) {
	_, err := FromRaw32(make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestEqual(t *testing.T) {
	k1 := FromStrings("src", "var")
	k2 := FromStrings("src", "var")
	k3 := FromStrings("src", "other")
	assert.True(t, k1.Equal(k2))
	assert.False(t, k1.Equal(k3))
}

func TestIsZero(t *testing.T) {
	var zero Key
	assert.True(t, zero.IsZero())
	assert.False(t, FromStrings("src", "var").IsZero())
}
