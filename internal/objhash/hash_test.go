package objhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumIsDeterministic(t *testing.T) {
	a := Sum([]byte("hello"))
	b := Sum([]byte("hello"))
	assert.Equal(t, a, b)
	assert.Len(t, a.String(), HexSize)
}

func TestFromHexRoundTrip(t *testing.T) {
	h := Sum([]byte("roundtrip"))
	parsed, err := FromHex(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestFromHexRejectsBadLength(t *testing.T) {
	_, err := FromHex("deadbeef")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestZeroHashIsZero(t *testing.T) {
	var h Hash
	assert.True(t, h.IsZero())
	assert.False(t, Sum([]byte("x")).IsZero())
}

func TestHasherMatchesSum(t *testing.T) {
	hh := NewHasher()
	hh.Write([]byte("foo"))
	hh.Write([]byte("bar"))
	assert.Equal(t, Sum([]byte("foobar")), hh.Sum())
}

func TestHashJSONRoundTrip(t *testing.T) {
	h := Sum([]byte("json"))
	b, err := h.MarshalJSON()
	require.NoError(t, err)

	var out Hash
	require.NoError(t, out.UnmarshalJSON(b))
	assert.Equal(t, h, out)
}

func TestHashUnmarshalEmptyStringIsZero(t *testing.T) {
	var out Hash
	require.NoError(t, out.UnmarshalJSON([]byte(`""`)))
	assert.True(t, out.IsZero())
}
