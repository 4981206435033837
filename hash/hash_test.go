package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	a := Sum([]byte("hello"))
	b := Sum([]byte("hello"))
	assert.Equal(t, a, b)

	c := Sum([]byte("hello2"))
	assert.NotEqual(t, a, c)
}

func TestFromHexRoundTrip(t *testing.T) {
	h := Sum([]byte("dataset row"))
	parsed, err := FromHex(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestFromHexRejectsShortForm(t *testing.T) {
	h := Sum([]byte("x"))
	_, err := FromHex(h.Short())
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestShort(t *testing.T) {
	h := Sum([]byte("y"))
	assert.Len(t, h.Short(), ShortSize)
	assert.Equal(t, h.String()[:ShortSize], h.Short())
}

func TestZero(t *testing.T) {
	var z Hash
	assert.True(t, z.IsZero())
	assert.False(t, Sum([]byte("z")).IsZero())
}
