package sealbox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestSealOpen(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	plain := []byte(`{"type":"offer","sdp":"v=0"}`)
	a, err := box.Seal(plain)
	require.NoError(t, err)
	b, err := box.Seal(plain)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonces must differ")

	opened, err := box.Open(a)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestOpenRejectsTampering(t *testing.T) {
	box, err := New(testKey())
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("candidate"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01

	_, err = box.Open(sealed)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = box.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrMalformed)

	other, err := New(bytes.Repeat([]byte{0x07}, KeySize))
	require.NoError(t, err)
	good, _ := box.Seal([]byte("x"))
	_, err = other.Open(good)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New([]byte("too short"))
	assert.Error(t, err)
}
