package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorCipherRoundTrip(t *testing.T) {
	syncKey := make([]byte, 32)
	for i := range syncKey {
		syncKey[i] = byte(i)
	}

	cipher, err := NewMirrorCipher(syncKey)
	require.NoError(t, err)

	plaintext := []byte(`{"kind":"agents","key":"agent-1"}`)
	sealed, err := cipher.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := cipher.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestMirrorCipherRejectsTamperedData(t *testing.T) {
	syncKey := make([]byte, 32)
	cipher, err := NewMirrorCipher(syncKey)
	require.NoError(t, err)

	sealed, err := cipher.Seal([]byte("hello"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = cipher.Open(sealed)
	assert.Error(t, err)
}

func TestNewMirrorCipherRejectsEmptyKey(t *testing.T) {
	_, err := NewMirrorCipher(nil)
	assert.Error(t, err)
}
