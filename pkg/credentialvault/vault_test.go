package credentialvault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) (*FileVault, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "credentialvault_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	v, err := NewFileVault(dir)
	require.NoError(t, err)
	return v, dir
}

func TestStoreAndLoadUnderDeviceKey(t *testing.T) {
	v, dir := newTestVault(t)

	require.NoError(t, v.StoreEncrypted("relay-token", []byte("device-local-secret")))

	info, err := os.Stat(filepath.Join(dir, "relay-token.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := v.LoadDecrypted("relay-token")
	require.NoError(t, err)
	assert.Equal(t, []byte("device-local-secret"), loaded)
}

func TestEnableSyncModeReKeysExistingCredentials(t *testing.T) {
	v, _ := newTestVault(t)
	require.NoError(t, v.StoreEncrypted("relay-token", []byte("pre-session-secret")))

	require.NoError(t, v.EnableSyncMode("correct horse battery staple", "room-42"))

	loaded, err := v.LoadDecrypted("relay-token")
	require.NoError(t, err)
	assert.Equal(t, []byte("pre-session-secret"), loaded)
}

func TestDisableSyncModeRestoresDeviceKeyReadability(t *testing.T) {
	v, _ := newTestVault(t)
	require.NoError(t, v.EnableSyncMode("correct horse battery staple", "room-42"))
	require.NoError(t, v.StoreEncrypted("relay-token", []byte("session-secret")))

	require.NoError(t, v.DisableSyncMode())

	loaded, err := v.LoadDecrypted("relay-token")
	require.NoError(t, err)
	assert.Equal(t, []byte("session-secret"), loaded)
}

func TestDifferentRoomsDeriveDifferentSessionKeys(t *testing.T) {
	a, _ := newTestVault(t)
	b, _ := newTestVault(t)

	require.NoError(t, a.StoreEncrypted("relay-token", []byte("shared-plaintext")))
	require.NoError(t, b.StoreEncrypted("relay-token", []byte("shared-plaintext")))

	require.NoError(t, a.EnableSyncMode("same-password", "room-a"))
	require.NoError(t, b.EnableSyncMode("same-password", "room-b"))

	aRecord, err := a.readRecord("relay-token")
	require.NoError(t, err)
	bRecord, err := b.readRecord("relay-token")
	require.NoError(t, err)
	assert.NotEqual(t, aRecord.Ciphertext, bRecord.Ciphertext)

	// b's derived key cannot open the ciphertext a wrote under its own room.
	_, err = a.decryptWith("relay-token", b.masterSecret)
	assert.Equal(t, ErrInvalidPassphrase, err)
}

func TestKeyNotFound(t *testing.T) {
	v, _ := newTestVault(t)
	_, err := v.LoadDecrypted("missing")
	assert.Equal(t, ErrKeyNotFound, err)
}

func TestInvalidKeyID(t *testing.T) {
	v, _ := newTestVault(t)
	assert.Equal(t, ErrInvalidKeyID, v.StoreEncrypted("", []byte("x")))
	_, err := v.LoadDecrypted("")
	assert.Equal(t, ErrInvalidKeyID, err)
}

func TestDeleteAndExists(t *testing.T) {
	v, _ := newTestVault(t)
	require.NoError(t, v.StoreEncrypted("relay-token", []byte("secret")))
	assert.True(t, v.Exists("relay-token"))

	require.NoError(t, v.Delete("relay-token"))
	assert.False(t, v.Exists("relay-token"))

	err := v.Delete("relay-token")
	assert.Equal(t, ErrKeyNotFound, err)
}

func TestListKeys(t *testing.T) {
	v, _ := newTestVault(t)
	require.NoError(t, v.StoreEncrypted("a", []byte("1")))
	require.NoError(t, v.StoreEncrypted("b", []byte("2")))

	keys := v.ListKeys()
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestDeviceKeyPersistsAcrossVaultReopen(t *testing.T) {
	v1, dir := newTestVault(t)
	require.NoError(t, v1.StoreEncrypted("relay-token", []byte("secret")))

	v2, err := NewFileVault(dir)
	require.NoError(t, err)
	loaded, err := v2.LoadDecrypted("relay-token")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), loaded)
}
