package crdt

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MirrorCipher encrypts document bytes before they reach the durable
// mirror's embedded store, in case the host wants at-rest encryption beyond
// disk-level protection. It is optional: pkg/mirror works with plaintext
// bytes if no MirrorCipher is configured.
//
// The subkey is derived from the sync key via HKDF rather than reusing it
// directly, so a mirror file leaked from disk doesn't hand over the same
// key used on the wire.
type MirrorCipher struct {
	aead cipher.AEAD
}

// NewMirrorCipher derives a mirror-at-rest key from syncKey (the AES-GCM key
// already derived by pkg/syncmanager for the relay connection) and builds a
// ChaCha20-Poly1305 AEAD from it.
func NewMirrorCipher(syncKey []byte) (*MirrorCipher, error) {
	if len(syncKey) == 0 {
		return nil, fmt.Errorf("crdt: empty sync key")
	}

	subkey := make([]byte, chacha20poly1305.KeySize)
	reader := hkdf.New(sha256.New, syncKey, nil, []byte("syncroom-mirror-at-rest-v1"))
	if _, err := io.ReadFull(reader, subkey); err != nil {
		return nil, fmt.Errorf("crdt: derive mirror subkey: %w", err)
	}

	aead, err := chacha20poly1305.New(subkey)
	if err != nil {
		return nil, fmt.Errorf("crdt: build mirror aead: %w", err)
	}
	return &MirrorCipher{aead: aead}, nil
}

// Seal encrypts plaintext, prefixing the output with a fresh random nonce.
func (c *MirrorCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crdt: generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal. A corrupted or foreign-keyed blob
// returns an error rather than partial plaintext.
func (c *MirrorCipher) Open(data []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("crdt: ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crdt: mirror decrypt failed: %w", err)
	}
	return plaintext, nil
}
