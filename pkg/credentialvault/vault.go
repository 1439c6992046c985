// Package credentialvault stores the transport credentials a Sync
// Controller needs to reconnect (room password material, join tokens)
// on disk, re-keying them whenever sync mode is toggled: under a key
// derived from (password, roomID) while a session is active, and under
// a fixed device-local key otherwise.
package credentialvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrKeyNotFound       = errors.New("credentialvault: key not found")
	ErrInvalidPassphrase = errors.New("credentialvault: invalid passphrase")
	ErrInvalidKeyID      = errors.New("credentialvault: invalid key id")
)

// kdfIterations matches the bar set for this codebase's other PBKDF2 use
// (pkg/syncmanager's room/key derivation), raised from the teacher's
// original 100,000 since both derivations now share one security target.
const kdfIterations = 210000

// deviceKeyFile holds the random, device-local fallback key used whenever
// no sync password is active.
const deviceKeyFile = ".devicekey"

// Vault is the external collaborator the sync controller calls into on
// enable/disable. Its own correctness is out of scope for the sync core:
// callers log failures and keep going rather than block the transition.
type Vault interface {
	EnableSyncMode(password, roomID string) error
	DisableSyncMode() error
	StoreEncrypted(keyID string, data []byte) error
	LoadDecrypted(keyID string) ([]byte, error)
	Delete(keyID string) error
	Exists(keyID string) bool
	ListKeys() []string
}

// encryptedRecord is the on-disk envelope for one stored credential.
type encryptedRecord struct {
	Version    string    `json:"version"`
	KeyID      string    `json:"key_id"`
	Algorithm  string    `json:"algorithm"`
	Salt       string    `json:"salt"`
	IV         string    `json:"iv"`
	Ciphertext string    `json:"ciphertext"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FileVault is a filesystem-backed Vault using AES-256-GCM envelopes keyed
// by a PBKDF2-derived master secret that is swapped out, not threaded
// through every call, so EnableSyncMode/DisableSyncMode can re-key every
// stored record in place.
type FileVault struct {
	basePath string

	mu           sync.RWMutex
	masterSecret []byte // current encryption key: device-local or session-derived
	syncActive   bool
}

// NewFileVault creates (or reopens) a vault rooted at basePath, generating
// a device-local key on first use if one doesn't already exist.
func NewFileVault(basePath string) (*FileVault, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("credentialvault: create vault directory: %w", err)
	}

	deviceKey, err := loadOrCreateDeviceKey(basePath)
	if err != nil {
		return nil, err
	}

	return &FileVault{
		basePath:     basePath,
		masterSecret: deviceKey,
	}, nil
}

func loadOrCreateDeviceKey(basePath string) ([]byte, error) {
	path := filepath.Join(basePath, deviceKeyFile)
	if data, err := os.ReadFile(path); err == nil {
		key, decodeErr := base64.StdEncoding.DecodeString(string(data))
		if decodeErr == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("credentialvault: generate device key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("credentialvault: persist device key: %w", err)
	}
	return key, nil
}

// EnableSyncMode derives a session key from (password, roomID) and
// re-encrypts every stored credential under it, so credentials remain
// readable only to holders of the shared room password while a session
// is active.
func (v *FileVault) EnableSyncMode(password, roomID string) error {
	salt := sha256.Sum256([]byte("syncroom-credentialvault-session:" + roomID))
	sessionKey := pbkdf2.Key([]byte(password), salt[:], kdfIterations, 32, sha256.New)
	return v.rekey(sessionKey, true)
}

// DisableSyncMode re-encrypts every stored credential under the
// device-local key, so they remain readable after a session ends without
// depending on the (now discarded) room password.
func (v *FileVault) DisableSyncMode() error {
	deviceKey, err := loadOrCreateDeviceKey(v.basePath)
	if err != nil {
		return err
	}
	return v.rekey(deviceKey, false)
}

func (v *FileVault) rekey(newKey []byte, syncActive bool) error {
	v.mu.Lock()
	oldKey := v.masterSecret
	v.mu.Unlock()

	for _, keyID := range v.ListKeys() {
		plaintext, err := v.decryptWith(keyID, oldKey)
		if err != nil {
			return fmt.Errorf("credentialvault: re-key %q: %w", keyID, err)
		}
		if err := v.encryptWith(keyID, plaintext, newKey); err != nil {
			return fmt.Errorf("credentialvault: re-key %q: %w", keyID, err)
		}
	}

	v.mu.Lock()
	v.masterSecret = newKey
	v.syncActive = syncActive
	v.mu.Unlock()
	return nil
}

// StoreEncrypted encrypts and stores data under the vault's current
// master secret.
func (v *FileVault) StoreEncrypted(keyID string, data []byte) error {
	if keyID == "" {
		return ErrInvalidKeyID
	}
	v.mu.RLock()
	key := v.masterSecret
	v.mu.RUnlock()
	return v.encryptWith(keyID, data, key)
}

// LoadDecrypted decrypts keyID using the vault's current master secret.
func (v *FileVault) LoadDecrypted(keyID string) ([]byte, error) {
	if keyID == "" {
		return nil, ErrInvalidKeyID
	}
	v.mu.RLock()
	key := v.masterSecret
	v.mu.RUnlock()
	return v.decryptWith(keyID, key)
}

func (v *FileVault) encryptWith(keyID string, plaintext, key []byte) error {
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("credentialvault: generate nonce: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	now := time.Now()
	rec := encryptedRecord{
		Version:    "1.0",
		KeyID:      keyID,
		Algorithm:  "AES-256-GCM",
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, err := v.readRecord(keyID); err == nil {
		rec.CreatedAt = existing.CreatedAt
	}

	jsonData, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("credentialvault: marshal record: %w", err)
	}
	return os.WriteFile(v.path(keyID), jsonData, 0600)
}

func (v *FileVault) decryptWith(keyID string, key []byte) ([]byte, error) {
	rec, err := v.readRecord(keyID)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(rec.IV)
	if err != nil {
		return nil, fmt.Errorf("credentialvault: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("credentialvault: decode ciphertext: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

func (v *FileVault) readRecord(keyID string) (encryptedRecord, error) {
	data, err := os.ReadFile(v.path(keyID))
	if err != nil {
		if os.IsNotExist(err) {
			return encryptedRecord{}, ErrKeyNotFound
		}
		return encryptedRecord{}, fmt.Errorf("credentialvault: read record: %w", err)
	}
	var rec encryptedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return encryptedRecord{}, fmt.Errorf("credentialvault: unmarshal record: %w", err)
	}
	return rec, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentialvault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentialvault: create gcm: %w", err)
	}
	return gcm, nil
}

// Delete removes a stored credential.
func (v *FileVault) Delete(keyID string) error {
	if keyID == "" {
		return ErrInvalidKeyID
	}
	if err := os.Remove(v.path(keyID)); err != nil {
		if os.IsNotExist(err) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("credentialvault: delete record: %w", err)
	}
	return nil
}

// Exists reports whether keyID has a stored credential.
func (v *FileVault) Exists(keyID string) bool {
	if keyID == "" {
		return false
	}
	_, err := os.Stat(v.path(keyID))
	return err == nil
}

// ListKeys returns every stored credential's key ID.
func (v *FileVault) ListKeys() []string {
	entries, err := os.ReadDir(v.basePath)
	if err != nil {
		return nil
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		keys = append(keys, e.Name()[:len(e.Name())-len(".json")])
	}
	return keys
}

func (v *FileVault) path(keyID string) string {
	safeKeyID := filepath.Base(keyID)
	return filepath.Join(v.basePath, safeKeyID+".json")
}
