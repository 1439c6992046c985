// Package transport wraps a websocket connection with authenticated
// encryption so every frame a Sync Manager sends or receives is opaque to
// the relay: only a peer holding the session key derived from the shared
// room password can produce or read a valid frame.
package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sagesync/syncroom/internal/metrics"
)

// ErrFrameAuthFailed is returned by ReadFrame when an inbound frame fails
// AEAD authentication. Callers must drop the frame and keep reading rather
// than surface any partial plaintext or close the connection.
var ErrFrameAuthFailed = errors.New("transport: frame failed authentication")

const nonceSize = 12

// EncryptedConn wraps a *websocket.Conn, sealing every outbound frame with
// AES-256-GCM (random nonce prepended) and opening every inbound frame,
// mirroring the teacher's SecureSession.Encrypt/Decrypt envelope shape but
// over a raw websocket.Conn instead of a request/response RPC transport.
type EncryptedConn struct {
	conn *websocket.Conn
	aead cipher.AEAD

	writeTimeout time.Duration
	readTimeout  time.Duration

	writeMu sync.Mutex
}

// New wraps conn with an AES-256-GCM AEAD built from key (32 bytes).
func New(conn *websocket.Conn, key []byte) (*EncryptedConn, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("transport: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("transport: create gcm: %w", err)
	}
	return &EncryptedConn{
		conn:         conn,
		aead:         aead,
		writeTimeout: 30 * time.Second,
		readTimeout:  60 * time.Second,
	}, nil
}

// WriteFrame seals plaintext and writes it as one binary websocket message.
func (c *EncryptedConn) WriteFrame(plaintext []byte) error {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("transport: generate nonce: %w", err)
	}
	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, len(nonce)+len(ciphertext))
	copy(out, nonce)
	copy(out[len(nonce):], ciphertext)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	metrics.SyncMessageBytes.WithLabelValues("outbound").Observe(float64(len(out)))
	return nil
}

// ReadFrame reads one binary websocket message and opens it. A failure to
// authenticate returns ErrFrameAuthFailed; the caller should log and keep
// reading rather than treat it as a connection error. Any other error
// (including a normal close) is a real transport failure.
func (c *EncryptedConn) ReadFrame() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	metrics.SyncMessageBytes.WithLabelValues("inbound").Observe(float64(len(data)))

	if len(data) < nonceSize {
		metrics.SyncFramesDropped.WithLabelValues("malformed").Inc()
		return nil, ErrFrameAuthFailed
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		metrics.SyncFramesDropped.WithLabelValues("decrypt_failed").Inc()
		return nil, ErrFrameAuthFailed
	}
	return plaintext, nil
}

// Close closes the underlying websocket connection.
func (c *EncryptedConn) Close() error {
	return c.conn.Close()
}
