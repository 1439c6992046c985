package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades every request to a websocket and relays every binary
// frame back to the same connection unmodified, standing in for a relay
// that forwards opaque ciphertext without ever decrypting it.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWriteFrameReadFrameRoundTrip(t *testing.T) {
	server := echoServer(t)
	defer server.Close()
	rawConn := dial(t, server)
	defer rawConn.Close()

	key := make([]byte, 32)
	conn, err := New(rawConn, key)
	require.NoError(t, err)

	require.NoError(t, conn.WriteFrame([]byte("hello room")))

	got, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello room"), got)
}

func TestReadFrameRejectsTamperedCiphertext(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	senderRaw := dial(t, server)
	defer senderRaw.Close()
	sender, err := New(senderRaw, make([]byte, 32))
	require.NoError(t, err)

	require.NoError(t, sender.WriteFrame([]byte("authentic")))

	// Read the raw echoed bytes, flip one, and verify a second connection
	// using the same key refuses to open it rather than return garbage.
	_, raw, err := senderRaw.ReadMessage()
	require.NoError(t, err)
	tampered := append([]byte{}, raw...)
	tampered[len(tampered)-1] ^= 0xFF

	receiverRaw := dial(t, server)
	defer receiverRaw.Close()
	receiver, err := New(receiverRaw, make([]byte, 32))
	require.NoError(t, err)
	require.NoError(t, receiverRaw.WriteMessage(websocket.BinaryMessage, tampered))

	_, err = receiver.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameAuthFailed)
}

func TestReadFrameRejectsShortFrame(t *testing.T) {
	server := echoServer(t)
	defer server.Close()
	rawConn := dial(t, server)
	defer rawConn.Close()

	conn, err := New(rawConn, make([]byte, 32))
	require.NoError(t, err)

	require.NoError(t, rawConn.WriteMessage(websocket.BinaryMessage, []byte("short")))
	_, err = conn.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameAuthFailed)
}

func TestDifferentKeysCannotReadEachOthersFrames(t *testing.T) {
	server := echoServer(t)
	defer server.Close()
	rawConn := dial(t, server)
	defer rawConn.Close()

	keyA := make([]byte, 32)
	keyB := make([]byte, 32)
	keyB[0] = 1

	sender, err := New(rawConn, keyA)
	require.NoError(t, err)
	receiver, err := New(rawConn, keyB)
	require.NoError(t, err)

	require.NoError(t, sender.WriteFrame([]byte("for A's eyes only")))
	_, err = receiver.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameAuthFailed)
}
