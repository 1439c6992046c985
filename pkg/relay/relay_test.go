package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagesync/syncroom/internal/logger"
)

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRelayForwardsWithinRoom(t *testing.T) {
	rl := New(logger.NewDefaultLogger())
	srv := httptest.NewServer(rl.Mux())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room-a"

	peerA := dial(t, wsURL)
	peerB := dial(t, wsURL)

	time.Sleep(20 * time.Millisecond) // let both joins register

	require.NoError(t, peerA.WriteMessage(websocket.BinaryMessage, []byte("ciphertext")))

	peerB.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := peerB.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", string(data))
}

func TestRelayDoesNotCrossRooms(t *testing.T) {
	rl := New(logger.NewDefaultLogger())
	srv := httptest.NewServer(rl.Mux())
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	peerA := dial(t, base+"/ws/room-a")
	peerB := dial(t, base+"/ws/room-b")

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, peerA.WriteMessage(websocket.BinaryMessage, []byte("secret")))

	peerB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := peerB.ReadMessage()
	assert.Error(t, err, "peer in a different room must never receive another room's frame")
}

func TestRelaySenderDoesNotReceiveOwnFrame(t *testing.T) {
	rl := New(logger.NewDefaultLogger())
	srv := httptest.NewServer(rl.Mux())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room-solo"
	peerA := dial(t, wsURL)

	require.NoError(t, peerA.WriteMessage(websocket.BinaryMessage, []byte("hello")))

	peerA.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := peerA.ReadMessage()
	assert.Error(t, err, "a solo peer must never echo its own frame back")
}

func TestRelayRoomCountTracksJoinsAndLeaves(t *testing.T) {
	rl := New(logger.NewDefaultLogger())
	srv := httptest.NewServer(rl.Mux())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room-count"
	peerA := dial(t, wsURL)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rl.RoomCount())

	require.NoError(t, peerA.Close())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rl.RoomCount())
}
