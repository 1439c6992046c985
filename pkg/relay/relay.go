// Package relay implements the untrusted Sync Relay described by the sync
// protocol: a websocket server that forwards opaque, already-encrypted
// frames between peers who have dialed the same derived room name. It never
// sees a password, a room ID, or plaintext — only the room name baked into
// the URL path and ciphertext it cannot open.
package relay

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sagesync/syncroom/internal/logger"
	"github.com/sagesync/syncroom/internal/metrics"
)

// maxFrameBytes bounds a single forwarded frame so one misbehaving or
// malicious peer can't exhaust relay memory; well above any realistic CRDT
// update batch.
const maxFrameBytes = 16 * 1024 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Relay fans out binary websocket frames between every connection that has
// joined the same room, identified purely by the URL path segment after the
// mount point.
type Relay struct {
	logger logger.Logger

	mu    sync.RWMutex
	rooms map[string]map[*peerConn]struct{}
}

type peerConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New creates an empty Relay.
func New(log logger.Logger) *Relay {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Relay{
		logger: log,
		rooms:  make(map[string]map[*peerConn]struct{}),
	}
}

// Handler upgrades the request to a websocket and joins the connection to
// the room named by roomName, relaying frames until the connection closes.
func (rl *Relay) Handler(roomName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			rl.logger.Warn("relay: upgrade failed", logger.Error(err))
			return
		}
		conn.SetReadLimit(maxFrameBytes)
		pc := &peerConn{conn: conn}

		rl.join(roomName, pc)
		metrics.RelayActiveConnections.Inc()
		rl.logger.Info("relay: peer joined room", logger.String("room", roomName))

		defer func() {
			rl.leave(roomName, pc)
			metrics.RelayActiveConnections.Dec()
			conn.Close()
			rl.logger.Info("relay: peer left room", logger.String("room", roomName))
		}()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			rl.broadcast(roomName, pc, data)
		}
	}
}

func (rl *Relay) join(roomName string, pc *peerConn) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	peers, ok := rl.rooms[roomName]
	if !ok {
		peers = make(map[*peerConn]struct{})
		rl.rooms[roomName] = peers
		metrics.RelayActiveRooms.Inc()
	}
	peers[pc] = struct{}{}
}

func (rl *Relay) leave(roomName string, pc *peerConn) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	peers, ok := rl.rooms[roomName]
	if !ok {
		return
	}
	delete(peers, pc)
	if len(peers) == 0 {
		delete(rl.rooms, roomName)
		metrics.RelayActiveRooms.Dec()
	}
}

// broadcast forwards data, unexamined, to every other peer currently in
// roomName. The sender never receives its own frame back.
func (rl *Relay) broadcast(roomName string, from *peerConn, data []byte) {
	rl.mu.RLock()
	peers := rl.rooms[roomName]
	targets := make([]*peerConn, 0, len(peers))
	for pc := range peers {
		if pc == from {
			continue
		}
		targets = append(targets, pc)
	}
	rl.mu.RUnlock()

	if len(targets) == 0 {
		metrics.RelayFramesForwarded.WithLabelValues("dropped_no_peers").Inc()
		return
	}

	for _, pc := range targets {
		pc.writeMu.Lock()
		err := pc.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if err == nil {
			err = pc.conn.WriteMessage(websocket.BinaryMessage, data)
		}
		pc.writeMu.Unlock()

		if err != nil {
			metrics.RelayFramesForwarded.WithLabelValues("dropped_write_error").Inc()
			rl.logger.Warn("relay: forward failed", logger.String("room", roomName), logger.Error(err))
			continue
		}
		metrics.RelayFramesForwarded.WithLabelValues("forwarded").Inc()
	}
}

// RoomCount reports how many rooms currently have at least one peer.
func (rl *Relay) RoomCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.rooms)
}

// roomNameFromPath strips the mount prefix to recover the room name, the
// same "/"+roomName shape syncmanager.Manager dials.
func roomNameFromPath(prefix, path string) (string, error) {
	if len(path) <= len(prefix)+1 {
		return "", fmt.Errorf("relay: missing room name in path %q", path)
	}
	return path[len(prefix)+1:], nil
}

// Mux builds an http.ServeMux that upgrades any request under "/ws/" to a
// relay connection joined to the trailing path segment as the room name.
func (rl *Relay) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		room, err := roomNameFromPath("/ws", r.URL.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rl.Handler(room)(w, r)
	})
	return mux
}
