package syncmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sagesync/syncroom/internal/logger"
	"github.com/sagesync/syncroom/pkg/crdt"
	"github.com/sagesync/syncroom/pkg/syncmanager/transport"
)

// frameType tags the payload carried by an envelope, the Go analogue of the
// browser provider's message discriminator.
type frameType string

const (
	frameStateVector frameType = "state_vector"
	frameUpdate      frameType = "update"
	frameAwareness   frameType = "awareness"
)

// envelope is the wire shape for every frame exchanged over a
// transport.EncryptedConn once a room is joined.
type envelope struct {
	Type    frameType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// awarenessPayload is broadcast periodically so peers can discover and
// expire each other without a dedicated presence server.
type awarenessPayload struct {
	ClientID int64     `json:"clientId"`
	At       time.Time `json:"at"`
}

const awarenessInterval = 10 * time.Second
const awarenessExpiry = 30 * time.Second

// provider binds an EncryptedConn to a crdt.Document: it runs the
// state-vector handshake, forwards local changes as they happen, applies
// inbound updates, and maintains the awareness set behind Peers().
type provider struct {
	doc      *crdt.Document
	conn     *transport.EncryptedConn
	clientID int64

	onFrame        func(dir ActivityDirection, bytes int)
	onPeersChanged func(n int)
	onInitialSync  func()

	awareness *awarenessSet

	unsubMu sync.Mutex
	unsubs  []func()

	initialSyncOnce sync.Once
}

func newProvider(doc *crdt.Document, conn *transport.EncryptedConn, clientID int64,
	onFrame func(ActivityDirection, int), onPeersChanged func(int), onInitialSync func()) *provider {
	return &provider{
		doc:            doc,
		conn:           conn,
		clientID:       clientID,
		onFrame:        onFrame,
		onPeersChanged: onPeersChanged,
		onInitialSync:  onInitialSync,
		awareness:      newAwarenessSet(),
	}
}

// run drives the provider until ctx is cancelled: it performs the initial
// handshake, installs local-change forwarding, and reads inbound frames
// until the connection closes or ctx ends.
func (p *provider) run(ctx context.Context) {
	defer p.conn.Close()
	defer p.teardownObservers()

	if err := p.sendStateVector(); err != nil {
		logger.Warn("syncmanager: failed to send initial state vector", logger.Error(err))
		return
	}
	p.installLocalForwarding()

	go p.broadcastAwareness(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, err := p.conn.ReadFrame()
		if err != nil {
			if err == transport.ErrFrameAuthFailed {
				logger.Warn("syncmanager: dropped frame that failed authentication")
				continue
			}
			logger.Warn("syncmanager: read loop ended", logger.Error(err))
			return
		}
		p.onFrame(ActivityInbound, len(data))
		p.handleFrame(data)
	}
}

func (p *provider) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warn("syncmanager: malformed envelope", logger.Error(err))
		return
	}

	switch env.Type {
	case frameStateVector:
		p.handleStateVector(env.Payload)
	case frameUpdate:
		p.handleUpdate(env.Payload)
	case frameAwareness:
		p.handleAwareness(env.Payload)
	default:
		logger.Warn("syncmanager: unknown frame type", logger.String("type", string(env.Type)))
	}
}

func (p *provider) handleStateVector(payload json.RawMessage) {
	var remoteSV []byte
	if err := json.Unmarshal(payload, &remoteSV); err != nil {
		logger.Warn("syncmanager: malformed state vector payload", logger.Error(err))
		return
	}
	update := p.doc.EncodeStateAsUpdate(remoteSV)
	if err := p.sendFrame(frameUpdate, update); err != nil {
		logger.Warn("syncmanager: failed to send update in response to state vector", logger.Error(err))
	}
}

func (p *provider) handleUpdate(payload json.RawMessage) {
	var update []byte
	if err := json.Unmarshal(payload, &update); err != nil {
		logger.Warn("syncmanager: malformed update payload", logger.Error(err))
		return
	}
	if _, err := p.doc.Decode(update); err != nil {
		logger.Warn("syncmanager: failed to apply inbound update", logger.Error(err))
		return
	}
	p.initialSyncOnce.Do(p.onInitialSync)
}

func (p *provider) handleAwareness(payload json.RawMessage) {
	var a awarenessPayload
	if err := json.Unmarshal(payload, &a); err != nil {
		logger.Warn("syncmanager: malformed awareness payload", logger.Error(err))
		return
	}
	if a.ClientID == p.clientID {
		return
	}
	changed := p.awareness.Touch(a.ClientID, a.At)
	if changed {
		p.onPeersChanged(len(p.awareness.Peers()) + 1)
	}
}

func (p *provider) sendStateVector() error {
	sv := p.doc.EncodeStateVector()
	return p.sendFrame(frameStateVector, sv)
}

func (p *provider) sendFrame(t frameType, payload []byte) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("syncmanager: marshal payload: %w", err)
	}
	data, err := json.Marshal(envelope{Type: t, Payload: raw})
	if err != nil {
		return fmt.Errorf("syncmanager: marshal envelope: %w", err)
	}
	if err := p.conn.WriteFrame(data); err != nil {
		return err
	}
	p.onFrame(ActivityOutbound, len(data))
	return nil
}

// installLocalForwarding subscribes to every map's observer and forwards
// locally-originated changes to the peer as update frames, skipping changes
// whose ReplicaID shows they arrived from a remote Decode rather than a
// local Txn — the same origin check the sync bridge uses to avoid echoing
// its own writes back to itself.
func (p *provider) installLocalForwarding() {
	for _, kind := range crdt.Kinds {
		m := p.doc.Map(kind)
		unsub := m.Observe(func(cs crdt.ChangeSet) {
			var local crdt.ChangeSet
			for _, c := range cs {
				if c.ReplicaID == p.doc.ReplicaID() {
					local = append(local, c)
				}
			}
			if len(local) == 0 {
				return
			}
			update := crdt.EncodeChangeSet(local)
			if err := p.sendFrame(frameUpdate, update); err != nil {
				logger.Warn("syncmanager: failed to forward local change",
					logger.String("kind", string(kind)), logger.Error(err))
			}
		})
		p.unsubMu.Lock()
		p.unsubs = append(p.unsubs, unsub)
		p.unsubMu.Unlock()
	}
}

func (p *provider) teardownObservers() {
	p.unsubMu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.unsubMu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (p *provider) broadcastAwareness(ctx context.Context) {
	ticker := time.NewTicker(awarenessInterval)
	defer ticker.Stop()
	for {
		payload, err := json.Marshal(awarenessPayload{ClientID: p.clientID, At: time.Now()})
		if err == nil {
			_ = p.sendFrame(frameAwareness, payload)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.awareness.ExpireBefore(time.Now().Add(-awarenessExpiry))
		}
	}
}

// awarenessSet tracks the last-seen timestamp of every remote peer observed
// via awareness frames, expiring entries that have gone silent.
type awarenessSet struct {
	mu   sync.Mutex
	seen map[int64]time.Time
}

func newAwarenessSet() *awarenessSet {
	return &awarenessSet{seen: make(map[int64]time.Time)}
}

// Touch records clientID as seen at ts, returning true if this is a newly
// observed peer.
func (a *awarenessSet) Touch(clientID int64, ts time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, known := a.seen[clientID]
	a.seen[clientID] = ts
	return !known
}

// ExpireBefore removes any peer last seen strictly before cutoff.
func (a *awarenessSet) ExpireBefore(cutoff time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, ts := range a.seen {
		if ts.Before(cutoff) {
			delete(a.seen, id)
		}
	}
}

// Peers returns the client IDs of every currently unexpired remote peer.
func (a *awarenessSet) Peers() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int64, 0, len(a.seen))
	for id := range a.seen {
		out = append(out, id)
	}
	return out
}
