// Package syncmanager opens an authenticated, encrypted transport to a relay
// and binds it to a crdt.Document: it derives the relay-visible room name and
// session key from a user-supplied password, reconciles state with peers
// joining the same room, and surfaces connection status, peer presence, and
// per-frame activity.
package syncmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sagesync/syncroom/internal/metrics"
	"github.com/sagesync/syncroom/pkg/crdt"
	"github.com/sagesync/syncroom/pkg/syncmanager/transport"
)

// Status is the Manager's connection lifecycle state.
type Status string

const (
	StatusDisabled   Status = "disabled"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
)

// Peer is one awareness participant visible in the current room.
type Peer struct {
	ClientID int64
	IsLocal  bool
}

// DefaultRelayURL is used when no WithRelayURL option is supplied.
const DefaultRelayURL = "wss://relay.syncroom.dev/ws"

// Manager binds an encrypted transport carrying CRDT updates to a
// crdt.Document, for exactly one room at a time.
type Manager struct {
	doc      *crdt.Document
	relayURL string

	mu       sync.Mutex
	status   Status
	cancel   context.CancelFunc
	provider *provider
	clientID int64

	activity *activityLog

	subMu            sync.Mutex
	statusCallbacks  []func(Status)
	activityCallback []func(ActivitySample)
	initialSyncOnce  []func()
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithRelayURL overrides the default relay endpoint.
func WithRelayURL(url string) Option {
	return func(m *Manager) { m.relayURL = url }
}

// New creates a Manager bound to doc. The Manager starts Disabled.
func New(doc *crdt.Document, opts ...Option) *Manager {
	m := &Manager{
		doc:      doc,
		relayURL: DefaultRelayURL,
		status:   StatusDisabled,
		activity: newActivityLog(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enable derives this room's credentials from (roomID, password), dials the
// relay, and starts exchanging updates with any peers present. Calling
// Enable while already connected tears down the previous session first —
// it is an idempotent replacement, never a no-op or an error.
func (m *Manager) Enable(ctx context.Context, roomID, password string) error {
	roomName, key, err := DeriveRoomCredentials(ctx, password, roomID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	var old *provider
	if m.cancel != nil {
		m.cancel()
		old = m.provider
		m.provider = nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.clientID = time.Now().UnixNano()
	m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()
	if old != nil {
		old.teardownObservers()
		_ = old.conn.Close()
	}

	dialer := websocket.DefaultDialer
	raw, _, err := dialer.DialContext(ctx, m.relayURL+"/"+roomName, nil)
	if err != nil {
		m.mu.Lock()
		m.setStatusLocked(StatusDisabled)
		m.mu.Unlock()
		metrics.SyncConnectAttempts.WithLabelValues("failure").Inc()
		return fmt.Errorf("syncmanager: dial relay: %w", err)
	}
	metrics.SyncConnectAttempts.WithLabelValues("success").Inc()

	conn, err := transport.New(raw, key)
	if err != nil {
		raw.Close()
		m.mu.Lock()
		m.setStatusLocked(StatusDisabled)
		m.mu.Unlock()
		return fmt.Errorf("syncmanager: wrap transport: %w", err)
	}

	p := newProvider(m.doc, conn, m.clientID, m.onFrame, m.onPeersChanged, m.notifyInitialSync)

	m.mu.Lock()
	m.provider = p
	m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	go p.run(runCtx)

	return nil
}

// Disable immediately and synchronously tears down the transport and stops
// forwarding local changes. It is always safe to call, including when
// already disabled.
func (m *Manager) Disable() error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	p := m.provider
	m.provider = nil
	m.setStatusLocked(StatusDisabled)
	m.mu.Unlock()
	if p != nil {
		p.teardownObservers()
		_ = p.conn.Close()
	}
	return nil
}

// Status returns the Manager's current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Peers returns the currently known room participants, including the local
// client.
func (m *Manager) Peers() []Peer {
	m.mu.Lock()
	p := m.provider
	clientID := m.clientID
	m.mu.Unlock()
	if p == nil {
		return nil
	}
	peers := p.awareness.Peers()
	out := make([]Peer, 0, len(peers)+1)
	out = append(out, Peer{ClientID: clientID, IsLocal: true})
	for _, id := range peers {
		if id == clientID {
			continue
		}
		out = append(out, Peer{ClientID: id})
	}
	return out
}

// PeerCount returns len(Peers()).
func (m *Manager) PeerCount() int {
	return len(m.Peers())
}

// RecentActivity returns the Manager's bounded activity history.
func (m *Manager) RecentActivity() []ActivitySample {
	return m.activity.Recent()
}

// OnStatusChange registers fn to be called whenever Status() changes.
func (m *Manager) OnStatusChange(fn func(Status)) {
	m.subMu.Lock()
	m.statusCallbacks = append(m.statusCallbacks, fn)
	m.subMu.Unlock()
}

// OnActivity registers fn to be called for every ActivitySample recorded.
func (m *Manager) OnActivity(fn func(ActivitySample)) {
	m.subMu.Lock()
	m.activityCallback = append(m.activityCallback, fn)
	m.subMu.Unlock()
}

// OnInitialSync registers fn to be called once the first full state exchange
// with a peer completes after Enable.
func (m *Manager) OnInitialSync(fn func()) {
	m.subMu.Lock()
	m.initialSyncOnce = append(m.initialSyncOnce, fn)
	m.subMu.Unlock()
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	metrics.SyncPeersConnected.Set(float64(0))

	m.subMu.Lock()
	cbs := append([]func(Status){}, m.statusCallbacks...)
	m.subMu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (m *Manager) onFrame(dir ActivityDirection, bytes int) {
	sample := m.activity.record(dir, bytes, time.Now())
	m.subMu.Lock()
	cbs := append([]func(ActivitySample){}, m.activityCallback...)
	m.subMu.Unlock()
	for _, cb := range cbs {
		cb(sample)
	}
}

func (m *Manager) onPeersChanged(n int) {
	metrics.SyncPeersConnected.Set(float64(n))
}

// notifyInitialSync fires every OnInitialSync callback exactly once.
func (m *Manager) notifyInitialSync() {
	m.subMu.Lock()
	cbs := m.initialSyncOnce
	m.initialSyncOnce = nil
	m.subMu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// ErrNotConnected is returned by operations that require an active session.
var ErrNotConnected = errors.New("syncmanager: not connected")
