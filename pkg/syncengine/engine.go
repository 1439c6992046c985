// Package syncengine defines the contract both the in-process and
// goroutine-pool sync stacks expose to an embedder: the same operations a
// browser's main-thread code and its web-worker variant both offer, just
// reached through different plumbing underneath.
package syncengine

import (
	"context"
	"time"
)

// PeerInfo is one participant currently sharing a room.
type PeerInfo struct {
	ClientID int64 `json:"clientId"`
	IsLocal  bool  `json:"isLocal"`
}

// ActivitySample is one observed frame, surfaced to embedders as an event.
type ActivitySample struct {
	Direction string    `json:"direction"`
	Bytes     int       `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// RemoteChange describes one remote-origin mutation to a record kind.
type RemoteChange struct {
	Kind    string         `json:"kind"`
	ID      string         `json:"id"`
	Record  map[string]any `json:"record,omitempty"`
	Deleted bool           `json:"deleted"`
}

// Status is the full point-in-time snapshot spec.md's Sync Controller
// exposes as its transient state.
type Status struct {
	Initialized          bool       `json:"initialized"`
	SyncStatus           string     `json:"syncStatus"` // disabled, connecting, connected
	RoomID               string     `json:"roomId,omitempty"`
	Mode                 string     `json:"mode,omitempty"`
	NeedsPasswordReentry bool       `json:"needsPasswordReentry"`
	PeerCount            int        `json:"peerCount"`
	Peers                []PeerInfo `json:"peers"`
	LastSyncAt           time.Time  `json:"lastSyncAt,omitempty"`
}

// Engine is the contract exposed by both pkg/workerengine (off the calling
// goroutine, over a typed message protocol) and any direct in-process
// wiring of pkg/crdt + pkg/mirror + pkg/bridge + pkg/syncmanager +
// pkg/synccontroller.
type Engine interface {
	Init(ctx context.Context) error
	Enable(ctx context.Context, roomID, password, mode string) error
	Disable(ctx context.Context) error

	Upsert(ctx context.Context, kind, id string, record map[string]any) error
	Delete(ctx context.Context, kind, id string) error
	ForceLoadData(ctx context.Context) error

	ClearPreferences(ctx context.Context) error
	SetPreference(ctx context.Context, key string, value any) error
	GetPreferences(ctx context.Context) (map[string]any, error)

	GetStoreData(ctx context.Context, kind string) (map[string]map[string]any, error)
	GetStatus(ctx context.Context) (Status, error)

	OnRemoteChange(kind string, cb func(RemoteChange)) (unsubscribe func())
	OnStatusChange(cb func(Status)) (unsubscribe func())
	OnActivity(cb func(ActivitySample)) (unsubscribe func())

	Close() error
}
