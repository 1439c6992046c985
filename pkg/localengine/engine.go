// Package localengine implements syncengine.Engine by wiring pkg/crdt,
// pkg/mirror, pkg/bridge, pkg/syncmanager, and pkg/synccontroller directly
// into the calling process — the Go analogue of running sync on the
// browser's main thread rather than off it in a worker. It exposes exactly
// the same contract as pkg/workerengine; callers should depend on
// syncengine.Engine and choose between the two at construction time.
package localengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sagesync/syncroom/internal/logger"
	"github.com/sagesync/syncroom/pkg/bridge"
	"github.com/sagesync/syncroom/pkg/crdt"
	"github.com/sagesync/syncroom/pkg/credentialvault"
	"github.com/sagesync/syncroom/pkg/localstore"
	"github.com/sagesync/syncroom/pkg/mirror"
	"github.com/sagesync/syncroom/pkg/syncengine"
	"github.com/sagesync/syncroom/pkg/synccontroller"
	"github.com/sagesync/syncroom/pkg/syncmanager"
)

var _ syncengine.Engine = (*Engine)(nil)

// Engine runs the sync stack on the caller's own goroutines: every method
// reaches straight into crdt.Document/bridge.Bridge/syncmanager.Manager/
// synccontroller.Controller, each of which already guards its own state with
// an internal mutex, so no additional serialization is needed here.
type Engine struct {
	doc        *crdt.Document
	mir        *mirror.Mirror
	br         *bridge.Bridge
	sm         *syncmanager.Manager
	controller *synccontroller.Controller

	subMu             sync.Mutex
	remoteObservers   map[string][]func(syncengine.RemoteChange)
	statusObservers   []func(syncengine.Status)
	activityObservers []func(syncengine.ActivitySample)
}

// New wires a fresh crdt.Document, a bbolt-backed mirror at mirrorPath, a
// bridge over store, a syncmanager.Manager, and a synccontroller.Controller
// persisted at controllerPath, configured by smOpts the same way
// workerengine.New is.
func New(replicaID, mirrorPath, controllerPath string, store localstore.Store, preferenceKeys []string, vault credentialvault.Vault, smOpts ...syncmanager.Option) *Engine {
	doc := crdt.NewDocument(replicaID)
	mir := mirror.New(mirrorPath, doc, nil)
	br := bridge.New(doc, store, preferenceKeys)
	sm := syncmanager.New(doc, smOpts...)
	controller := synccontroller.New(controllerPath, sm, br, vault)

	e := &Engine{
		doc:             doc,
		mir:             mir,
		br:              br,
		sm:              sm,
		controller:      controller,
		remoteObservers: make(map[string][]func(syncengine.RemoteChange)),
	}

	sm.OnStatusChange(func(status syncmanager.Status) {
		controller.OnManagerStatusChange(status)
		e.broadcastStatus()
	})
	sm.OnActivity(func(sample syncmanager.ActivitySample) {
		e.broadcastActivity(syncengine.ActivitySample{
			Direction: string(sample.Direction), Bytes: sample.Bytes, Timestamp: sample.Timestamp,
		})
	})
	for _, kind := range crdt.Kinds {
		kind := kind
		br.OnRemoteChange(kind, func(rc bridge.RemoteChange) {
			e.broadcastRemoteChange(syncengine.RemoteChange{
				Kind: string(rc.Kind), ID: rc.ID, Record: map[string]any(rc.Record), Deleted: rc.Deleted,
			})
		})
	}

	return e
}

// Init replays the durable mirror, performs the bridge's startup merge, and
// loads the controller's persisted session state, in that order — the same
// sequence workerengine.Worker.Init runs on its own goroutine, run here
// directly on the caller's.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.mir.Init(ctx); err != nil {
		logger.Warn("localengine: mirror init failed, continuing degraded", logger.Error(err))
	}
	<-e.mir.Ready()
	if err := e.br.Init(ctx); err != nil {
		return fmt.Errorf("localengine: bridge init: %w", err)
	}
	return e.controller.Initialize(ctx)
}

// Enable joins or shares a room. mode is "share" or "join".
func (e *Engine) Enable(ctx context.Context, roomID, password, mode string) error {
	return e.controller.EnableSync(ctx, roomID, password, synccontroller.Mode(mode))
}

// Disable tears down the active sync session.
func (e *Engine) Disable(ctx context.Context) error {
	return e.controller.DisableSync(ctx)
}

// Upsert writes one record under kind/id, mirroring it into the shared
// document once the bridge is ready.
func (e *Engine) Upsert(ctx context.Context, kind, id string, record map[string]any) error {
	if record == nil {
		record = map[string]any{}
	}
	record["id"] = id
	return e.br.Upsert(ctx, crdt.Kind(kind), localstore.Record(record))
}

// Delete removes one record under kind/id.
func (e *Engine) Delete(ctx context.Context, kind, id string) error {
	return e.br.Delete(ctx, crdt.Kind(kind), id)
}

// ForceLoadData pushes every local record into the shared document, used
// before transitioning into share mode.
func (e *Engine) ForceLoadData(ctx context.Context) error {
	return e.br.ForceLoadToSD(ctx)
}

// ClearPreferences tombstones every key in the preferences map, used before
// transitioning into join mode.
func (e *Engine) ClearPreferences(ctx context.Context) error {
	return e.br.ClearPreferences(ctx)
}

// SetPreference writes one allow-listed preference key.
func (e *Engine) SetPreference(ctx context.Context, key string, value any) error {
	return e.br.SetPreference(ctx, key, value)
}

// GetPreferences returns the current allow-listed preference values.
func (e *Engine) GetPreferences(ctx context.Context) (map[string]any, error) {
	return e.br.GetPreferences(), nil
}

// GetStoreData returns every live entry currently held for kind.
func (e *Engine) GetStoreData(ctx context.Context, kind string) (map[string]map[string]any, error) {
	return e.doc.Map(crdt.Kind(kind)).Entries(), nil
}

// GetStatus returns a snapshot of the engine's current sync state.
func (e *Engine) GetStatus(ctx context.Context) (syncengine.Status, error) {
	return e.status(), nil
}

// OnRemoteChange registers fn for every remote-origin mutation to kind.
func (e *Engine) OnRemoteChange(kind string, fn func(syncengine.RemoteChange)) func() {
	e.subMu.Lock()
	e.remoteObservers[kind] = append(e.remoteObservers[kind], fn)
	idx := len(e.remoteObservers[kind]) - 1
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		observers := e.remoteObservers[kind]
		if idx < len(observers) {
			observers[idx] = nil
		}
	}
}

// OnStatusChange registers fn for every status transition.
func (e *Engine) OnStatusChange(fn func(syncengine.Status)) func() {
	e.subMu.Lock()
	e.statusObservers = append(e.statusObservers, fn)
	idx := len(e.statusObservers) - 1
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if idx < len(e.statusObservers) {
			e.statusObservers[idx] = nil
		}
	}
}

// OnActivity registers fn for every recorded ActivitySample.
func (e *Engine) OnActivity(fn func(syncengine.ActivitySample)) func() {
	e.subMu.Lock()
	e.activityObservers = append(e.activityObservers, fn)
	idx := len(e.activityObservers) - 1
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if idx < len(e.activityObservers) {
			e.activityObservers[idx] = nil
		}
	}
}

// Close stops the controller and releases the mirror's underlying file.
// Embedders should also call this from a page-unload-equivalent signal
// handler (see synccontroller.Controller.Shutdown).
func (e *Engine) Close() error {
	_ = e.controller.Shutdown(context.Background())
	return e.mir.Close()
}

func (e *Engine) status() syncengine.Status {
	peers := e.sm.Peers()
	out := make([]syncengine.PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, syncengine.PeerInfo{ClientID: p.ClientID, IsLocal: p.IsLocal})
	}
	return syncengine.Status{
		Initialized:          true,
		SyncStatus:           string(e.sm.Status()),
		RoomID:               e.controller.RoomID(),
		NeedsPasswordReentry: e.controller.NeedsPasswordReentry(),
		PeerCount:            len(out),
		Peers:                out,
	}
}

func (e *Engine) broadcastStatus() {
	status := e.status()
	e.subMu.Lock()
	cbs := append([]func(syncengine.Status){}, e.statusObservers...)
	e.subMu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(status)
		}
	}
}

func (e *Engine) broadcastActivity(sample syncengine.ActivitySample) {
	e.subMu.Lock()
	cbs := append([]func(syncengine.ActivitySample){}, e.activityObservers...)
	e.subMu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(sample)
		}
	}
}

func (e *Engine) broadcastRemoteChange(change syncengine.RemoteChange) {
	e.subMu.Lock()
	cbs := append([]func(syncengine.RemoteChange){}, e.remoteObservers[change.Kind]...)
	e.subMu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(change)
		}
	}
}
