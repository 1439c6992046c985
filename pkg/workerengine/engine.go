package workerengine

import (
	"context"

	"github.com/sagesync/syncroom/internal/logger"
	"github.com/sagesync/syncroom/pkg/syncengine"
)

type enableRequest struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password"`
	Mode     string `json:"mode"`
}

type itemRequest struct {
	Kind   string         `json:"kind"`
	ID     string         `json:"id"`
	Record map[string]any `json:"record,omitempty"`
}

type preferenceRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type storeDataRequest struct {
	Kind string `json:"kind"`
}

// Init performs the worker's startup sequence: mirror replay, bridge
// startup merge, and controller state load.
func (w *Worker) Init(ctx context.Context) error {
	_, err := w.send(ctx, Message{Type: TypeInit})
	return err
}

// Enable joins or shares a room. mode is "share" or "join".
func (w *Worker) Enable(ctx context.Context, roomID, password, mode string) error {
	payload, err := encodePayload(enableRequest{RoomID: roomID, Password: password, Mode: mode})
	if err != nil {
		return err
	}
	_, err = w.send(ctx, Message{Type: TypeEnable, Payload: payload})
	return err
}

// Disable tears down the active sync session.
func (w *Worker) Disable(ctx context.Context) error {
	_, err := w.send(ctx, Message{Type: TypeDisable})
	return err
}

// Upsert writes one record under kind/id, mirroring it into the shared
// document once the bridge is ready.
func (w *Worker) Upsert(ctx context.Context, kind, id string, record map[string]any) error {
	if record == nil {
		record = map[string]any{}
	}
	record["id"] = id
	payload, err := encodePayload(itemRequest{Kind: kind, ID: id, Record: record})
	if err != nil {
		return err
	}
	_, err = w.send(ctx, Message{Type: TypeSyncItem, Payload: payload})
	return err
}

// Delete removes one record under kind/id.
func (w *Worker) Delete(ctx context.Context, kind, id string) error {
	payload, err := encodePayload(itemRequest{Kind: kind, ID: id})
	if err != nil {
		return err
	}
	_, err = w.send(ctx, Message{Type: TypeDeleteItem, Payload: payload})
	return err
}

// ForceLoadData pushes every local record into the shared document, used
// before transitioning into share mode.
func (w *Worker) ForceLoadData(ctx context.Context) error {
	_, err := w.send(ctx, Message{Type: TypeForceLoadData})
	return err
}

// ClearPreferences tombstones every key in the preferences map, used before
// transitioning into join mode.
func (w *Worker) ClearPreferences(ctx context.Context) error {
	_, err := w.send(ctx, Message{Type: TypeClearPreferences})
	return err
}

// SetPreference writes one allow-listed preference key.
func (w *Worker) SetPreference(ctx context.Context, key string, value any) error {
	payload, err := encodePayload(preferenceRequest{Key: key, Value: value})
	if err != nil {
		return err
	}
	_, err = w.send(ctx, Message{Type: TypeSetPreference, Payload: payload})
	return err
}

// GetPreferences returns the current allow-listed preference values.
func (w *Worker) GetPreferences(ctx context.Context) (map[string]any, error) {
	resp, err := w.send(ctx, Message{Type: TypeGetPreferences})
	if err != nil {
		return nil, err
	}
	return decodePayload[map[string]any](resp.Payload)
}

// GetStoreData returns every live entry currently held for kind.
func (w *Worker) GetStoreData(ctx context.Context, kind string) (map[string]map[string]any, error) {
	payload, err := encodePayload(storeDataRequest{Kind: kind})
	if err != nil {
		return nil, err
	}
	resp, err := w.send(ctx, Message{Type: TypeGetStoreData, Payload: payload})
	if err != nil {
		return nil, err
	}
	return decodePayload[map[string]map[string]any](resp.Payload)
}

// GetStatus returns a snapshot of the worker's current sync state.
func (w *Worker) GetStatus(ctx context.Context) (syncengine.Status, error) {
	resp, err := w.send(ctx, Message{Type: TypeGetStatus})
	if err != nil {
		return syncengine.Status{}, err
	}
	return decodePayload[syncengine.Status](resp.Payload)
}

// OnRemoteChange registers fn for every remote-origin mutation to kind.
func (w *Worker) OnRemoteChange(kind string, fn func(syncengine.RemoteChange)) func() {
	w.subMu.Lock()
	w.remoteObservers[kind] = append(w.remoteObservers[kind], fn)
	idx := len(w.remoteObservers[kind]) - 1
	w.subMu.Unlock()

	return func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		observers := w.remoteObservers[kind]
		if idx < len(observers) {
			observers[idx] = nil
		}
	}
}

// OnStatusChange registers fn for every status transition.
func (w *Worker) OnStatusChange(fn func(syncengine.Status)) func() {
	w.subMu.Lock()
	w.statusObservers = append(w.statusObservers, fn)
	idx := len(w.statusObservers) - 1
	w.subMu.Unlock()

	return func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		if idx < len(w.statusObservers) {
			w.statusObservers[idx] = nil
		}
	}
}

// OnActivity registers fn for every recorded ActivitySample.
func (w *Worker) OnActivity(fn func(syncengine.ActivitySample)) func() {
	w.subMu.Lock()
	w.activityObservers = append(w.activityObservers, fn)
	idx := len(w.activityObservers) - 1
	w.subMu.Unlock()

	return func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		if idx < len(w.activityObservers) {
			w.activityObservers[idx] = nil
		}
	}
}

// Close stops the worker goroutine and releases the mirror/controller's
// underlying files.
func (w *Worker) Close() error {
	close(w.done)
	_ = w.controller.Shutdown(context.Background())
	return w.mir.Close()
}

func (w *Worker) status() syncengine.Status {
	peers := w.sm.Peers()
	out := make([]syncengine.PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, syncengine.PeerInfo{ClientID: p.ClientID, IsLocal: p.IsLocal})
	}
	return syncengine.Status{
		Initialized:          true,
		SyncStatus:           string(w.sm.Status()),
		RoomID:               w.controller.RoomID(),
		NeedsPasswordReentry: w.controller.NeedsPasswordReentry(),
		PeerCount:            len(out),
		Peers:                out,
	}
}

// broadcastStatus, broadcastActivity, and broadcastRemoteChange never call a
// subscriber directly: they encode a real Message and hand it to w.events,
// so delivery to Go-land callbacks happens on runEvents' goroutine instead
// of whatever goroutine produced the underlying change (sm's status
// callback, sm's activity callback, or the bridge's remote-change callback,
// which otherwise run inline on the dispatch goroutine for requests and on
// the sync manager's connection goroutine for inbound frames).
func (w *Worker) broadcastStatus() {
	w.emitEvent(TypeStatus, w.status())
}

func (w *Worker) broadcastActivity(sample syncengine.ActivitySample) {
	w.emitEvent(TypeActivity, sample)
}

func (w *Worker) broadcastRemoteChange(change syncengine.RemoteChange) {
	w.emitEvent(TypeRemoteChange, change)
}

// emitEvent encodes payload into a Message of type t and hands it to
// w.events. A full buffer means subscribers are falling behind; the event
// is dropped and logged rather than blocking the producer.
func (w *Worker) emitEvent(t MessageType, payload any) {
	data, err := encodePayload(payload)
	if err != nil {
		logger.Warn("workerengine: failed to encode event payload",
			logger.String("type", string(t)), logger.Error(err))
		return
	}
	msg := Message{Type: t, Payload: data}
	select {
	case w.events <- msg:
	default:
		logger.Warn("workerengine: event channel full, dropping event", logger.String("type", string(t)))
	}
}

// dispatchEvent decodes msg and fans it out to the matching subscriber list.
// It runs only on runEvents' goroutine.
func (w *Worker) dispatchEvent(msg Message) {
	switch msg.Type {
	case TypeStatus:
		status, err := decodePayload[syncengine.Status](msg.Payload)
		if err != nil {
			logger.Warn("workerengine: failed to decode status event", logger.Error(err))
			return
		}
		w.subMu.Lock()
		cbs := append([]func(syncengine.Status){}, w.statusObservers...)
		w.subMu.Unlock()
		for _, cb := range cbs {
			if cb != nil {
				cb(status)
			}
		}
	case TypeActivity:
		sample, err := decodePayload[syncengine.ActivitySample](msg.Payload)
		if err != nil {
			logger.Warn("workerengine: failed to decode activity event", logger.Error(err))
			return
		}
		w.subMu.Lock()
		cbs := append([]func(syncengine.ActivitySample){}, w.activityObservers...)
		w.subMu.Unlock()
		for _, cb := range cbs {
			if cb != nil {
				cb(sample)
			}
		}
	case TypeRemoteChange:
		change, err := decodePayload[syncengine.RemoteChange](msg.Payload)
		if err != nil {
			logger.Warn("workerengine: failed to decode remote change event", logger.Error(err))
			return
		}
		w.subMu.Lock()
		cbs := append([]func(syncengine.RemoteChange){}, w.remoteObservers[change.Kind]...)
		w.subMu.Unlock()
		for _, cb := range cbs {
			if cb != nil {
				cb(change)
			}
		}
	default:
		logger.Warn("workerengine: unknown event type", logger.String("type", string(msg.Type)))
	}
}
