// Package workerengine runs pkg/crdt, pkg/mirror, pkg/bridge,
// pkg/syncmanager, and pkg/synccontroller on a dedicated goroutine and
// exposes them through a typed request/response message protocol — the Go
// analogue of moving the same logic off the UI thread into a web worker
// and talking to it over postMessage.
package workerengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

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

// RequestTimeout bounds how long a caller waits for a RESPONSE before the
// request is abandoned, mirroring spec.md §5's 30s cross-context timeout.
const RequestTimeout = 30 * time.Second

var _ syncengine.Engine = (*Worker)(nil)

// eventChannelBuffer bounds Worker.events: a slow or blocking subscriber
// callback must never stall the dispatch goroutine that produces events, so
// a full buffer drops the event (logged) rather than blocking the sender.
const eventChannelBuffer = 64

// Worker implements syncengine.Engine by serializing every request
// through a single inbox channel onto one goroutine, so callers' calls into
// the underlying crdt.Document/bridge.Bridge/syncmanager.Manager/
// synccontroller.Controller stack all run on that goroutine; inbound peer
// updates are applied on the sync manager's connection goroutine. Asynchronous events
// (STATUS, REMOTE_CHANGE, ACTIVITY) are handed off on a second channel and
// fanned out to subscribers by their own goroutine, so a slow callback can
// never block the dispatch loop.
type Worker struct {
	doc        *crdt.Document
	mir        *mirror.Mirror
	br         *bridge.Bridge
	sm         *syncmanager.Manager
	controller *synccontroller.Controller

	inbox  chan workItem
	events chan Message
	done   chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan Message

	subMu             sync.Mutex
	remoteObservers   map[string][]func(syncengine.RemoteChange)
	statusObservers   []func(syncengine.Status)
	activityObservers []func(syncengine.ActivitySample)
}

type workItem struct {
	msg    Message
	respCh chan Message
}

// New creates a Worker wiring together a fresh crdt.Document, a bbolt-backed
// mirror at mirrorPath, a bridge over store, a syncmanager.Manager, and a
// synccontroller.Controller persisted at controllerPath. smOpts configures
// the Manager (e.g. syncmanager.WithRelayURL) the same way an embedder would.
func New(replicaID, mirrorPath, controllerPath string, store localstore.Store, preferenceKeys []string, vault credentialvault.Vault, smOpts ...syncmanager.Option) *Worker {
	doc := crdt.NewDocument(replicaID)
	mir := mirror.New(mirrorPath, doc, nil)
	br := bridge.New(doc, store, preferenceKeys)
	sm := syncmanager.New(doc, smOpts...)
	controller := synccontroller.New(controllerPath, sm, br, vault)

	w := &Worker{
		doc:             doc,
		mir:             mir,
		br:              br,
		sm:              sm,
		controller:      controller,
		inbox:           make(chan workItem, 32),
		events:          make(chan Message, eventChannelBuffer),
		done:            make(chan struct{}),
		pending:         make(map[string]chan Message),
		remoteObservers: make(map[string][]func(syncengine.RemoteChange)),
	}

	sm.OnStatusChange(func(status syncmanager.Status) {
		controller.OnManagerStatusChange(status)
		w.broadcastStatus()
	})
	sm.OnActivity(func(sample syncmanager.ActivitySample) {
		w.broadcastActivity(syncengine.ActivitySample{
			Direction: string(sample.Direction), Bytes: sample.Bytes, Timestamp: sample.Timestamp,
		})
	})
	for _, kind := range crdt.Kinds {
		kind := kind
		br.OnRemoteChange(kind, func(rc bridge.RemoteChange) {
			w.broadcastRemoteChange(syncengine.RemoteChange{
				Kind: string(rc.Kind), ID: rc.ID, Record: map[string]any(rc.Record), Deleted: rc.Deleted,
			})
		})
	}

	go w.run()
	go w.runEvents()
	return w
}

func (w *Worker) run() {
	for {
		select {
		case item := <-w.inbox:
			w.dispatch(item)
		case <-w.done:
			return
		}
	}
}

// runEvents drains w.events and fans each Message out to its subscribers,
// on its own goroutine so a slow callback never backs up the dispatch loop.
func (w *Worker) runEvents() {
	for {
		select {
		case msg := <-w.events:
			w.dispatchEvent(msg)
		case <-w.done:
			return
		}
	}
}

// dispatch executes one message synchronously on the worker goroutine and
// replies on respCh, the direct Go analogue of the teacher's
// pendingResponses-correlated reply.
func (w *Worker) dispatch(item workItem) {
	ctx := context.Background()
	reply := func(payload any, err error) {
		if err != nil {
			data, _ := json.Marshal(map[string]string{"error": err.Error()})
			item.respCh <- Message{Type: TypeError, RequestID: item.msg.RequestID, Payload: data}
			return
		}
		data, encErr := encodePayload(payload)
		if encErr != nil {
			data, _ = json.Marshal(map[string]string{"error": encErr.Error()})
			item.respCh <- Message{Type: TypeError, RequestID: item.msg.RequestID, Payload: data}
			return
		}
		item.respCh <- Message{Type: TypeResponse, RequestID: item.msg.RequestID, Payload: data}
	}

	switch item.msg.Type {
	case TypeInit:
		reply(nil, w.handleInit(ctx))
	case TypeEnable:
		req, err := decodePayload[enableRequest](item.msg.Payload)
		if err != nil {
			reply(nil, err)
			return
		}
		reply(nil, w.controller.EnableSync(ctx, req.RoomID, req.Password, synccontroller.Mode(req.Mode)))
	case TypeDisable:
		reply(nil, w.controller.DisableSync(ctx))
	case TypeSyncItem:
		req, err := decodePayload[itemRequest](item.msg.Payload)
		if err != nil {
			reply(nil, err)
			return
		}
		reply(nil, w.br.Upsert(ctx, crdt.Kind(req.Kind), localstore.Record(req.Record)))
	case TypeDeleteItem:
		req, err := decodePayload[itemRequest](item.msg.Payload)
		if err != nil {
			reply(nil, err)
			return
		}
		reply(nil, w.br.Delete(ctx, crdt.Kind(req.Kind), req.ID))
	case TypeLoadData, TypeForceLoadData:
		reply(nil, w.br.ForceLoadToSD(ctx))
	case TypeClearPreferences:
		reply(nil, w.br.ClearPreferences(ctx))
	case TypeSetPreference:
		req, err := decodePayload[preferenceRequest](item.msg.Payload)
		if err != nil {
			reply(nil, err)
			return
		}
		reply(nil, w.br.SetPreference(ctx, req.Key, req.Value))
	case TypeGetPreferences:
		reply(w.br.GetPreferences(), nil)
	case TypeGetStoreData:
		req, err := decodePayload[storeDataRequest](item.msg.Payload)
		if err != nil {
			reply(nil, err)
			return
		}
		reply(w.doc.Map(crdt.Kind(req.Kind)).Entries(), nil)
	case TypeGetStatus:
		reply(w.status(), nil)
	default:
		reply(nil, fmt.Errorf("workerengine: unknown message type %q", item.msg.Type))
	}
}

func (w *Worker) handleInit(ctx context.Context) error {
	if err := w.mir.Init(ctx); err != nil {
		logger.Warn("workerengine: mirror init failed, continuing degraded", logger.Error(err))
	}
	<-w.mir.Ready()
	if err := w.br.Init(ctx); err != nil {
		return fmt.Errorf("workerengine: bridge init: %w", err)
	}
	return w.controller.Initialize(ctx)
}

// send submits msg to the worker goroutine and blocks for its reply or
// RequestTimeout, whichever comes first.
func (w *Worker) send(ctx context.Context, msg Message) (Message, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	respCh := make(chan Message, 1)

	select {
	case w.inbox <- workItem{msg: msg, respCh: respCh}:
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	select {
	case resp := <-respCh:
		if resp.Type == TypeError {
			var e struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(resp.Payload, &e)
			return resp, fmt.Errorf("workerengine: %s", e.Error)
		}
		return resp, nil
	case <-timeoutCtx.Done():
		return Message{}, fmt.Errorf("workerengine: request %q timed out: %w", msg.Type, timeoutCtx.Err())
	}
}
