// Package bridge reconciles a record-oriented local database (pkg/localstore)
// with the CRDT shared document (pkg/crdt), using timestamp comparison
// rather than full-field merging, so the same record can be edited on both
// sides without either write silently disappearing.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sagesync/syncroom/internal/logger"
	"github.com/sagesync/syncroom/internal/metrics"
	"github.com/sagesync/syncroom/pkg/crdt"
	"github.com/sagesync/syncroom/pkg/crdt/wiretime"
	"github.com/sagesync/syncroom/pkg/localstore"
)

// RecentWriteWindow is how long after a local write a remote delete of the
// same record is presumed to be stale and is rejected rather than applied,
// with the local version restored to the shared document instead.
const RecentWriteWindow = 300 * time.Second

// timestampFields lists the record fields checked, in order, for a record's
// effective timestamp.
var timestampFields = []string{"updatedAt", "createdAt", "timestamp", "learnedAt"}

// RemoteChange describes one remote-origin mutation delivered to an
// OnRemoteChange subscriber.
type RemoteChange struct {
	Kind    crdt.Kind
	ID      string
	Record  localstore.Record
	Deleted bool
}

type pendingOp struct {
	kind    crdt.Kind
	id      string
	record  localstore.Record
	deleted bool
}

// Bridge keeps a localstore.Store in agreement with a crdt.Document.
type Bridge struct {
	doc   *crdt.Document
	store localstore.Store

	preferenceKeys map[string]struct{}

	mu                         sync.Mutex
	ready                      bool
	pending                    []pendingOp
	isApplyingRemoteChange     bool
	isApplyingRemotePreference bool

	obsMu           sync.Mutex
	remoteObservers map[crdt.Kind][]func(RemoteChange)

	unsubs []func()
}

// New creates a Bridge over doc and store. preferenceKeys is the fixed
// allow-list of settings keys kept in sync via the preferences map.
func New(doc *crdt.Document, store localstore.Store, preferenceKeys []string) *Bridge {
	allow := make(map[string]struct{}, len(preferenceKeys))
	for _, k := range preferenceKeys {
		allow[k] = struct{}{}
	}
	return &Bridge{
		doc:             doc,
		store:           store,
		preferenceKeys:  allow,
		remoteObservers: make(map[crdt.Kind][]func(RemoteChange)),
	}
}

// syncedKinds are the record kinds reconciled by the ordinary upsert/delete
// path. Preferences has its own dedicated bridge below.
func syncedKinds() []crdt.Kind {
	out := make([]crdt.Kind, 0, len(crdt.Kinds))
	for _, k := range crdt.Kinds {
		if k == crdt.KindPreferences {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Init performs the startup merge for every synced kind, installs observers
// for future remote changes, runs the preferences bridge's init step, then
// flushes any Upsert/Delete calls that arrived before Init completed.
func (b *Bridge) Init(ctx context.Context) error {
	for _, kind := range syncedKinds() {
		if err := b.startupMerge(ctx, kind); err != nil {
			logger.Warn("bridge: startup merge failed for kind, continuing",
				logger.String("kind", string(kind)), logger.Error(err))
		}
		b.installObserver(kind)
	}

	b.initPreferences(ctx)
	b.installPreferenceObserver()

	b.mu.Lock()
	b.ready = true
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	return b.flush(ctx, pending)
}

func (b *Bridge) flush(ctx context.Context, ops []pendingOp) error {
	if len(ops) == 0 {
		return nil
	}
	return b.doc.Transact(func(txn *crdt.Txn) error {
		for _, op := range ops {
			if op.deleted {
				txn.Delete(op.kind, op.id)
				continue
			}
			if err := txn.Set(op.kind, op.id, wiretime.MarshalRecordValue(map[string]any(op.record)).(map[string]any)); err != nil {
				logger.Warn("bridge: dropping queued write with mismatched id",
					logger.String("kind", string(op.kind)), logger.String("id", op.id), logger.Error(err))
			}
		}
		return nil
	})
}

// startupMerge implements spec's four-case bidirectional reconciliation for
// one kind: both empty is a no-op; one side empty copies from the other in
// bulk; both non-empty compares per record and lets the newer side win.
func (b *Bridge) startupMerge(ctx context.Context, kind crdt.Kind) error {
	timer := prometheus.NewTimer(metrics.BridgeMergeDuration.WithLabelValues("startup"))
	defer timer.ObserveDuration()

	sdEntries := b.doc.Map(kind).Entries()
	localRecords, err := b.store.Records(kind).List(ctx)
	if err != nil {
		return fmt.Errorf("bridge: list local records for %q: %w", kind, err)
	}

	if len(sdEntries) == 0 && len(localRecords) == 0 {
		return nil
	}

	if len(sdEntries) == 0 {
		return b.doc.Transact(func(txn *crdt.Txn) error {
			for _, rec := range localRecords {
				id, _ := rec["id"].(string)
				if id == "" {
					continue
				}
				_ = txn.Set(kind, id, wiretime.MarshalRecordValue(map[string]any(rec)).(map[string]any))
			}
			return nil
		})
	}

	if len(localRecords) == 0 {
		for id, value := range sdEntries {
			rec := wiretime.UnmarshalRecordValue(value).(map[string]any)
			if err := b.store.Records(kind).Upsert(ctx, rec); err != nil {
				logger.Warn("bridge: failed to seed local store from shared document",
					logger.String("kind", string(kind)), logger.String("id", id), logger.Error(err))
			}
		}
		return nil
	}

	localByID := make(map[string]localstore.Record, len(localRecords))
	for _, rec := range localRecords {
		if id, _ := rec["id"].(string); id != "" {
			localByID[id] = rec
		}
	}

	var toWriteBack []localstore.Record
	for id, sdValue := range sdEntries {
		sdRecord := wiretime.UnmarshalRecordValue(sdValue).(map[string]any)
		localRecord, hasLocal := localByID[id]
		if !hasLocal {
			if err := b.store.Records(kind).Upsert(ctx, sdRecord); err != nil {
				logger.Warn("bridge: failed to absorb shared record into local store",
					logger.String("kind", string(kind)), logger.String("id", id), logger.Error(err))
			}
			continue
		}
		delete(localByID, id)
		if remoteWinsOverLocal(sdRecord, localRecord) {
			if err := b.store.Records(kind).Upsert(ctx, sdRecord); err != nil {
				logger.Warn("bridge: failed to absorb shared record into local store",
					logger.String("kind", string(kind)), logger.String("id", id), logger.Error(err))
			}
		} else {
			toWriteBack = append(toWriteBack, localRecord)
		}
	}

	// Anything left in localByID exists locally but not in SD: it also wins.
	for _, rec := range localByID {
		toWriteBack = append(toWriteBack, rec)
	}

	if len(toWriteBack) == 0 {
		return nil
	}
	return b.doc.Transact(func(txn *crdt.Txn) error {
		for _, rec := range toWriteBack {
			id, _ := rec["id"].(string)
			if id == "" {
				continue
			}
			_ = txn.Set(kind, id, wiretime.MarshalRecordValue(map[string]any(rec)).(map[string]any))
		}
		return nil
	})
}

// remoteWinsOverLocal implements the timestamp rule: the remote candidate
// wins unless the local record carries a strictly provable, later
// timestamp. When neither side has an extractable timestamp, the newly
// arriving candidate wins by convention.
func remoteWinsOverLocal(remote, local map[string]any) bool {
	remoteTS, remoteOK := extractTimestamp(remote)
	localTS, localOK := extractTimestamp(local)
	if remoteOK && localOK {
		return !remoteTS.Before(localTS)
	}
	return true
}

// extractTimestamp returns a record's effective timestamp: the first of
// updatedAt, createdAt, timestamp, learnedAt that is present, coerced from
// a time.Time, an RFC3339 string, or a boxed {"__type":"Date"} value.
func extractTimestamp(record map[string]any) (time.Time, bool) {
	for _, field := range timestampFields {
		v, ok := record[field]
		if !ok {
			continue
		}
		if ts, ok := coerceTime(v); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

func coerceTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, val); err == nil {
			return ts, true
		}
		return time.Time{}, false
	default:
		return wiretime.Unbox(v)
	}
}

func (b *Bridge) installObserver(kind crdt.Kind) {
	unsub := b.doc.Map(kind).Observe(func(cs crdt.ChangeSet) {
		for _, change := range cs {
			if change.ReplicaID == b.doc.ReplicaID() {
				continue // our own local-forwarded write, not a remote mutation
			}
			b.handleRemoteChange(kind, change)
		}
	})
	b.unsubs = append(b.unsubs, unsub)
}

func (b *Bridge) handleRemoteChange(kind crdt.Kind, change crdt.Change) {
	b.mu.Lock()
	b.isApplyingRemoteChange = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.isApplyingRemoteChange = false
		b.mu.Unlock()
	}()

	ctx := context.Background()
	records := b.store.Records(kind)

	if change.Deleted {
		b.handleRemoteDelete(ctx, kind, records, change.Key)
		return
	}

	record := wiretime.UnmarshalRecordValue(change.Value).(map[string]any)
	local, err := records.Get(ctx, change.Key)
	if err != nil {
		if err := records.Upsert(ctx, record); err != nil {
			logger.Warn("bridge: failed to apply remote add", logger.String("kind", string(kind)), logger.Error(err))
			return
		}
		b.notifyRemote(kind, RemoteChange{Kind: kind, ID: change.Key, Record: record})
		return
	}

	if remoteWinsOverLocal(record, local) {
		if err := records.Upsert(ctx, record); err != nil {
			logger.Warn("bridge: failed to apply remote update", logger.String("kind", string(kind)), logger.Error(err))
			return
		}
		b.notifyRemote(kind, RemoteChange{Kind: kind, ID: change.Key, Record: record})
		return
	}

	// Local wins: restore it to the shared document as a fresh write so
	// peers converge on the value the local side already has.
	if err := b.doc.Map(kind).Set(change.Key, wiretime.MarshalRecordValue(map[string]any(local)).(map[string]any)); err != nil {
		logger.Warn("bridge: failed to restore winning local record", logger.String("kind", string(kind)), logger.Error(err))
	}
}

func (b *Bridge) handleRemoteDelete(ctx context.Context, kind crdt.Kind, records localstore.RecordStore, id string) {
	existing, err := records.Get(ctx, id)
	if err != nil {
		return // already absent locally
	}

	if ts, ok := extractTimestamp(existing); ok && time.Since(ts) < RecentWriteWindow {
		metrics.BridgeRecentDeleteGuardTriggered.Inc()
		if err := b.doc.Map(kind).Set(id, wiretime.MarshalRecordValue(map[string]any(existing)).(map[string]any)); err != nil {
			logger.Warn("bridge: failed to restore recently-written record over a remote delete",
				logger.String("kind", string(kind)), logger.Error(err))
		}
		return
	}

	if err := records.Delete(ctx, id); err != nil {
		logger.Warn("bridge: failed to apply remote delete", logger.String("kind", string(kind)), logger.Error(err))
		return
	}
	b.notifyRemote(kind, RemoteChange{Kind: kind, ID: id, Deleted: true})
}

// OnRemoteChange subscribes cb to remote-origin mutations for kind. It
// returns an unsubscribe function.
func (b *Bridge) OnRemoteChange(kind crdt.Kind, cb func(RemoteChange)) (unsubscribe func()) {
	b.obsMu.Lock()
	b.remoteObservers[kind] = append(b.remoteObservers[kind], cb)
	idx := len(b.remoteObservers[kind]) - 1
	b.obsMu.Unlock()

	return func() {
		b.obsMu.Lock()
		defer b.obsMu.Unlock()
		obs := b.remoteObservers[kind]
		if idx < len(obs) {
			obs[idx] = nil
		}
	}
}

func (b *Bridge) notifyRemote(kind crdt.Kind, change RemoteChange) {
	b.obsMu.Lock()
	cbs := append([]func(RemoteChange){}, b.remoteObservers[kind]...)
	b.obsMu.Unlock()

	metrics.BridgeWrites.WithLabelValues("remote", string(kind)).Inc()
	for _, cb := range cbs {
		if cb != nil {
			cb(change)
		}
	}
}

// Upsert is a local write: it's stored directly, then mirrored into the
// shared document unless currently applying a remote change (breaking the
// echo) or the bridge isn't ready yet (queued for the post-Init flush).
func (b *Bridge) Upsert(ctx context.Context, kind crdt.Kind, record localstore.Record) error {
	if err := b.store.Records(kind).Upsert(ctx, record); err != nil {
		return err
	}

	b.mu.Lock()
	if b.isApplyingRemoteChange {
		b.mu.Unlock()
		metrics.BridgeEchoSuppressed.WithLabelValues("remote_change").Inc()
		return nil
	}
	if !b.ready {
		id, _ := record["id"].(string)
		b.pending = append(b.pending, pendingOp{kind: kind, id: id, record: record})
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	id, _ := record["id"].(string)
	metrics.BridgeWrites.WithLabelValues("local", string(kind)).Inc()
	return b.doc.Map(kind).Set(id, wiretime.MarshalRecordValue(map[string]any(record)).(map[string]any))
}

// Delete is a local delete, gated the same way as Upsert.
func (b *Bridge) Delete(ctx context.Context, kind crdt.Kind, id string) error {
	if err := b.store.Records(kind).Delete(ctx, id); err != nil {
		return err
	}

	b.mu.Lock()
	if b.isApplyingRemoteChange {
		b.mu.Unlock()
		metrics.BridgeEchoSuppressed.WithLabelValues("remote_change").Inc()
		return nil
	}
	if !b.ready {
		b.pending = append(b.pending, pendingOp{kind: kind, id: id, deleted: true})
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	metrics.BridgeWrites.WithLabelValues("local", string(kind)).Inc()
	b.doc.Map(kind).Delete(id)
	return nil
}

// ForceLoadToSD pushes every locally-stored record of every synced kind
// into the shared document, called before transitioning into share mode.
func (b *Bridge) ForceLoadToSD(ctx context.Context) error {
	for _, kind := range syncedKinds() {
		records, err := b.store.Records(kind).List(ctx)
		if err != nil {
			return fmt.Errorf("bridge: list local records for %q: %w", kind, err)
		}
		if len(records) == 0 {
			continue
		}
		if err := b.doc.Transact(func(txn *crdt.Txn) error {
			for _, rec := range records {
				id, _ := rec["id"].(string)
				if id == "" {
					continue
				}
				_ = txn.Set(kind, id, wiretime.MarshalRecordValue(map[string]any(rec)).(map[string]any))
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Close unsubscribes from the document.
func (b *Bridge) Close() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
}
