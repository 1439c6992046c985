package crdt

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sagesync/syncroom/internal/metrics"
)

// ErrMissingID is returned by Map.Set when a record's "id" field does not
// match the key it is being stored under.
var ErrMissingID = fmt.Errorf("crdt: record id must equal its map key")

// entry is one LWW register: a value tagged with the Lamport clock position
// of the write that produced it, so concurrent updates resolve the same way
// on every replica regardless of wall-clock skew.
type entry struct {
	value     map[string]any
	deleted   bool
	counter   uint64
	replicaID string
}

// winsAgainst reports whether candidate should replace cur under the CRDT's
// merge law: higher Lamport counter wins; ties broken by replica ID so the
// result is deterministic without coordination.
func (cur entry) winsAgainst(candidate entry) bool {
	if candidate.counter != cur.counter {
		return candidate.counter > cur.counter
	}
	return candidate.replicaID > cur.replicaID
}

// Change describes one key's resulting value after an Observe-triggering
// operation. Counter and ReplicaID carry the Lamport position the write was
// stamped with, so a durable mirror can persist and later restore it without
// resetting the clock.
type Change struct {
	Kind      Kind
	Key       string
	Value     map[string]any
	Deleted   bool
	Counter   uint64
	ReplicaID string
}

// ChangeSet is the batch of Changes produced by one local Transact call or
// one remote Decode call.
type ChangeSet []Change

// Map is one named, last-writer-wins register map within a Document.
type Map struct {
	kind Kind
	doc  *Document

	mu      sync.RWMutex
	entries map[string]entry

	obsMu     sync.Mutex
	observers map[int]func(ChangeSet)
	nextObsID int
}

func newMap(doc *Document, kind Kind) *Map {
	return &Map{
		kind:      kind,
		doc:       doc,
		entries:   make(map[string]entry),
		observers: make(map[int]func(ChangeSet)),
	}
}

// Set stores value under key, stamping it with the document's next Lamport
// clock position. value["id"] must equal key.
func (m *Map) Set(key string, value map[string]any) error {
	if id, _ := value["id"].(string); id != key {
		return ErrMissingID
	}
	m.doc.Transact(func(txn *Txn) error {
		txn.set(m.kind, key, value)
		return nil
	})
	return nil
}

// Get returns the value at key, if present and not deleted.
func (m *Map) Get(key string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	return e.value, true
}

// Delete tombstones key with the document's next Lamport clock position.
func (m *Map) Delete(key string) {
	m.doc.Transact(func(txn *Txn) error {
		txn.delete(m.kind, key)
		return nil
	})
}

// Entries returns a snapshot of all live (non-deleted) key/value pairs.
func (m *Map) Entries() map[string]map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[string]any, len(m.entries))
	for k, e := range m.entries {
		if !e.deleted {
			out[k] = e.value
		}
	}
	return out
}

// Len returns the number of live keys.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Observe registers fn to be called with every ChangeSet touching this map.
// It returns an unsubscribe function.
func (m *Map) Observe(fn func(ChangeSet)) (unsubscribe func()) {
	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = fn
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

func (m *Map) notify(cs ChangeSet) {
	m.obsMu.Lock()
	fns := make([]func(ChangeSet), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.obsMu.Unlock()

	for _, fn := range fns {
		fn(cs)
	}
}

// applyRemote merges a remote entry into this map using the CRDT merge law.
// It returns the resulting Change and whether the map actually changed.
func (m *Map) applyRemote(key string, candidate entry) (Change, bool) {
	m.mu.Lock()
	cur, exists := m.entries[key]
	if exists && !cur.winsAgainst(candidate) {
		m.mu.Unlock()
		metrics.CRDTMergesDropped.Inc()
		return Change{}, false
	}
	m.entries[key] = candidate
	m.mu.Unlock()

	return Change{Kind: m.kind, Key: key, Value: candidate.value, Deleted: candidate.deleted,
		Counter: candidate.counter, ReplicaID: candidate.replicaID}, true
}

// LoadFromStore installs an entry that was read back from durable storage,
// bypassing the merge law: a freshly opened mirror has no conflicting state
// to reconcile against, only a clock position to restore.
func (m *Map) LoadFromStore(key string, counter uint64, replicaID string, deleted bool, value map[string]any) {
	m.mu.Lock()
	m.entries[key] = entry{value: value, deleted: deleted, counter: counter, replicaID: replicaID}
	m.mu.Unlock()
}

// Document holds a fixed registry of Maps, one per Kind, plus the Lamport
// clock shared across all of them.
type Document struct {
	replicaID string
	clock     uint64 // atomic
	maps      map[Kind]*Map
}

// NewDocument creates a Document for a given replica identity (used only for
// Lamport tie-break determinism, never transmitted as a user-facing ID).
func NewDocument(replicaID string) *Document {
	d := &Document{
		replicaID: replicaID,
		maps:      make(map[Kind]*Map, len(Kinds)),
	}
	for _, k := range Kinds {
		d.maps[k] = newMap(d, k)
	}
	return d
}

// Map returns the named map for kind. Panics if kind is not registered —
// this is a programmer error, not a runtime condition.
func (d *Document) Map(kind Kind) *Map {
	m, ok := d.maps[kind]
	if !ok {
		panic(fmt.Sprintf("crdt: unregistered kind %q", kind))
	}
	return m
}

// ReplicaID returns this document's replica identity.
func (d *Document) ReplicaID() string {
	return d.replicaID
}

// FastForwardClock advances the document's Lamport clock to at least
// counter, so new local writes always sort after whatever was restored from
// durable storage.
func (d *Document) FastForwardClock(counter uint64) {
	for {
		cur := atomic.LoadUint64(&d.clock)
		if counter <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&d.clock, cur, counter) {
			return
		}
	}
}

// Txn batches writes across one or more maps into a single local Lamport
// tick and a single observer notification pass.
type Txn struct {
	doc     *Document
	counter uint64
	changed map[Kind]ChangeSet
}

// Set stamps value into kind's map under key within this transaction's
// Lamport tick. value["id"] must equal key. Unlike Map.Set, this batches
// with every other Set/Delete made on the same Txn into one observer
// notification pass once Transact's callback returns.
func (t *Txn) Set(kind Kind, key string, value map[string]any) error {
	if id, _ := value["id"].(string); id != key {
		return ErrMissingID
	}
	t.set(kind, key, value)
	return nil
}

// Delete tombstones key in kind's map within this transaction's Lamport
// tick.
func (t *Txn) Delete(kind Kind, key string) {
	t.delete(kind, key)
}

func (t *Txn) set(kind Kind, key string, value map[string]any) {
	m := t.doc.maps[kind]
	m.mu.Lock()
	m.entries[key] = entry{value: value, counter: t.counter, replicaID: t.doc.replicaID}
	m.mu.Unlock()
	t.changed[kind] = append(t.changed[kind], Change{Kind: kind, Key: key, Value: value,
		Counter: t.counter, ReplicaID: t.doc.replicaID})
	metrics.CRDTUpdatesApplied.WithLabelValues("local").Inc()
}

func (t *Txn) delete(kind Kind, key string) {
	m := t.doc.maps[kind]
	m.mu.Lock()
	m.entries[key] = entry{deleted: true, counter: t.counter, replicaID: t.doc.replicaID}
	m.mu.Unlock()
	t.changed[kind] = append(t.changed[kind], Change{Kind: kind, Key: key, Deleted: true,
		Counter: t.counter, ReplicaID: t.doc.replicaID})
	metrics.CRDTUpdatesApplied.WithLabelValues("local").Inc()
}

// Transact runs fn with a Txn that batches every Set/Delete issued inside it
// into one Lamport tick, then fires each touched map's observers once with
// the full ChangeSet for that map.
func (d *Document) Transact(fn func(*Txn) error) error {
	txn := &Txn{
		doc:     d,
		counter: atomic.AddUint64(&d.clock, 1),
		changed: make(map[Kind]ChangeSet),
	}

	if err := fn(txn); err != nil {
		return err
	}

	for kind, cs := range txn.changed {
		d.maps[kind].notify(cs)
	}
	return nil
}
