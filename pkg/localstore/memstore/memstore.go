// Package memstore is an in-memory localstore.Store, used in tests and as a
// solo-mode fallback when no Postgres DSN is configured. It mirrors the
// copy-on-read/write discipline of the teacher's in-memory store, copying
// each record's top-level map (nested values are shared, not copied).
package memstore

import (
	"context"
	"sync"

	"github.com/sagesync/syncroom/pkg/crdt"
	"github.com/sagesync/syncroom/pkg/localstore"
)

// Store implements localstore.Store with plain Go maps.
type Store struct {
	mu          sync.RWMutex
	records     map[crdt.Kind]map[string]localstore.Record
	preferences map[string]any
}

// New creates an empty in-memory store with one record bucket per
// registered crdt.Kind.
func New() *Store {
	s := &Store{
		records:     make(map[crdt.Kind]map[string]localstore.Record, len(crdt.Kinds)),
		preferences: make(map[string]any),
	}
	for _, kind := range crdt.Kinds {
		s.records[kind] = make(map[string]localstore.Record)
	}
	return s
}

// Records returns the RecordStore view for kind.
func (s *Store) Records(kind crdt.Kind) localstore.RecordStore {
	return &recordStore{store: s, kind: kind}
}

// Preferences returns the preference store view.
func (s *Store) Preferences() localstore.PreferenceStore {
	return &preferenceStore{store: s}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(ctx context.Context) error { return nil }

func copyRecord(r localstore.Record) localstore.Record {
	out := make(localstore.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type recordStore struct {
	store *Store
	kind  crdt.Kind
}

func (r *recordStore) Get(ctx context.Context, id string) (localstore.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.records[r.kind][id]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (r *recordStore) List(ctx context.Context) ([]localstore.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]localstore.Record, 0, len(r.store.records[r.kind]))
	for _, rec := range r.store.records[r.kind] {
		out = append(out, copyRecord(rec))
	}
	return out, nil
}

func (r *recordStore) Upsert(ctx context.Context, record localstore.Record) error {
	id, _ := record["id"].(string)
	if id == "" {
		return localstore.ErrInvalidRecord
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.records[r.kind][id] = copyRecord(record)
	return nil
}

func (r *recordStore) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.records[r.kind], id)
	return nil
}

func (r *recordStore) Count(ctx context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return int64(len(r.store.records[r.kind])), nil
}

type preferenceStore struct {
	store *Store
}

func (p *preferenceStore) Get(ctx context.Context, key string) (any, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	v, ok := p.store.preferences[key]
	if !ok {
		return nil, localstore.ErrNotFound
	}
	return v, nil
}

func (p *preferenceStore) Set(ctx context.Context, key string, value any) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	p.store.preferences[key] = value
	return nil
}

func (p *preferenceStore) List(ctx context.Context) (map[string]any, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	out := make(map[string]any, len(p.store.preferences))
	for k, v := range p.store.preferences {
		out[k] = v
	}
	return out, nil
}
