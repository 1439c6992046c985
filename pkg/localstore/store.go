// Package localstore defines the record-oriented local database that
// pkg/bridge reconciles against the CRDT shared document. It generalizes the
// teacher's session/nonce/DID store split into one RecordStore per
// crdt.Kind, plus a PreferenceStore for the settings allow-list.
package localstore

import (
	"context"
	"errors"

	"github.com/sagesync/syncroom/pkg/crdt"
)

// ErrNotFound is returned by RecordStore.Get and PreferenceStore.Get when
// the requested key is absent.
var ErrNotFound = errors.New("localstore: not found")

// ErrInvalidRecord is returned by RecordStore.Upsert when the record has no
// "id" field to key it by.
var ErrInvalidRecord = errors.New("localstore: record missing id")

// Record is one opaque, application-defined row. It must carry an "id"
// field whose value equals the key it is stored under, mirroring
// crdt.Map's convention so records can be mirrored into the CRDT untouched.
type Record map[string]any

// RecordStore persists Records of a single crdt.Kind.
type RecordStore interface {
	// Get returns the record at id, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// List returns every record currently stored.
	List(ctx context.Context) ([]Record, error)

	// Upsert inserts or replaces the record at its own "id".
	Upsert(ctx context.Context, record Record) error

	// Delete removes the record at id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
}

// PreferenceStore persists the fixed allow-list of application preference
// keys that pkg/bridge keeps in sync with the CRDT preferences map.
type PreferenceStore interface {
	// Get returns the stored value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (any, error)

	// Set stores value under key.
	Set(ctx context.Context, key string, value any) error

	// List returns every stored preference.
	List(ctx context.Context) (map[string]any, error)
}

// Store is the full local database: one RecordStore per synced kind plus
// the preferences store.
type Store interface {
	// Records returns the RecordStore for kind. Implementations must
	// support every kind in crdt.Kinds.
	Records(kind crdt.Kind) RecordStore

	// Preferences returns the preference store.
	Preferences() PreferenceStore

	// Close releases any underlying connection or file handle.
	Close() error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
