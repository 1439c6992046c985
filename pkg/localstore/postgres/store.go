// Package postgres is a pgx-backed localstore.Store. It keeps one generic
// table for records (discriminated by kind) and one for preferences, since
// unlike the teacher's strongly-typed session/nonce/DID rows, a bridged
// record is an opaque application payload.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagesync/syncroom/pkg/crdt"
	"github.com/sagesync/syncroom/pkg/localstore"
)

// Store implements localstore.Store against a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn. Callers are expected to have provisioned the
// syncroom_records(kind, id, data) and syncroom_preferences(key, value)
// tables ahead of time.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("localstore/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("localstore/postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Records returns the RecordStore view for kind.
func (s *Store) Records(kind crdt.Kind) localstore.RecordStore {
	return &recordStore{pool: s.pool, kind: kind}
}

// Preferences returns the preference store view.
func (s *Store) Preferences() localstore.PreferenceStore {
	return &preferenceStore{pool: s.pool}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
