package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagesync/syncroom/pkg/crdt"
	"github.com/sagesync/syncroom/pkg/localstore"
)

// recordStore implements localstore.RecordStore for one crdt.Kind, all rows
// sharing the syncroom_records table with kind as a discriminator column.
type recordStore struct {
	pool *pgxpool.Pool
	kind crdt.Kind
}

func (r *recordStore) Get(ctx context.Context, id string) (localstore.Record, error) {
	const query = `SELECT data FROM syncroom_records WHERE kind = $1 AND id = $2`

	var data []byte
	err := r.pool.QueryRow(ctx, query, string(r.kind), id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("localstore/postgres: get record: %w", err)
	}

	var rec localstore.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("localstore/postgres: decode record: %w", err)
	}
	return rec, nil
}

func (r *recordStore) List(ctx context.Context) ([]localstore.Record, error) {
	const query = `SELECT data FROM syncroom_records WHERE kind = $1`

	rows, err := r.pool.Query(ctx, query, string(r.kind))
	if err != nil {
		return nil, fmt.Errorf("localstore/postgres: list records: %w", err)
	}
	defer rows.Close()

	var out []localstore.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("localstore/postgres: scan record: %w", err)
		}
		var rec localstore.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("localstore/postgres: decode record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore/postgres: iterate records: %w", err)
	}
	return out, nil
}

func (r *recordStore) Upsert(ctx context.Context, record localstore.Record) error {
	id, _ := record["id"].(string)
	if id == "" {
		return localstore.ErrInvalidRecord
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("localstore/postgres: encode record: %w", err)
	}

	const query = `
		INSERT INTO syncroom_records (kind, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind, id) DO UPDATE SET data = EXCLUDED.data
	`
	if _, err := r.pool.Exec(ctx, query, string(r.kind), id, data); err != nil {
		return fmt.Errorf("localstore/postgres: upsert record: %w", err)
	}
	return nil
}

func (r *recordStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM syncroom_records WHERE kind = $1 AND id = $2`
	if _, err := r.pool.Exec(ctx, query, string(r.kind), id); err != nil {
		return fmt.Errorf("localstore/postgres: delete record: %w", err)
	}
	return nil
}

func (r *recordStore) Count(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM syncroom_records WHERE kind = $1`
	var count int64
	if err := r.pool.QueryRow(ctx, query, string(r.kind)).Scan(&count); err != nil {
		return 0, fmt.Errorf("localstore/postgres: count records: %w", err)
	}
	return count, nil
}
