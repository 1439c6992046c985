package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagesync/syncroom/pkg/localstore"
)

// preferenceStore implements localstore.PreferenceStore against the
// syncroom_preferences table.
type preferenceStore struct {
	pool *pgxpool.Pool
}

func (p *preferenceStore) Get(ctx context.Context, key string) (any, error) {
	const query = `SELECT value FROM syncroom_preferences WHERE key = $1`

	var data []byte
	err := p.pool.QueryRow(ctx, query, key).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("localstore/postgres: get preference: %w", err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("localstore/postgres: decode preference: %w", err)
	}
	return value, nil
}

func (p *preferenceStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("localstore/postgres: encode preference: %w", err)
	}

	const query = `
		INSERT INTO syncroom_preferences (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := p.pool.Exec(ctx, query, key, data); err != nil {
		return fmt.Errorf("localstore/postgres: set preference: %w", err)
	}
	return nil
}

func (p *preferenceStore) List(ctx context.Context) (map[string]any, error) {
	const query = `SELECT key, value FROM syncroom_preferences`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("localstore/postgres: list preferences: %w", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("localstore/postgres: scan preference: %w", err)
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("localstore/postgres: decode preference: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore/postgres: iterate preferences: %w", err)
	}
	return out, nil
}
