package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagesync/syncroom/pkg/crdt"
	"github.com/sagesync/syncroom/pkg/localstore"
)

func TestRecordStoreUpsertGetDelete(t *testing.T) {
	ctx := context.Background()
	store := New()
	records := store.Records(crdt.KindAgents)

	_, err := records.Get(ctx, "agent-1")
	assert.ErrorIs(t, err, localstore.ErrNotFound)

	require.NoError(t, records.Upsert(ctx, localstore.Record{"id": "agent-1", "name": "Ada"}))
	rec, err := records.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", rec["name"])

	count, err := records.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, records.Delete(ctx, "agent-1"))
	_, err = records.Get(ctx, "agent-1")
	assert.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestRecordStoreUpsertRejectsMissingID(t *testing.T) {
	store := New()
	err := store.Records(crdt.KindAgents).Upsert(context.Background(), localstore.Record{"name": "Ada"})
	assert.ErrorIs(t, err, localstore.ErrInvalidRecord)
}

func TestRecordStoreListReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	store := New()
	records := store.Records(crdt.KindTasks)
	require.NoError(t, records.Upsert(ctx, localstore.Record{"id": "task-1", "status": "open"}))

	list, err := records.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list[0]["status"] = "mutated"
	rec, err := records.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "open", rec["status"], "mutating a listed copy must not affect stored state")
}

func TestPreferenceStoreSetGetList(t *testing.T) {
	ctx := context.Background()
	store := New()
	prefs := store.Preferences()

	_, err := prefs.Get(ctx, "theme")
	assert.ErrorIs(t, err, localstore.ErrNotFound)

	require.NoError(t, prefs.Set(ctx, "theme", "dark"))
	v, err := prefs.Get(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", v)

	all, err := prefs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark"}, all)
}

func TestPingAndClose(t *testing.T) {
	store := New()
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, store.Close())
}
