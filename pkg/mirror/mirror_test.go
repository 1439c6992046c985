package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagesync/syncroom/pkg/crdt"
)

func tempMirrorPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "mirror.db")
}

func TestInitOnEmptyStoreIsReadyImmediately(t *testing.T) {
	doc := crdt.NewDocument("r1")
	m := New(tempMirrorPath(t), doc, nil)
	defer m.Close()

	require.NoError(t, m.Init(context.Background()))
	select {
	case <-m.Ready():
	default:
		t.Fatal("expected Ready() to be closed after Init returns")
	}
	assert.Equal(t, 0, doc.Map(crdt.KindAgents).Len())
}

func TestPersistAndReplayRoundTrip(t *testing.T) {
	path := tempMirrorPath(t)

	doc1 := crdt.NewDocument("r1")
	m1 := New(path, doc1, nil)
	require.NoError(t, m1.Init(context.Background()))

	require.NoError(t, doc1.Map(crdt.KindAgents).Set("agent-1", map[string]any{"id": "agent-1", "name": "Ada"}))
	require.NoError(t, m1.Close())

	doc2 := crdt.NewDocument("r2")
	m2 := New(path, doc2, nil)
	defer m2.Close()
	require.NoError(t, m2.Init(context.Background()))

	v, ok := doc2.Map(crdt.KindAgents).Get("agent-1")
	require.True(t, ok)
	assert.Equal(t, "Ada", v["name"])
}

func TestReplayPreservesTombstone(t *testing.T) {
	path := tempMirrorPath(t)

	doc1 := crdt.NewDocument("r1")
	m1 := New(path, doc1, nil)
	require.NoError(t, m1.Init(context.Background()))

	require.NoError(t, doc1.Map(crdt.KindAgents).Set("agent-1", map[string]any{"id": "agent-1"}))
	doc1.Map(crdt.KindAgents).Delete("agent-1")
	require.NoError(t, m1.Close())

	doc2 := crdt.NewDocument("r2")
	m2 := New(path, doc2, nil)
	defer m2.Close()
	require.NoError(t, m2.Init(context.Background()))

	_, ok := doc2.Map(crdt.KindAgents).Get("agent-1")
	assert.False(t, ok)
}

func TestReplayWithCipherRoundTrip(t *testing.T) {
	path := tempMirrorPath(t)
	syncKey := make([]byte, 32)
	for i := range syncKey {
		syncKey[i] = byte(i)
	}
	cipher, err := crdt.NewMirrorCipher(syncKey)
	require.NoError(t, err)

	doc1 := crdt.NewDocument("r1")
	m1 := New(path, doc1, cipher)
	require.NoError(t, m1.Init(context.Background()))
	require.NoError(t, doc1.Map(crdt.KindTasks).Set("task-1", map[string]any{"id": "task-1", "status": "open"}))
	require.NoError(t, m1.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "task-1")

	doc2 := crdt.NewDocument("r2")
	m2 := New(path, doc2, cipher)
	defer m2.Close()
	require.NoError(t, m2.Init(context.Background()))

	v, ok := doc2.Map(crdt.KindTasks).Get("task-1")
	require.True(t, ok)
	assert.Equal(t, "open", v["status"])
}

func TestClearRemovesFile(t *testing.T) {
	path := tempMirrorPath(t)
	doc := crdt.NewDocument("r1")
	m := New(path, doc, nil)
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, doc.Map(crdt.KindAgents).Set("agent-1", map[string]any{"id": "agent-1"}))

	require.NoError(t, m.Clear())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFutureWritesArePersisted(t *testing.T) {
	path := tempMirrorPath(t)
	doc1 := crdt.NewDocument("r1")
	m1 := New(path, doc1, nil)
	require.NoError(t, m1.Init(context.Background()))

	require.NoError(t, doc1.Map(crdt.KindMemories).Set("mem-1", map[string]any{"id": "mem-1", "text": "hello"}))
	require.NoError(t, m1.Close())

	doc2 := crdt.NewDocument("r2")
	m2 := New(path, doc2, nil)
	defer m2.Close()
	require.NoError(t, m2.Init(context.Background()))

	v, ok := doc2.Map(crdt.KindMemories).Get("mem-1")
	require.True(t, ok)
	assert.Equal(t, "hello", v["text"])
}
