package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConvergence exercises Testable Property 1: two replicas that exchange
// updates in either order converge to the same document state.
func TestConvergence(t *testing.T) {
	a := NewDocument("replica-a")
	b := NewDocument("replica-b")

	require.NoError(t, a.Map(KindAgents).Set("agent-1", map[string]any{"id": "agent-1", "name": "Ada"}))
	require.NoError(t, b.Map(KindAgents).Set("agent-2", map[string]any{"id": "agent-2", "name": "Grace"}))

	updateFromA := a.EncodeStateAsUpdate(b.EncodeStateVector())
	updateFromB := b.EncodeStateAsUpdate(a.EncodeStateVector())

	_, err := b.Decode(updateFromA)
	require.NoError(t, err)
	_, err = a.Decode(updateFromB)
	require.NoError(t, err)

	assert.Equal(t, a.Map(KindAgents).Entries(), b.Map(KindAgents).Entries())
	assert.Len(t, a.Map(KindAgents).Entries(), 2)
}

// TestConvergenceOrderIndependent checks that applying the same two updates
// in opposite orders on two fresh replicas still converges.
func TestConvergenceOrderIndependent(t *testing.T) {
	src := NewDocument("replica-src")
	require.NoError(t, src.Map(KindTasks).Set("task-1", map[string]any{"id": "task-1", "status": "open"}))
	require.NoError(t, src.Map(KindTasks).Set("task-1", map[string]any{"id": "task-1", "status": "done"}))
	update := src.EncodeStateAsUpdate(nil)

	r1 := NewDocument("r1")
	r2 := NewDocument("r2")

	_, err := r1.Decode(update)
	require.NoError(t, err)
	_, err = r2.Decode(update)
	require.NoError(t, err)

	assert.Equal(t, r1.Map(KindTasks).Entries(), r2.Map(KindTasks).Entries())

	v, ok := r1.Map(KindTasks).Get("task-1")
	require.True(t, ok)
	assert.Equal(t, "done", v["status"])
}

// TestDecodeDropsStaleUpdate ensures an older write never overwrites a
// newer one, even if delivered after it.
func TestDecodeDropsStaleUpdate(t *testing.T) {
	doc := NewDocument("r1")
	require.NoError(t, doc.Map(KindTasks).Set("task-1", map[string]any{"id": "task-1", "status": "v1"}))
	staleUpdate := doc.EncodeStateAsUpdate(nil)

	require.NoError(t, doc.Map(KindTasks).Set("task-1", map[string]any{"id": "task-1", "status": "v2"}))

	changes, err := doc.Decode(staleUpdate)
	require.NoError(t, err)
	assert.Empty(t, changes, "stale update should be dropped, not re-applied")

	v, ok := doc.Map(KindTasks).Get("task-1")
	require.True(t, ok)
	assert.Equal(t, "v2", v["status"])
}

func TestSetRejectsMismatchedID(t *testing.T) {
	doc := NewDocument("r1")
	err := doc.Map(KindAgents).Set("agent-1", map[string]any{"id": "agent-2", "name": "Ada"})
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestDeleteTombstonesEntry(t *testing.T) {
	doc := NewDocument("r1")
	require.NoError(t, doc.Map(KindAgents).Set("agent-1", map[string]any{"id": "agent-1"}))
	doc.Map(KindAgents).Delete("agent-1")

	_, ok := doc.Map(KindAgents).Get("agent-1")
	assert.False(t, ok)
	assert.Equal(t, 0, doc.Map(KindAgents).Len())
}

func TestObserveReceivesBatchedChanges(t *testing.T) {
	doc := NewDocument("r1")
	var received ChangeSet
	unsubscribe := doc.Map(KindAgents).Observe(func(cs ChangeSet) {
		received = append(received, cs...)
	})
	defer unsubscribe()

	err := doc.Transact(func(txn *Txn) error {
		txn.set(KindAgents, "agent-1", map[string]any{"id": "agent-1"})
		txn.set(KindAgents, "agent-2", map[string]any{"id": "agent-2"})
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, received, 2)
}
