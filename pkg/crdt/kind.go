// Package crdt implements the Shared Document: a fixed registry of
// last-writer-wins named maps, synchronized across replicas by
// Lamport-clock tie-break rather than wall-clock timestamps.
package crdt

// Kind identifies one of the named maps carried by a Document.
type Kind string

const (
	KindAgents         Kind = "agents"
	KindConversations  Kind = "conversations"
	KindKnowledge      Kind = "knowledge"
	KindTasks          Kind = "tasks"
	KindBattles        Kind = "battles"
	KindMemories       Kind = "memories"
	KindCredentials    Kind = "credentials"
	KindPinnedMessages Kind = "pinned_messages"
	KindStudioEntries  Kind = "studio_entries"
	KindPreferences    Kind = "preferences"
)

// Kinds lists every registered map kind, in a stable order used for
// state-vector encoding and bucket creation in the durable mirror.
var Kinds = []Kind{
	KindAgents,
	KindConversations,
	KindKnowledge,
	KindTasks,
	KindBattles,
	KindMemories,
	KindCredentials,
	KindPinnedMessages,
	KindStudioEntries,
	KindPreferences,
}
