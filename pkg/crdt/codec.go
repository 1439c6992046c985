package crdt

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sagesync/syncroom/internal/metrics"
	"github.com/sagesync/syncroom/pkg/crdt/canonjson"
)

type svEntry struct {
	Counter   uint64 `json:"counter"`
	ReplicaID string `json:"replica"`
}

// EncodeStateVector summarizes, per kind and key, the Lamport position of
// every entry this document holds (including tombstones). A peer uses this
// to ask for exactly the updates it's missing.
func (d *Document) EncodeStateVector() []byte {
	timer := prometheus.NewTimer(metrics.CRDTEncodeDuration.WithLabelValues("state_vector"))
	defer timer.ObserveDuration()

	out := make(map[string]any, len(d.maps))
	for kind, m := range d.maps {
		m.mu.RLock()
		kindOut := make(map[string]any, len(m.entries))
		for key, e := range m.entries {
			kindOut[key] = map[string]any{
				"counter": e.counter,
				"replica": e.replicaID,
			}
		}
		m.mu.RUnlock()
		out[string(kind)] = kindOut
	}

	data, err := canonjson.Marshal(out)
	if err != nil {
		// canonjson only fails on values json can't marshal; our state
		// vector is built exclusively from uint64/string.
		panic(fmt.Sprintf("crdt: unexpected state vector encode error: %v", err))
	}
	return data
}

func decodeStateVector(data []byte) (map[Kind]map[string]svEntry, error) {
	var raw map[string]map[string]svEntry
	if err := canonjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("crdt: decode state vector: %w", err)
	}
	out := make(map[Kind]map[string]svEntry, len(raw))
	for k, v := range raw {
		out[Kind(k)] = v
	}
	return out, nil
}

type updateEntry struct {
	Counter   uint64          `json:"counter"`
	ReplicaID string          `json:"replica"`
	Deleted   bool            `json:"deleted"`
	Value     map[string]any  `json:"value,omitempty"`
}

// EncodeStateAsUpdate returns the subset of this document's state that the
// peer identified by remoteSV does not yet have, according to the Lamport
// merge law. Passing a nil/empty remoteSV returns the full document.
func (d *Document) EncodeStateAsUpdate(remoteSV []byte) []byte {
	timer := prometheus.NewTimer(metrics.CRDTEncodeDuration.WithLabelValues("encode_update"))
	defer timer.ObserveDuration()

	var remote map[Kind]map[string]svEntry
	if len(remoteSV) > 0 {
		var err error
		remote, err = decodeStateVector(remoteSV)
		if err != nil {
			remote = nil
		}
	}

	out := make(map[string]any, len(d.maps))
	for kind, m := range d.maps {
		m.mu.RLock()
		kindOut := make(map[string]any, len(m.entries))
		for key, e := range m.entries {
			if !entryIsNewerThanRemote(e, kind, key, remote) {
				continue
			}
			kindOut[key] = map[string]any{
				"counter": e.counter,
				"replica": e.replicaID,
				"deleted": e.deleted,
				"value":   e.value,
			}
		}
		m.mu.RUnlock()
		if len(kindOut) > 0 {
			out[string(kind)] = kindOut
		}
	}

	data, err := canonjson.Marshal(out)
	if err != nil {
		panic(fmt.Sprintf("crdt: unexpected update encode error: %v", err))
	}
	metrics.CRDTDocumentSize.Observe(float64(len(data)))
	return data
}

func entryIsNewerThanRemote(e entry, kind Kind, key string, remote map[Kind]map[string]svEntry) bool {
	if remote == nil {
		return true
	}
	remoteKind, ok := remote[kind]
	if !ok {
		return true
	}
	remoteEntry, ok := remoteKind[key]
	if !ok {
		return true
	}
	if remoteEntry.Counter == e.counter && remoteEntry.ReplicaID == e.replicaID {
		return false
	}
	if e.counter != remoteEntry.Counter {
		return e.counter > remoteEntry.Counter
	}
	return e.replicaID > remoteEntry.ReplicaID
}

// EncodeChangeSet encodes cs in the same wire shape EncodeStateAsUpdate
// produces, so a transport that already has a ChangeSet from an Observe
// callback (rather than a full document diff) can still broadcast it in a
// form any peer's Decode understands.
func EncodeChangeSet(cs ChangeSet) []byte {
	out := make(map[string]any, len(cs))
	for _, c := range cs {
		kindOut, ok := out[string(c.Kind)].(map[string]any)
		if !ok {
			kindOut = make(map[string]any)
			out[string(c.Kind)] = kindOut
		}
		kindOut[c.Key] = map[string]any{
			"counter": c.Counter,
			"replica": c.ReplicaID,
			"deleted": c.Deleted,
			"value":   c.Value,
		}
	}

	data, err := canonjson.Marshal(out)
	if err != nil {
		panic(fmt.Sprintf("crdt: unexpected change set encode error: %v", err))
	}
	return data
}

// Decode applies an update produced by EncodeStateAsUpdate, merging each
// entry via the document's Lamport merge law, and advances the local Lamport
// clock to at least every received counter so later local writes sort after
// them. It returns the set of changes that actually took effect (entries
// that lost the tie-break are omitted).
func (d *Document) Decode(update []byte) (ChangeSet, error) {
	timer := prometheus.NewTimer(metrics.CRDTEncodeDuration.WithLabelValues("decode_update"))
	defer timer.ObserveDuration()

	var raw map[string]map[string]updateEntry
	if err := canonjson.Unmarshal(update, &raw); err != nil {
		return nil, fmt.Errorf("crdt: decode update: %w", err)
	}

	perMap := make(map[Kind]ChangeSet)
	var all ChangeSet

	for kindStr, kindEntries := range raw {
		kind := Kind(kindStr)
		m, ok := d.maps[kind]
		if !ok {
			continue // unknown kind, ignore rather than fail the whole update
		}
		for key, ue := range kindEntries {
			d.FastForwardClock(ue.Counter)
			change, applied := m.applyRemote(key, entry{
				value:     ue.Value,
				deleted:   ue.Deleted,
				counter:   ue.Counter,
				replicaID: ue.ReplicaID,
			})
			if !applied {
				continue
			}
			perMap[kind] = append(perMap[kind], change)
			all = append(all, change)
			metrics.CRDTUpdatesApplied.WithLabelValues("remote").Inc()
		}
	}

	for kind, cs := range perMap {
		d.maps[kind].notify(cs)
	}

	return all, nil
}
