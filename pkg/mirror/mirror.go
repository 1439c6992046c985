// Package mirror persists a crdt.Document to local durable storage so its
// state survives process restarts and is available before any network
// activity, mirroring the browser app's IndexedDB-backed durable mirror with
// an embedded bbolt file.
package mirror

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sagesync/syncroom/internal/logger"
	"github.com/sagesync/syncroom/pkg/crdt"
	"github.com/sagesync/syncroom/pkg/crdt/canonjson"
)

// watchdogTimeout bounds how long Init waits for replay before declaring
// itself ready with whatever was loaded so far.
const watchdogTimeout = 10 * time.Second

// Mirror is the Durable Mirror: it loads a crdt.Document's state from a
// bbolt file at startup and keeps it updated as the document changes.
type Mirror struct {
	path   string
	cipher *crdt.MirrorCipher

	mu       sync.Mutex
	db       *bolt.DB
	doc      *crdt.Document
	ready    chan struct{}
	readyOne sync.Once
	unsubs   []func()
}

// New creates a Mirror backed by the bbolt file at path, persisting the
// state of doc. If cipher is non-nil, record bytes are sealed before being
// written to disk and opened after being read.
func New(path string, doc *crdt.Document, cipher *crdt.MirrorCipher) *Mirror {
	return &Mirror{
		path:   path,
		doc:    doc,
		cipher: cipher,
		ready:  make(chan struct{}),
	}
}

// Init opens (creating if absent) the bbolt file, replays all persisted
// records into the document with Map.LoadFromStore (no observer
// notifications), fast-forwards the document's Lamport clock, then subscribes to future
// document writes so they get persisted back. If the file can't be opened,
// Init logs a warning and proceeds with persistence disabled rather than
// failing the caller.
func (m *Mirror) Init(ctx context.Context) error {
	timer := time.AfterFunc(watchdogTimeout, func() {
		logger.Warn("mirror: replay watchdog fired, declaring ready with partial state",
			logger.String("path", m.path))
		m.markReady()
	})
	defer timer.Stop()

	db, err := bolt.Open(m.path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		logger.Warn("mirror: failed to open durable store, proceeding without persistence",
			logger.String("path", m.path), logger.Error(err))
		m.markReady()
		return nil
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, kind := range crdt.Kinds {
			if _, err := tx.CreateBucketIfNotExists([]byte(kind)); err != nil {
				return fmt.Errorf("mirror: create bucket %q: %w", kind, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		logger.Warn("mirror: failed to initialize buckets, proceeding without persistence",
			logger.String("path", m.path), logger.Error(err))
		m.markReady()
		return nil
	}

	m.mu.Lock()
	m.db = db
	m.mu.Unlock()

	if err := m.replay(); err != nil {
		logger.Warn("mirror: replay failed, continuing with whatever loaded",
			logger.String("path", m.path), logger.Error(err))
	}

	m.subscribe()
	m.markReady()
	return nil
}

func (m *Mirror) markReady() {
	m.readyOne.Do(func() { close(m.ready) })
}

// Ready returns a channel that is closed once replay has finished (or the
// watchdog has fired, or persistence failed to open).
func (m *Mirror) Ready() <-chan struct{} {
	return m.ready
}

// IsReady reports whether Ready's channel has already closed, for callers
// that want a non-blocking check rather than a select.
func (m *Mirror) IsReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Persisting reports whether the bbolt file is open; it is false when Init
// degraded to memory-only operation after a failed open.
func (m *Mirror) Persisting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db != nil
}

func (m *Mirror) replay() error {
	m.mu.Lock()
	db := m.db
	m.mu.Unlock()
	if db == nil {
		return nil
	}

	var maxCounter uint64
	err := db.View(func(tx *bolt.Tx) error {
		for _, kind := range crdt.Kinds {
			b := tx.Bucket([]byte(kind))
			if b == nil {
				continue
			}
			if err := b.ForEach(func(k, v []byte) error {
				rec, err := m.decodeRecord(v)
				if err != nil {
					logger.Warn("mirror: dropping unreadable record",
						logger.String("kind", string(kind)), logger.Error(err))
					return nil
				}
				m.doc.Map(kind).LoadFromStore(string(k), rec.Counter, rec.ReplicaID, rec.Deleted, rec.Value)
				if rec.Counter > maxCounter {
					maxCounter = rec.Counter
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.doc.FastForwardClock(maxCounter)
	return nil
}

func (m *Mirror) subscribe() {
	for _, kind := range crdt.Kinds {
		kind := kind
		unsub := m.doc.Map(kind).Observe(func(cs crdt.ChangeSet) {
			m.persist(kind, cs)
		})
		m.unsubs = append(m.unsubs, unsub)
	}
}

func (m *Mirror) persist(kind crdt.Kind, cs crdt.ChangeSet) {
	m.mu.Lock()
	db := m.db
	m.mu.Unlock()
	if db == nil {
		return
	}

	err := db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("mirror: missing bucket %q", kind)
		}
		for _, c := range cs {
			data, err := m.encodeRecord(storedRecord{
				Counter:   c.Counter,
				ReplicaID: c.ReplicaID,
				Deleted:   c.Deleted,
				Value:     c.Value,
			})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(c.Key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn("mirror: failed to persist change, durable state may lag memory",
			logger.String("kind", string(kind)), logger.Error(err))
	}
}

// storedRecord is the on-disk shape of one bbolt value: the record payload
// plus the Lamport position it was written at, so a restart can restore both
// without treating replay as a remote merge.
type storedRecord struct {
	Counter   uint64         `json:"counter"`
	ReplicaID string         `json:"replica"`
	Deleted   bool           `json:"deleted"`
	Value     map[string]any `json:"value,omitempty"`
}

func (m *Mirror) encodeRecord(rec storedRecord) ([]byte, error) {
	data, err := canonjson.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("mirror: encode record: %w", err)
	}
	if m.cipher == nil {
		return data, nil
	}
	return m.cipher.Seal(data)
}

func (m *Mirror) decodeRecord(data []byte) (storedRecord, error) {
	if m.cipher != nil {
		opened, err := m.cipher.Open(data)
		if err != nil {
			return storedRecord{}, fmt.Errorf("mirror: decrypt record: %w", err)
		}
		data = opened
	}
	var rec storedRecord
	if err := canonjson.Unmarshal(data, &rec); err != nil {
		return storedRecord{}, fmt.Errorf("mirror: decode record: %w", err)
	}
	return rec, nil
}

// Close unsubscribes from the document and closes the underlying bbolt file.
func (m *Mirror) Close() error {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// Clear discards the mirror: it closes the bbolt file (if open) and removes
// it from disk, leaving the in-memory document untouched.
func (m *Mirror) Clear() error {
	if err := m.Close(); err != nil {
		return fmt.Errorf("mirror: close before clear: %w", err)
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("mirror: remove file: %w", err)
	}
	return nil
}
