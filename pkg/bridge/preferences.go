package bridge

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/sagesync/syncroom/internal/logger"
	"github.com/sagesync/syncroom/internal/metrics"
	"github.com/sagesync/syncroom/pkg/crdt"
	"github.com/sagesync/syncroom/pkg/crdt/wiretime"
)

// ErrUnknownPreference is returned by SetPreference for a key outside the
// fixed allow-list.
var ErrUnknownPreference = fmt.Errorf("bridge: preference key not in allow-list")

func buildPreferenceRecord(key string, value any) map[string]any {
	return map[string]any{
		"id":        key,
		"value":     value,
		"updatedAt": wiretime.Box(time.Now()),
	}
}

// initPreferences seeds the preferences map from local storage if it's
// empty, or overwrites local storage from the map otherwise, per the
// preferences bridge's init rule.
func (b *Bridge) initPreferences(ctx context.Context) {
	prefsMap := b.doc.Map(crdt.KindPreferences)

	if prefsMap.Len() == 0 {
		local, err := b.store.Preferences().List(ctx)
		if err != nil {
			logger.Warn("bridge: failed to list local preferences for seeding", logger.Error(err))
			return
		}
		if len(local) == 0 {
			return
		}
		_ = b.doc.Transact(func(txn *crdt.Txn) error {
			for key, value := range local {
				if _, allowed := b.preferenceKeys[key]; !allowed {
					continue
				}
				_ = prefsMap.Set(key, buildPreferenceRecord(key, value))
			}
			return nil
		})
		return
	}

	for key, entry := range prefsMap.Entries() {
		if _, allowed := b.preferenceKeys[key]; !allowed {
			continue
		}
		if err := b.store.Preferences().Set(ctx, key, entry["value"]); err != nil {
			logger.Warn("bridge: failed to overwrite local preference from shared document",
				logger.String("key", key), logger.Error(err))
		}
	}
}

// installPreferenceObserver writes remote-origin preference changes back to
// the local settings store, skipping keys outside the allow-list and writes
// that didn't actually change the value.
func (b *Bridge) installPreferenceObserver() {
	unsub := b.doc.Map(crdt.KindPreferences).Observe(func(cs crdt.ChangeSet) {
		for _, change := range cs {
			if change.ReplicaID == b.doc.ReplicaID() {
				continue
			}
			if _, allowed := b.preferenceKeys[change.Key]; !allowed {
				continue
			}
			b.applyRemotePreference(change)
		}
	})
	b.unsubs = append(b.unsubs, unsub)
}

func (b *Bridge) applyRemotePreference(change crdt.Change) {
	b.mu.Lock()
	b.isApplyingRemotePreference = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.isApplyingRemotePreference = false
		b.mu.Unlock()
	}()

	ctx := context.Background()
	newValue := change.Value["value"]
	current, err := b.store.Preferences().Get(ctx, change.Key)
	if err == nil && reflect.DeepEqual(current, newValue) {
		return
	}
	if err := b.store.Preferences().Set(ctx, change.Key, newValue); err != nil {
		logger.Warn("bridge: failed to apply remote preference change",
			logger.String("key", change.Key), logger.Error(err))
	}
}

// ClearPreferences tombstones every key currently in the preferences map.
// The sync controller calls this before joining an existing room (as
// opposed to sharing a new one) so a joining peer starts from the room's
// shared preferences instead of overwriting them with its own stale local
// settings on the next observer pass.
func (b *Bridge) ClearPreferences(ctx context.Context) error {
	prefsMap := b.doc.Map(crdt.KindPreferences)
	keys := prefsMap.Entries()
	if len(keys) == 0 {
		return nil
	}
	return b.doc.Transact(func(txn *crdt.Txn) error {
		for key := range keys {
			txn.Delete(crdt.KindPreferences, key)
		}
		return nil
	})
}

// GetPreferences returns the current allow-listed preference values held in
// the shared document.
func (b *Bridge) GetPreferences() map[string]any {
	out := make(map[string]any)
	for key, entry := range b.doc.Map(crdt.KindPreferences).Entries() {
		if _, allowed := b.preferenceKeys[key]; !allowed {
			continue
		}
		out[key] = entry["value"]
	}
	return out
}

// SetPreference is the local-write entrypoint for the preferences bridge:
// the app calls this when its settings store changes a key in the
// allow-list. It is skipped while a remote preference change is being
// applied, to break the echo.
func (b *Bridge) SetPreference(ctx context.Context, key string, value any) error {
	if _, allowed := b.preferenceKeys[key]; !allowed {
		return ErrUnknownPreference
	}

	b.mu.Lock()
	applying := b.isApplyingRemotePreference
	b.mu.Unlock()
	if applying {
		metrics.BridgeEchoSuppressed.WithLabelValues("remote_preference").Inc()
		return nil
	}

	if err := b.store.Preferences().Set(ctx, key, value); err != nil {
		return err
	}
	return b.doc.Map(crdt.KindPreferences).Set(key, buildPreferenceRecord(key, value))
}
