// Package synccontroller owns the process-wide enable/disable lifecycle for
// sync: it persists {enabled, roomID, mode, needsPasswordReentry} across
// restarts, drives the Sync Manager and credential vault through state
// transitions, and exposes the lifecycle state an embedder surfaces to a
// user (State, RoomID, NeedsPasswordReentry, OnStateChange). Connection
// status, peer count and activity are read from the Sync Manager, not here.
package synccontroller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	"github.com/sagesync/syncroom/internal/logger"
	"github.com/sagesync/syncroom/internal/metrics"
	"github.com/sagesync/syncroom/pkg/credentialvault"
	"github.com/sagesync/syncroom/pkg/crdt/canonjson"
	"github.com/sagesync/syncroom/pkg/syncmanager"
)

// Mode distinguishes the peer that minted a room from one joining it.
type Mode string

const (
	ModeShare Mode = "share"
	ModeJoin  Mode = "join"
)

// State is the controller's process-wide lifecycle state.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateIdle            State = "idle"
	StatePasswordPrompt  State = "password_prompt"
	StateAwaitingReentry State = "awaiting_reentry"
	StateConnecting      State = "connecting"
	StateConnected       State = "connected"
)

var (
	bucketName = []byte("synccontroller")
	stateKey   = []byte("state")
)

// ErrNotInitialized is returned by EnableSync/DisableSync when Initialize
// has not yet completed.
var ErrNotInitialized = errors.New("synccontroller: not initialized")

// persistedState is the small on-disk record spec.md calls the "controller
// store" — deliberately separate from the durable mirror's CRDT bucket file.
type persistedState struct {
	Enabled              bool   `json:"enabled"`
	RoomID               string `json:"roomId"`
	Mode                 Mode   `json:"mode"`
	NeedsPasswordReentry bool   `json:"needsPasswordReentry"`
}

// forceLoader is the subset of pkg/bridge.Bridge the controller drives on a
// share-mode enable, kept as an interface so this package does not import
// pkg/bridge directly.
type forceLoader interface {
	ForceLoadToSD(ctx context.Context) error
}

// preferenceClearer is the subset of pkg/bridge.Bridge the controller drives
// on a join-mode enable, so a joining peer starts from the room's shared
// preferences rather than its own stale local ones.
type preferenceClearer interface {
	ClearPreferences(ctx context.Context) error
}

// syncEnabler is the subset of pkg/syncmanager.Manager the controller
// drives, kept as an interface so tests can exercise the state machine
// without dialing a real relay.
type syncEnabler interface {
	Enable(ctx context.Context, roomID, password string) error
	Disable() error
}

// Controller is the Sync Controller: it coordinates pkg/syncmanager and
// pkg/credentialvault behind a small persisted state machine.
type Controller struct {
	dbPath string
	vault  credentialvault.Vault
	sm     syncEnabler
	bridge interface {
		forceLoader
		preferenceClearer
	}

	mu    sync.Mutex
	db    *bolt.DB
	state State
	ps    persistedState

	initGroup singleflight.Group
	initDone  bool

	subMu          sync.Mutex
	stateCallbacks []func(State)
}

// New creates a Controller persisting its state at dbPath, coordinating sm
// and bridge, and delegating credential re-encryption to vault.
func New(dbPath string, sm syncEnabler, bridge interface {
	forceLoader
	preferenceClearer
}, vault credentialvault.Vault) *Controller {
	return &Controller{
		dbPath: dbPath,
		sm:     sm,
		bridge: bridge,
		vault:  vault,
		state:  StateUninitialized,
	}
}

// Initialize loads persisted state and transitions to Idle, or to
// AwaitingReentry if a prior session was left enabled. It is idempotent:
// concurrent callers share one in-flight call via singleflight.
func (c *Controller) Initialize(ctx context.Context) error {
	_, err, _ := c.initGroup.Do("initialize", func() (any, error) {
		return nil, c.initialize(ctx)
	})
	if err != nil {
		metrics.ControllerInitializations.WithLabelValues("failure").Inc()
		return err
	}
	metrics.ControllerInitializations.WithLabelValues("success").Inc()
	return nil
}

func (c *Controller) initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initDone {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	db, err := bolt.Open(c.dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("synccontroller: open state file: %w", err)
	}

	var ps persistedState
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return fmt.Errorf("synccontroller: create bucket: %w", err)
		}
		raw := b.Get(stateKey)
		if raw == nil {
			return nil
		}
		return canonjson.Unmarshal(raw, &ps)
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("synccontroller: load persisted state: %w", err)
	}

	c.mu.Lock()
	c.db = db
	c.ps = ps
	c.initDone = true
	if ps.Enabled && ps.RoomID != "" {
		ps.NeedsPasswordReentry = true
		c.ps = ps
		c.setStateLocked(StateAwaitingReentry)
	} else {
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()

	return c.persist()
}

// EnableSync joins or shares roomID under password, replacing any active
// session. It calls Initialize first if that has not yet happened.
//
// Configuration errors (empty password, missing roomID) are checked first,
// before Initialize or any side effect: a rejected call must never clear
// preferences, force-load local state, re-encrypt credentials, or move the
// state machine out of its current state.
func (c *Controller) EnableSync(ctx context.Context, roomID, password string, mode Mode) error {
	if password == "" {
		return syncmanager.ErrEmptyPassword
	}
	if roomID == "" {
		return syncmanager.ErrEmptyRoomID
	}

	if err := c.Initialize(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if mode == ModeJoin {
		if c.bridge != nil {
			if err := c.bridge.ClearPreferences(ctx); err != nil {
				logger.Warn("synccontroller: failed to clear preferences before join", logger.Error(err))
			}
		}
	} else if c.bridge != nil {
		if err := c.bridge.ForceLoadToSD(ctx); err != nil {
			logger.Warn("synccontroller: failed to force-load local state before share", logger.Error(err))
		}
	}

	if err := c.vault.EnableSyncMode(password, roomID); err != nil {
		logger.Warn("synccontroller: credential re-encryption failed, continuing session", logger.Error(err))
		metrics.ControllerCredentialReencrypts.WithLabelValues("failure").Inc()
	} else {
		metrics.ControllerCredentialReencrypts.WithLabelValues("success").Inc()
	}

	if err := c.sm.Enable(ctx, roomID, password); err != nil {
		c.mu.Lock()
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		return fmt.Errorf("synccontroller: enable sync manager: %w", err)
	}

	c.mu.Lock()
	c.ps = persistedState{Enabled: true, RoomID: roomID, Mode: mode, NeedsPasswordReentry: false}
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	return c.persist()
}

// DisableSync tears down the active session, re-encrypts credentials under
// the device-local key, and returns to Idle. It is synchronous from the
// caller's perspective even though the underlying socket teardown is async.
func (c *Controller) DisableSync(ctx context.Context) error {
	_ = c.sm.Disable()

	if err := c.vault.DisableSyncMode(); err != nil {
		logger.Warn("synccontroller: failed to re-encrypt credentials under device key", logger.Error(err))
		metrics.ControllerCredentialReencrypts.WithLabelValues("failure").Inc()
	} else {
		metrics.ControllerCredentialReencrypts.WithLabelValues("success").Inc()
	}

	c.mu.Lock()
	c.ps = persistedState{}
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	return c.persist()
}

// OnManagerStatusChange should be wired to sm.OnStatusChange so the
// controller's Connecting/Connected states track the transport's.
func (c *Controller) OnManagerStatusChange(status syncmanager.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch status {
	case syncmanager.StatusConnected:
		c.setStateLocked(StateConnected)
	case syncmanager.StatusConnecting:
		if c.state == StateConnected || c.state == StateConnecting {
			c.setStateLocked(StateConnecting)
		}
	case syncmanager.StatusDisabled:
		// DisableSync already drives the idle transition explicitly; an
		// unsolicited disconnect from the manager is handled by its own
		// reconnect/backoff, not by the controller.
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NeedsPasswordReentry reports whether a prior session was left enabled and
// is waiting for the user to re-supply its password before resuming.
func (c *Controller) NeedsPasswordReentry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ps.NeedsPasswordReentry
}

// RoomID returns the persisted room identifier, if any.
func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ps.RoomID
}

// OnStateChange registers fn to be called whenever State() changes.
func (c *Controller) OnStateChange(fn func(State)) {
	c.subMu.Lock()
	c.stateCallbacks = append(c.stateCallbacks, fn)
	c.subMu.Unlock()
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	for _, st := range []State{StateIdle, StateAwaitingReentry, StateConnecting, StateConnected} {
		v := 0.0
		if st == s {
			v = 1.0
		}
		metrics.ControllerState.WithLabelValues(string(st)).Set(v)
	}

	c.subMu.Lock()
	cbs := append([]func(State){}, c.stateCallbacks...)
	c.subMu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (c *Controller) persist() error {
	c.mu.Lock()
	db := c.db
	ps := c.ps
	c.mu.Unlock()
	if db == nil {
		return nil
	}

	data, err := canonjson.Marshal(ps)
	if err != nil {
		return fmt.Errorf("synccontroller: encode state: %w", err)
	}
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return fmt.Errorf("synccontroller: missing state bucket")
		}
		return b.Put(stateKey, data)
	})
}

// Shutdown tears down any active session and closes the state file. Library
// embedders should defer this; CLI entrypoints should run it on
// signal.NotifyContext cancellation — there is no browser pagehide/
// beforeunload analogue in a long-running process, so callers must invoke
// this explicitly rather than rely on an automatic hook.
func (c *Controller) Shutdown(ctx context.Context) error {
	_ = c.DisableSync(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
