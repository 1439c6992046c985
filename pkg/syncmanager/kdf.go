package syncmanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/errgroup"

	"github.com/sagesync/syncroom/internal/metrics"
)

// ErrEmptyPassword is returned by Enable and DeriveRoomCredentials when
// called with an empty password; sync requires a shared secret.
var ErrEmptyPassword = errors.New("syncmanager: password must not be empty")

// ErrEmptyRoomID is returned by Enable and DeriveRoomCredentials when called
// with an empty roomID; spec.md §7 lists a missing roomId alongside an
// empty password as a configuration error that must fail fast rather than
// silently derive a degenerate room.
var ErrEmptyRoomID = errors.New("syncmanager: roomID must not be empty")

// kdfIterations and productTag are pinned, not configurable: every peer in
// a room must derive the identical room name and key, so this value can
// never change without coordinating every deployed client at once.
const (
	kdfIterations = 210000
	productTag    = "syncroom"
)

// DeriveRoomCredentials derives the relay-visible room name and the
// session's AES-256-GCM key from (password, roomID). The plaintext roomID
// is never transmitted; only the returned roomName is. Both derivations
// run concurrently since they're independent PBKDF2 passes over the same
// inputs with different salts.
func DeriveRoomCredentials(ctx context.Context, password, roomID string) (roomName string, key []byte, err error) {
	if password == "" {
		return "", nil, ErrEmptyPassword
	}
	if roomID == "" {
		return "", nil, ErrEmptyRoomID
	}

	timer := prometheus.NewTimer(metrics.SyncKDFDuration)
	defer timer.ObserveDuration()

	roomSalt := []byte(productTag + ":" + strconv.Itoa(len(roomID)) + ":" + roomID)
	keySalt := append(append([]byte{}, roomSalt...), ":key"...)

	var roomBytes, keyBytes []byte
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		roomBytes = pbkdf2.Key([]byte(password), roomSalt, kdfIterations, 32, sha256.New)
		return nil
	})
	g.Go(func() error {
		keyBytes = pbkdf2.Key([]byte(password), keySalt, kdfIterations, 32, sha256.New)
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", nil, fmt.Errorf("syncmanager: derive room credentials: %w", err)
	}

	return hex.EncodeToString(roomBytes), keyBytes, nil
}
