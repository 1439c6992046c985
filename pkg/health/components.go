// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package health

import (
	"context"
	"fmt"

	"github.com/sagesync/syncroom/pkg/credentialvault"
	"github.com/sagesync/syncroom/pkg/localstore"
	"github.com/sagesync/syncroom/pkg/mirror"
	"github.com/sagesync/syncroom/pkg/syncmanager"
)

// MirrorCheck reports the Durable Mirror unhealthy until replay has
// finished, and degraded (via a non-error but logged condition handled by
// the caller) is intentionally not modeled here: a mirror that degraded to
// memory-only persistence still answers reads correctly, so it is reported
// healthy with that fact folded into its own Persisting() accessor rather
// than the check result.
func MirrorCheck(m *mirror.Mirror) HealthCheck {
	return func(ctx context.Context) error {
		if m == nil {
			return fmt.Errorf("mirror not configured")
		}
		if !m.IsReady() {
			return fmt.Errorf("mirror: replay not yet complete")
		}
		return nil
	}
}

// SyncManagerCheck reports the Sync Manager unhealthy only when it is
// actively trying to connect but has not reached StatusConnected; a
// deliberately disabled manager (no room joined) is healthy, since sync is
// opt-in.
func SyncManagerCheck(m *syncmanager.Manager) HealthCheck {
	return func(ctx context.Context) error {
		if m == nil {
			return fmt.Errorf("sync manager not configured")
		}
		if m.Status() == syncmanager.StatusConnecting {
			return fmt.Errorf("sync manager: stuck connecting to relay")
		}
		return nil
	}
}

// LocalStoreCheck adapts a localstore.Store's Ping into a HealthCheck.
func LocalStoreCheck(store localstore.Store) HealthCheck {
	return DatabaseHealthCheck(func(ctx context.Context) error {
		if store == nil {
			return fmt.Errorf("local store not configured")
		}
		return store.Ping(ctx)
	})
}

// VaultCheck adapts a credentialvault.Vault's ability to list its own keys
// into a HealthCheck, the cheapest operation that proves the vault
// directory is still readable.
func VaultCheck(v credentialvault.Vault) HealthCheck {
	return KeyStoreHealthCheck(func() error {
		if v == nil {
			return fmt.Errorf("credential vault not configured")
		}
		v.ListKeys()
		return nil
	})
}
