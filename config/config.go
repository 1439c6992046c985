// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	// Try to parse as YAML first
	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Try JSON if YAML fails
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) > 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Relay != nil {
		if cfg.Relay.DialTimeout == 0 {
			cfg.Relay.DialTimeout = 10 * time.Second
		}
		if cfg.Relay.ReadTimeout == 0 {
			cfg.Relay.ReadTimeout = 30 * time.Second
		}
		if cfg.Relay.WriteTimeout == 0 {
			cfg.Relay.WriteTimeout = 10 * time.Second
		}
		if cfg.Relay.ListenAddr == "" {
			cfg.Relay.ListenAddr = ":7070"
		}
	}

	if cfg.Mirror != nil {
		if cfg.Mirror.Path == "" {
			cfg.Mirror.Path = ".syncroom/mirror.db"
		}
		if cfg.Mirror.WatchdogPeriod == 0 {
			cfg.Mirror.WatchdogPeriod = 10 * time.Second
		}
	}

	if cfg.Controller != nil {
		if cfg.Controller.StatePath == "" {
			cfg.Controller.StatePath = ".syncroom/controller.db"
		}
	}

	if cfg.LocalStore != nil {
		if cfg.LocalStore.Driver == "" {
			cfg.LocalStore.Driver = "memory"
		}
	}

	if cfg.Vault != nil {
		if cfg.Vault.Directory == "" {
			cfg.Vault.Directory = ".syncroom/vault"
		}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}

	if cfg.Metrics != nil {
		if cfg.Metrics.Addr == "" {
			cfg.Metrics.Addr = ":9090"
		}
		if cfg.Metrics.Path == "" {
			cfg.Metrics.Path = "/metrics"
		}
	}

	if cfg.Health != nil {
		if cfg.Health.Addr == "" {
			cfg.Health.Addr = ":8081"
		}
		if cfg.Health.Path == "" {
			cfg.Health.Path = "/healthz"
		}
	}
}
