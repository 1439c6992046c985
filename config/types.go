// Package config provides configuration management for syncroom.
package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Environment string            `yaml:"environment" json:"environment"`
	Relay       *RelayConfig      `yaml:"relay" json:"relay"`
	Mirror      *MirrorConfig     `yaml:"mirror" json:"mirror"`
	Controller  *ControllerConfig `yaml:"controller" json:"controller"`
	LocalStore  *LocalStoreConfig `yaml:"local_store" json:"local_store"`
	Vault       *VaultConfig      `yaml:"vault" json:"vault"`
	Logging     *LoggingConfig    `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig    `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig     `yaml:"health" json:"health"`
}

// RelayConfig configures the connection to the sync relay
type RelayConfig struct {
	URL          string        `yaml:"url" json:"url"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ListenAddr   string        `yaml:"listen_addr" json:"listen_addr"` // used by syncroom-relay only
}

// MirrorConfig configures the durable mirror's embedded store
type MirrorConfig struct {
	Path           string        `yaml:"path" json:"path"`
	WatchdogPeriod time.Duration `yaml:"watchdog_period" json:"watchdog_period"`
}

// ControllerConfig configures the sync controller's persisted state
type ControllerConfig struct {
	StatePath string `yaml:"state_path" json:"state_path"`
}

// LocalStoreConfig configures the legacy record-oriented local store
type LocalStoreConfig struct {
	Driver      string `yaml:"driver" json:"driver"` // postgres, memory
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`
}

// VaultConfig configures the credential vault
type VaultConfig struct {
	Directory string `yaml:"directory" json:"directory"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}
