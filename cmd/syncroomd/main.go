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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sagesync/syncroom/config"
	"github.com/sagesync/syncroom/internal/logger"
	"github.com/sagesync/syncroom/internal/metrics"
	"github.com/sagesync/syncroom/pkg/credentialvault"
	"github.com/sagesync/syncroom/pkg/health"
	"github.com/sagesync/syncroom/pkg/localstore"
	"github.com/sagesync/syncroom/pkg/localstore/memstore"
	"github.com/sagesync/syncroom/pkg/localstore/postgres"
	"github.com/sagesync/syncroom/pkg/syncmanager"
	"github.com/sagesync/syncroom/pkg/version"
	"github.com/sagesync/syncroom/pkg/workerengine"
)

var (
	configDir string
	envFile   string
	replicaID string
)

var rootCmd = &cobra.Command{
	Use:   "syncroomd",
	Short: "syncroomd runs one replica of the password-authenticated sync engine",
	Long: `syncroomd hosts the Shared Document, Durable Mirror, Sync Bridge,
Sync Manager, and Sync Controller stack for one replica, exposing it to local
callers through the Worker Facade and to peers through an encrypted relay
connection.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the sync engine daemon until terminated",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print syncroomd's version",
	Run: func(cmd *cobra.Command, args []string) {
		version.PrintVersion()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory containing default.yaml/config.yaml (defaults to ./config)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading configuration")
	rootCmd.PersistentFlags().StringVar(&replicaID, "replica-id", "", "stable replica identifier for Lamport tie-breaking (defaults to hostname)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "syncroomd: no %s loaded (%v), continuing with process environment\n", envFile, err)
	}

	opts := config.DefaultLoaderOptions()
	if configDir != "" {
		opts.ConfigDir = configDir
	}
	cfg, err := config.Load(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(os.Stdout, parseLevel(cfg.Logging.Level))
	log.Info("syncroomd starting", logger.String("environment", cfg.Environment))

	id := replicaID
	if id == "" {
		if host, err := os.Hostname(); err == nil {
			id = host
		} else {
			id = "syncroomd"
		}
	}

	store, err := openLocalStore(cmd.Context(), cfg.LocalStore)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}

	vault, err := credentialvault.NewFileVault(cfg.Vault.Directory)
	if err != nil {
		return fmt.Errorf("open credential vault: %w", err)
	}

	preferenceKeys := []string{"theme", "locale", "notifications_enabled"}

	worker := workerengine.New(
		id,
		cfg.Mirror.Path,
		cfg.Controller.StatePath,
		store,
		preferenceKeys,
		vault,
		syncmanager.WithRelayURL(cfg.Relay.URL),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := worker.Init(ctx); err != nil {
		return fmt.Errorf("initialize sync engine: %w", err)
	}
	log.Info("sync engine initialized")

	checker := health.NewHealthChecker(5 * time.Second)
	checker.SetLogger(log)
	checker.RegisterCheck("local_store", health.LocalStoreCheck(store))
	checker.RegisterCheck("credential_vault", health.VaultCheck(vault))
	checker.RegisterCheck("system_resources", health.SystemResourceCheck())

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("metrics server listening", logger.String("addr", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", logger.Error(err))
			}
		}()
	}

	var healthServer *health.Server
	if cfg.Health.Enabled {
		healthServer = health.NewServer(checker, log, cfg.Health.Addr, cfg.Health.Path)
		if err := healthServer.Start(); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down syncroomd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if healthServer != nil {
		_ = healthServer.Stop(shutdownCtx)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := worker.Close(); err != nil {
		log.Warn("error closing worker", logger.Error(err))
	}
	if err := store.Close(); err != nil {
		log.Warn("error closing local store", logger.Error(err))
	}
	return nil
}

func parseLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

func openLocalStore(ctx context.Context, cfg *config.LocalStoreConfig) (localstore.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case "memory", "":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown local store driver %q", cfg.Driver)
	}
}
