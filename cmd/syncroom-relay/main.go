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
	"github.com/sagesync/syncroom/pkg/health"
	"github.com/sagesync/syncroom/pkg/relay"
	"github.com/sagesync/syncroom/pkg/version"
)

var (
	envFile    string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "syncroom-relay",
	Short: "syncroom-relay forwards opaque encrypted frames between peers sharing a room",
	Long: `syncroom-relay is the untrusted rendezvous point peers dial once they
derive a shared room name from a password. It never sees a password, a room
ID, or plaintext: it only relays already-encrypted frames between sockets
that connected to the same room path.`,
	RunE: runRelay,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print syncroom-relay's version",
	Run: func(cmd *cobra.Command, args []string) {
		version.PrintVersion()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading configuration")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", "", "override the relay listen address from config")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "syncroom-relay: no %s loaded (%v), continuing with process environment\n", envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	addr := cfg.Relay.ListenAddr
	if listenAddr != "" {
		addr = listenAddr
	}

	log := logger.NewDefaultLogger()
	log.Info("syncroom-relay starting", logger.String("listen_addr", addr))

	rl := relay.New(log)

	server := &http.Server{
		Addr:              addr,
		Handler:           rl.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("relay server error", logger.Error(err))
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Info("metrics server listening", logger.String("addr", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", logger.Error(err))
			}
		}()
	}

	var healthServer *health.Server
	if cfg.Health.Enabled {
		checker := health.NewHealthChecker(5 * time.Second)
		checker.SetLogger(log)
		checker.RegisterCheck("system_resources", health.SystemResourceCheck())
		checker.RegisterCheck("relay_rooms", func(ctx context.Context) error {
			_ = rl.RoomCount()
			return nil
		})
		healthServer = health.NewServer(checker, log, cfg.Health.Addr, cfg.Health.Path)
		if err := healthServer.Start(); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down syncroom-relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if healthServer != nil {
		_ = healthServer.Stop(shutdownCtx)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return server.Shutdown(shutdownCtx)
}
