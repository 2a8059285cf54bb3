// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/aperioesca/aperioesca/pkg/logging"
	"github.com/aperioesca/aperioesca/services/analysis"
	"github.com/aperioesca/aperioesca/services/analysis/store"
	"github.com/aperioesca/aperioesca/services/meals"
)

// =============================================================================
// Composition Root
// =============================================================================

// app owns the wired analysis pipeline for one CLI invocation.
//
// Everything is constructed here with explicit dependencies and torn down
// by Close. Commands receive an *app and never construct collaborators
// themselves.
type app struct {
	logs     *logging.Logger
	db       *store.Badger
	quota    *analysis.QuotaManager
	circuit  *analysis.CircuitBreaker
	orch     *analysis.Orchestrator
	meals    *meals.Store
	deviceID string
}

// dataDir resolves the on-device state directory.
func dataDir() string {
	if dir := os.Getenv("APERIOESCA_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aperioesca"
	}
	return filepath.Join(home, ".aperioesca")
}

// newApp wires the full pipeline.
//
// The transport is chosen by environment: APERIOESCA_RELAY_URL selects the
// relay path (the production default for app builds), otherwise
// GEMINI_API_KEY selects the direct provider path used in development.
func newApp() (*app, error) {
	dir := dataDir()
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	logs := logging.New(logging.Config{
		Level:   logLevel(),
		LogDir:  filepath.Join(dir, "logs"),
		Service: "cli",
	})
	logger := logs.Slog()

	db, err := store.Open(store.DefaultConfig(filepath.Join(dir, "db")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	deviceID, err := loadDeviceID(dir)
	if err != nil {
		db.Close()
		logs.Close()
		return nil, err
	}

	transport, err := buildTransport(deviceID, logger)
	if err != nil {
		db.Close()
		logs.Close()
		return nil, err
	}

	quota := analysis.NewQuotaManager(db, analysis.QuotaConfig{Logger: logger})
	circuit := analysis.NewCircuitBreaker(db, analysis.CircuitConfig{Logger: logger})
	orch := analysis.NewOrchestrator(quota, circuit, transport,
		analysis.DefaultRetryConfig(), logger)

	mealStore, err := meals.NewStore(db.DB(), meals.StoreConfig{
		PhotosDir: filepath.Join(dir, "photos"),
		Logger:    logger,
	})
	if err != nil {
		db.Close()
		logs.Close()
		return nil, err
	}

	return &app{
		logs:     logs,
		db:       db,
		quota:    quota,
		circuit:  circuit,
		orch:     orch,
		meals:    mealStore,
		deviceID: deviceID,
	}, nil
}

// Close releases the database and log file.
func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logs.Error("close database", "error", err)
	}
	a.logs.Close()
}

// buildTransport picks relay or direct provider access from environment.
//
// App builds ship with a relay URL and app token baked in; the direct
// path exists for development against a personal API key.
func buildTransport(deviceID string, logger *slog.Logger) (analysis.Transport, error) {
	if relayURL := os.Getenv("APERIOESCA_RELAY_URL"); relayURL != "" {
		logger.Info("using relay transport", "relay", relayURL)
		return analysis.NewRelayClient(analysis.RelayConfig{
			BaseURL:   relayURL,
			AuthToken: os.Getenv("APERIOESCA_APP_TOKEN"),
			DeviceID:  deviceID,
		})
	}
	logger.Info("using direct provider transport")
	return analysis.NewProviderClient(analysis.ProviderConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Logger: logger,
	})
}

// loadDeviceID returns the stable per-install device id, creating it on
// first run. The id is an opaque UUID with no link to user identity.
func loadDeviceID(dir string) (string, error) {
	path := filepath.Join(dir, "device_id")
	raw, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(raw))
		if id != "" {
			return id, nil
		}
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read device id: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0640); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

func logLevel() logging.Level {
	if os.Getenv("APERIOESCA_DEBUG") != "" {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}
