// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo},
	}

	for _, tt := range tests {
		got := tt.level.toSlogLevel()
		if got != tt.want {
			t.Errorf("Level(%d).toSlogLevel() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	defer logger.Close()

	if logger.slog == nil {
		t.Fatal("New() returned logger with nil slog")
	}
	if logger.file != nil {
		t.Error("New() with no LogDir should not open a file")
	}
}

func TestNew_QuietMode(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	// Quiet with no file still gets a fallback handler.
	if logger.slog == nil {
		t.Fatal("New() returned logger with nil slog")
	}
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		LogDir:  dir,
		Service: "relay",
		Quiet:   true,
	})

	logger.Info("test entry", "key", "value")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := filepath.Join(dir, "relay_"+time.Now().Format("2006-01-02")+".log")
	raw, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(raw), "test entry") {
		t.Errorf("log file missing entry, got: %s", raw)
	}
	if !strings.Contains(string(raw), `"service":"relay"`) {
		t.Errorf("log file missing service attribute, got: %s", raw)
	}
}

func TestNew_WithLogDir_NoService(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})
	logger.Info("anonymous")
	logger.Close()

	want := filepath.Join(dir, "aperioesca_"+time.Now().Format("2006-01-02")+".log")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("default-named log file not created: %v", err)
	}
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	// An uncreatable log dir degrades to stderr-only, never panics.
	logger := New(Config{LogDir: string([]byte{0}), Quiet: true})
	defer logger.Close()
	logger.Info("still works")
}

func TestDefault(t *testing.T) {
	logger := Default()
	defer logger.Close()

	if logger.config.Service != "aperioesca" {
		t.Errorf("Default() service = %q, want aperioesca", logger.config.Service)
	}
	if logger.config.Level != LevelInfo {
		t.Errorf("Default() level = %v, want LevelInfo", logger.config.Level)
	}
}

// =============================================================================
// Logger Behavior Tests
// =============================================================================

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "filter",
		Quiet:   true,
	})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")
	logger.Close()

	raw, err := os.ReadFile(filepath.Join(dir, "filter_"+time.Now().Format("2006-01-02")+".log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(raw)
	if strings.Contains(content, "debug message") || strings.Contains(content, "info message") {
		t.Errorf("levels below Warn not filtered: %s", content)
	}
	if !strings.Contains(content, "warn message") || !strings.Contains(content, "error message") {
		t.Errorf("Warn/Error entries missing: %s", content)
	}
}

func TestLogger_With(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "with", Quiet: true})

	child := logger.With("device_id", "dev-1")
	child.Info("scoped entry")
	logger.Close()

	raw, err := os.ReadFile(filepath.Join(dir, "with_"+time.Now().Format("2006-01-02")+".log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"device_id":"dev-1"`) {
		t.Errorf("child attribute missing: %s", raw)
	}
}

func TestLogger_With_SharesResources(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "shared", Quiet: true})
	defer logger.Close()

	child := logger.With("k", "v")
	if child.file != logger.file {
		t.Error("With() should share the parent's file handle")
	}
}

func TestLogger_Slog(t *testing.T) {
	logger := Default()
	defer logger.Close()

	if logger.Slog() == nil {
		t.Fatal("Slog() returned nil")
	}
}

func TestLogger_Close_NoResources(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() with no file should be nil, got %v", err)
	}
	// Double close is safe.
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() should be nil, got %v", err)
	}
}
