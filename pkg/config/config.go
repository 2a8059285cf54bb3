// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the relay's YAML configuration.
//
// Service wiring (ports, tokens, endpoints) comes from environment
// variables at the composition root; this file carries the data that
// operators tune at runtime — model fallback chains and limits. Model
// chains are configuration, not logic: the file can be edited in place and
// the relay picks up the change without a restart (see Watch).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration decodes "5m"-style YAML strings into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the operator-tunable relay configuration.
type Config struct {
	Models Models `yaml:"models"`
	Limits Limits `yaml:"limits"`
}

// Models holds the ordered model fallback chains per tier.
type Models struct {
	// Tier1 is the cheap "is this food?" pre-filter chain.
	Tier1 []string `yaml:"tier1" validate:"required,min=1,dive,required"`

	// Tier2 is the detailed-analysis chain.
	Tier2 []string `yaml:"tier2" validate:"required,min=1,dive,required"`
}

// Limits holds the relay's protection thresholds.
type Limits struct {
	// DailyPerDevice is the authoritative per-device daily analysis
	// limit. The client's local quota counter is only an advisory cache
	// of this.
	DailyPerDevice int `yaml:"daily_per_device" validate:"min=1"`

	// DedupWindow is how long an image hash blocks identical requests.
	DedupWindow Duration `yaml:"dedup_window"`

	// BurstInterval is the minimum spacing between requests from one
	// device before the burst limiter rejects.
	BurstInterval Duration `yaml:"burst_interval"`

	// BurstSize is how many requests a device may issue back to back.
	BurstSize int `yaml:"burst_size" validate:"min=1"`
}

// Default returns the production defaults used when no file is present.
func Default() *Config {
	return &Config{
		Models: Models{
			Tier1: []string{"gemini-flash-lite-latest", "gemini-2.0-flash-lite"},
			Tier2: []string{"gemini-flash-latest", "gemini-2.0-flash", "gemini-pro"},
		},
		Limits: Limits{
			DailyPerDevice: 10,
			DedupWindow:    Duration(5 * time.Minute),
			BurstInterval:  Duration(2 * time.Second),
			BurstSize:      3,
		},
	}
}

// Load reads, decodes, and validates the configuration at path.
//
// Missing fields fall back to the defaults, so a file that only overrides
// the model chains is valid.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates raw YAML configuration bytes.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Limits.DedupWindow <= 0 {
		return nil, fmt.Errorf("invalid config: dedup_window must be positive")
	}
	if cfg.Limits.BurstInterval <= 0 {
		return nil, fmt.Errorf("invalid config: burst_interval must be positive")
	}
	return cfg, nil
}
