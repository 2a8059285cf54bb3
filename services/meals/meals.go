// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package meals is the persistence collaborator for analysis results.
//
// The resilience core hands a validated analysis result to this package,
// which freezes it into an immutable meal entry: the photo file is moved
// into the meals directory and the record is written to BadgerDB. The core
// never manages this storage itself.
package meals

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/aperioesca/aperioesca/services/analysis"
)

// entryPrefix namespaces meal records in the shared database.
const entryPrefix = "meal/"

// ErrNotFound is returned when no entry exists for an id.
var ErrNotFound = errors.New("meal not found")

// KcalRange is optional calibration data, not primary UI content.
type KcalRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Feedback is the user's verdict on a classification, collected for local
// calibration.
type Feedback string

const (
	FeedbackTooLight Feedback = "too_light"
	FeedbackTooHeavy Feedback = "too_heavy"
	FeedbackAccurate Feedback = "accurate"
)

// Entry is a stored meal record.
//
// Entries are frozen at save time: the analysis fields never change after
// the photo is classified. Only user feedback may be attached afterwards.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	// PhotoPath is a local path only; photos never leave the device
	// except as an analysis payload.
	PhotoPath string `json:"photoPath"`

	MealType   analysis.MealType   `json:"mealType"`
	EnergyBand analysis.EnergyBand `json:"energyBand"`
	Confidence analysis.Confidence `json:"confidence"`
	Reasoning  string              `json:"reasoning"`
	Flags      analysis.Flags      `json:"flags"`
	Insight    string              `json:"insight"`

	KcalRange    *KcalRange `json:"kcalRange,omitempty"`
	UserFeedback Feedback   `json:"userFeedback,omitempty"`

	Frozen bool `json:"frozen"`
}

// Store persists meal entries and their photo files.
type Store struct {
	db        *badger.DB
	photosDir string
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// StoreConfig configures a meal store.
type StoreConfig struct {
	// PhotosDir is where photo files are moved on save. Created if
	// missing.
	PhotosDir string

	// Logger receives store diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Clock and IDSource override time and id generation for tests.
	Clock    func() time.Time
	IDSource func() string
}

// NewStore creates a meal store over an open database handle.
func NewStore(db *badger.DB, cfg StoreConfig) (*Store, error) {
	if cfg.PhotosDir == "" {
		return nil, errors.New("photos directory is required")
	}
	if err := os.MkdirAll(cfg.PhotosDir, 0750); err != nil {
		return nil, fmt.Errorf("create photos directory: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.IDSource == nil {
		cfg.IDSource = uuid.NewString
	}
	return &Store{
		db:        db,
		photosDir: cfg.PhotosDir,
		logger:    cfg.Logger,
		now:       cfg.Clock,
		newID:     cfg.IDSource,
	}, nil
}

// Save freezes an analysis result into a stored entry.
//
// The photo at tempPhotoPath is moved into the meals directory under the
// new entry's id. On any failure the entry is not recorded.
func (s *Store) Save(result *analysis.Result, tempPhotoPath string) (*Entry, error) {
	id := s.newID()
	dest := filepath.Join(s.photosDir, id+filepath.Ext(tempPhotoPath))

	if err := movePhoto(tempPhotoPath, dest); err != nil {
		return nil, fmt.Errorf("store photo for meal %s: %w", id, err)
	}

	entry := &Entry{
		ID:         id,
		CreatedAt:  s.now(),
		PhotoPath:  dest,
		MealType:   result.MealType,
		EnergyBand: result.EnergyBand,
		Confidence: result.Confidence,
		Reasoning:  result.Reasoning,
		Flags:      result.Flags,
		Insight:    result.Insight,
		Frozen:     true,
	}

	if err := s.put(entry); err != nil {
		// Roll the photo back so a failed save leaves no orphan file.
		if rbErr := movePhoto(dest, tempPhotoPath); rbErr != nil {
			s.logger.Error("photo rollback failed", "path", dest, "error", rbErr)
		}
		return nil, err
	}

	s.logger.Info("meal saved", "id", id, "energy_band", string(entry.EnergyBand))
	return entry, nil
}

// RecordFeedback attaches a user verdict to a frozen entry. Feedback is
// the only mutable field on an entry.
func (s *Store) RecordFeedback(id string, feedback Feedback) error {
	entry, err := s.Get(id)
	if err != nil {
		return err
	}
	entry.UserFeedback = feedback
	return s.put(entry)
}

// All returns every stored entry, newest first.
func (s *Store) All() ([]*Entry, error) {
	var entries []*Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Get returns the entry for id, or ErrNotFound.
func (s *Store) Get(id string) (*Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(entryPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get meal %s: %w", id, err)
	}
	return &entry, nil
}

// Delete removes an entry and its photo file. Deleting a missing photo is
// not an error.
func (s *Store) Delete(id string) error {
	entry, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := os.Remove(entry.PhotoPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove photo %s: %w", entry.PhotoPath, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(entryPrefix + id))
	})
	if err != nil {
		return fmt.Errorf("delete meal %s: %w", id, err)
	}
	return nil
}

// Clear removes all entries and their photos.
func (s *Store) Clear() error {
	entries, err := s.All()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := s.Delete(entry.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) put(entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal meal %s: %w", entry.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(entryPrefix+entry.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("persist meal %s: %w", entry.ID, err)
	}
	return nil
}

// movePhoto renames src to dest, falling back to copy+remove across
// filesystems (camera temp dirs are often a different mount).
func movePhoto(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
