// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
	"github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Store Configuration
// =============================================================================

// StoreConfig holds configuration for the embedded observation store.
type StoreConfig struct {
	// Path is the directory for the database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger receives the database's internal log lines.
	// If nil, internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultStoreConfig returns production defaults for a store at path.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryStoreConfig returns configuration optimized for testing: no
// disk I/O, no sync, no GC.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Key Layout
// =============================================================================

// Observation keys are obs/<series>/<YYYY-MM-DD>, so a prefix scan over
// one series yields its observations in date order, and the date in the
// key makes every write idempotent.
const obsKeyPrefix = "obs/"

// storeDateLayout is the date component of an observation key.
const storeDateLayout = "2006-01-02"

func obsKey(series string, date time.Time) []byte {
	return []byte(obsKeyPrefix + series + "/" + date.UTC().Format(storeDateLayout))
}

func seriesPrefix(series string) []byte {
	return []byte(obsKeyPrefix + series + "/")
}

func parseObsKey(key []byte) (string, time.Time, error) {
	rest, ok := strings.CutPrefix(string(key), obsKeyPrefix)
	if !ok {
		return "", time.Time{}, fmt.Errorf("unexpected store key %q", key)
	}
	series, rawDate, ok := strings.Cut(rest, "/")
	if !ok {
		return "", time.Time{}, fmt.Errorf("unexpected store key %q", key)
	}
	date, err := time.Parse(storeDateLayout, rawDate)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("bad date in store key %q: %w", key, err)
	}
	return series, date, nil
}

// =============================================================================
// Observation Store
// =============================================================================

// ObservationStore persists fetched series observations across refresh
// iterations, so each iteration only pulls the increment since the last
// stored date and derives forecasts from the full accumulated window.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying database handles transaction
// isolation.
type ObservationStore struct {
	db     *badger.DB
	gcStop chan struct{}
	gcDone chan struct{}
}

// OpenObservationStore opens (creating if needed) the store described
// by cfg and starts value log GC if configured.
func OpenObservationStore(cfg StoreConfig) (*ObservationStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open observation store: %w", err)
	}

	store := &ObservationStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		store.gcStop = make(chan struct{})
		store.gcDone = make(chan struct{})
		go store.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return store, nil
}

// Close stops garbage collection and closes the database.
func (s *ObservationStore) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

// gcLoop periodically reclaims value log space until Close.
func (s *ObservationStore) gcLoop(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err == nil {
				if logger != nil {
					logger.Debug("store value log GC completed")
				}
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				// ErrNoRewrite means no GC was needed, not an error
				if logger != nil {
					logger.Warn("store value log GC error", slog.String("error", err.Error()))
				}
			}
		}
	}
}

// update executes fn within a read-write transaction, committing on nil.
func (s *ObservationStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// view executes fn within a read-only transaction.
func (s *ObservationStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

// PutObservations stores observations, overwriting same-series same-date
// entries so repeated fetches of overlapping ranges stay idempotent.
func (s *ObservationStore) PutObservations(ctx context.Context, observations []artifact.Observation) error {
	if len(observations) == 0 {
		return nil
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		for _, obs := range observations {
			value := strconv.FormatFloat(obs.Close, 'f', -1, 64)
			if err := txn.Set(obsKey(obs.Series, obs.Date), []byte(value)); err != nil {
				return fmt.Errorf("store %s@%s: %w", obs.Series, obs.Date.Format(storeDateLayout), err)
			}
		}
		return nil
	})
}

// Observations returns one series' stored observations in date order.
func (s *ObservationStore) Observations(ctx context.Context, series string) ([]artifact.Observation, error) {
	var observations []artifact.Observation
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = seriesPrefix(series)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			_, date, err := parseObsKey(item.Key())
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				closeValue, parseErr := strconv.ParseFloat(string(val), 64)
				if parseErr != nil {
					return fmt.Errorf("bad close value for %s: %w", item.Key(), parseErr)
				}
				observations = append(observations, artifact.Observation{
					Series: series,
					Date:   date,
					Close:  closeValue,
				})
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return observations, nil
}

// LatestObservation returns a series' most recent stored observation.
// The second return is false when the series has no observations.
func (s *ObservationStore) LatestObservation(ctx context.Context, series string) (artifact.Observation, bool, error) {
	var observation artifact.Observation
	found := false

	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := seriesPrefix(series)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the last possible key for this series, then the first
		// valid reverse position is the newest date.
		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		item := it.Item()
		_, date, err := parseObsKey(item.Key())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			closeValue, parseErr := strconv.ParseFloat(string(val), 64)
			if parseErr != nil {
				return fmt.Errorf("bad close value for %s: %w", item.Key(), parseErr)
			}
			observation = artifact.Observation{Series: series, Date: date, Close: closeValue}
			found = true
			return nil
		})
	})
	if err != nil {
		return artifact.Observation{}, false, err
	}
	return observation, found, nil
}

// Empty reports whether the store holds no observations at all.
func (s *ObservationStore) Empty(ctx context.Context) (bool, error) {
	empty := true
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(obsKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	if err != nil {
		return false, err
	}
	return empty, nil
}

// PruneBefore deletes observations older than cutoff across all series
// and returns how many were removed.
func (s *ObservationStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var stale [][]byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(obsKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			_, date, err := parseObsKey(key)
			if err != nil {
				return err
			}
			if date.Before(cutoff) {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("prune %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}
