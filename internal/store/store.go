// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package store persists XPFeed state in BadgerDB.
//
// Every write goes through one writer goroutine (see Mutate), so scheduled
// runs and asynchronous feedback never interleave partially. Each mutation
// is a single Badger transaction that appends to the event log and updates
// the materialized views it affects. Reads (View) see the latest committed
// state.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/logging"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

const closeTimeout = 30 * time.Second

// Store wraps a Badger database with a serialized mutation queue.
type Store struct {
	db  *badger.DB
	cfg config.StoreConfig

	queue chan *mutation
	stop  chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store described by cfg and starts the writer.
func Open(cfg config.StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	s := newStore(db, cfg)
	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Store opened")
	return s, nil
}

// OpenInMemory opens a throwaway in-memory store, for tests and dry runs.
func OpenInMemory() (*Store, error) {
	return Open(config.StoreConfig{InMemory: true, ConflictRetries: 3, QueueSize: 16})
}

func newStore(db *badger.DB, cfg config.StoreConfig) *Store {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	s := &Store{
		db:    db,
		cfg:   cfg,
		queue: make(chan *mutation, cfg.QueueSize),
		stop:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writer()
	return s
}

// Close drains the writer and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Store closed")
		return nil
	case <-time.After(closeTimeout):
		logging.Warn().Dur("timeout", closeTimeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", closeTimeout)
	}
}

// RunGC reclaims value log space until Badger reports nothing to rewrite.
func (s *Store) RunGC() error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed || s.cfg.InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// View runs fn in a read-only transaction over the latest committed state.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn, now: time.Now().UTC()})
	})
}
