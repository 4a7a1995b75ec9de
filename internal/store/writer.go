// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/metrics"
)

// mutation is one queued unit of work. Exactly one of fn or raw is set.
type mutation struct {
	op   string
	fn   func(tx *Tx) error
	raw  func(db *badger.DB) error
	done chan error
}

const conflictBackoff = 10 * time.Millisecond

// Mutate queues fn and waits for it to commit. fn runs inside one read-write
// transaction on the writer goroutine and may be re-run on conflict, so it
// must derive everything it writes from what it reads through tx.
//
// If ctx ends after the mutation was queued, Mutate returns ctx.Err() but
// the mutation still runs.
func (s *Store) Mutate(ctx context.Context, op string, fn func(tx *Tx) error) error {
	return s.enqueue(ctx, &mutation{op: op, fn: fn, done: make(chan error, 1)})
}

// mutateRaw serializes a whole-database operation (DropPrefix) with the
// regular mutations.
func (s *Store) mutateRaw(ctx context.Context, op string, fn func(db *badger.DB) error) error {
	return s.enqueue(ctx, &mutation{op: op, raw: fn, done: make(chan error, 1)})
}

func (s *Store) enqueue(ctx context.Context, m *mutation) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- m:
		metrics.StoreQueueDepth.Set(float64(len(s.queue)))
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-m.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) writer() {
	defer s.wg.Done()
	for {
		select {
		case m := <-s.queue:
			m.done <- s.apply(m)
			metrics.StoreQueueDepth.Set(float64(len(s.queue)))
		case <-s.stop:
			// Drain what was queued before Close.
			for {
				select {
				case m := <-s.queue:
					m.done <- s.apply(m)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) apply(m *mutation) error {
	if m.raw != nil {
		err := m.raw(s.db)
		recordMutation(m.op, err)
		return err
	}

	backoff := conflictBackoff
	var err error
	for attempt := 0; attempt <= s.cfg.ConflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return m.fn(&Tx{txn: txn, now: time.Now().UTC()})
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		metrics.StoreConflictRetries.Inc()
		logging.Warn().Str("op", m.op).Int("attempt", attempt+1).Msg("Store write conflict, retrying")
		time.Sleep(backoff)
		backoff *= 2
	}
	if errors.Is(err, badger.ErrConflict) {
		err = fmt.Errorf("%s: conflict retries exhausted: %w", m.op, err)
	}
	recordMutation(m.op, err)
	return err
}

func recordMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StoreMutations.WithLabelValues(op, result).Inc()
}
