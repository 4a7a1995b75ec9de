// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package services

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/xpfeed/internal/logging"
)

// GarbageCollector compacts storage. Satisfied by *store.Store.
type GarbageCollector interface {
	RunGC() error
}

// StoreGCService runs value log garbage collection on an interval.
type StoreGCService struct {
	gc       GarbageCollector
	interval time.Duration
	name     string
}

// NewStoreGCService creates the service. A non-positive interval disables it.
func NewStoreGCService(gc GarbageCollector, interval time.Duration) *StoreGCService {
	return &StoreGCService{gc: gc, interval: interval, name: "store-gc"}
}

// Serve implements suture.Service. GC errors are logged; the next tick
// retries.
func (s *StoreGCService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		return suture.ErrDoNotRestart
	}
	logger := logging.WithComponent(s.name)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.gc.RunGC(); err != nil {
				logger.Warn().Err(err).Msg("Value log GC failed")
				continue
			}
			logger.Debug().Dur("duration", time.Since(start)).Msg("Value log GC finished")
		}
	}
}

// String implements fmt.Stringer for suture's logs.
func (s *StoreGCService) String() string {
	return s.name
}
