// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package profile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/store"
)

// TagNormalizer maps raw tags to canonical tag ids. Tags missing from the
// returned map are kept as-is.
type TagNormalizer interface {
	Normalize(ctx context.Context, raw []string) (map[string]string, error)
}

// Canonicalizer resolves raw tags through the store cache and, for misses,
// the normalizer. A failed batch falls back to the raw spelling and is not
// cached, so it is retried on the next build.
type Canonicalizer struct {
	norm      TagNormalizer
	store     *store.Store
	batchSize int
	sem       *semaphore.Weighted
	logger    zerolog.Logger
}

// NewCanonicalizer returns a canonicalizer. A nil normalizer or a disabled
// config makes it the identity for uncached tags.
func NewCanonicalizer(norm TagNormalizer, st *store.Store, cfg config.NormalizerConfig) *Canonicalizer {
	if !cfg.Enabled {
		norm = nil
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	workers := cfg.MaxConcurrency
	if workers <= 0 {
		workers = 1
	}
	return &Canonicalizer{
		norm:      norm,
		store:     st,
		batchSize: batch,
		sem:       semaphore.NewWeighted(int64(workers)),
		logger:    logging.WithComponent("canonicalizer"),
	}
}

// Canonicalize returns a mapping for every distinct raw tag.
func (c *Canonicalizer) Canonicalize(ctx context.Context, raw []string) (map[string]string, error) {
	uniq := dedupe(raw)

	var cached map[string]string
	if err := c.store.View(func(tx *store.Tx) error {
		var err error
		cached, err = tx.CanonicalTags(uniq)
		return err
	}); err != nil {
		return nil, fmt.Errorf("read tag cache: %w", err)
	}

	out := make(map[string]string, len(uniq))
	var misses []string
	for _, r := range uniq {
		if canon, ok := cached[r]; ok {
			out[r] = canon
			continue
		}
		out[r] = r
		misses = append(misses, r)
	}
	if c.norm == nil || len(misses) == 0 {
		return out, nil
	}

	learned := c.resolve(ctx, misses)
	if len(learned) == 0 {
		return out, nil
	}
	for r, canon := range learned {
		out[r] = canon
	}
	err := c.store.Mutate(ctx, "canonical_tags", func(tx *store.Tx) error {
		for r, canon := range learned {
			if err := tx.PutCanonical(r, canon); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Int("tags", len(learned)).Msg("Failed to cache canonical tags")
	}
	return out, nil
}

func (c *Canonicalizer) resolve(ctx context.Context, misses []string) map[string]string {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		learned = make(map[string]string, len(misses))
	)
	for start := 0; start < len(misses); start += c.batchSize {
		end := min(start+c.batchSize, len(misses))
		batch := misses[start:end]
		if err := c.sem.Acquire(ctx, 1); err != nil {
			metrics.NormalizerFallbacks.Add(float64(len(misses) - start))
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.sem.Release(1)
			got, err := c.norm.Normalize(ctx, batch)
			if err != nil {
				metrics.NormalizerFallbacks.Add(float64(len(batch)))
				c.logger.Warn().Err(err).Int("batch", len(batch)).Msg("Tag normalization failed, keeping raw tags")
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range batch {
				if canon := strings.TrimSpace(got[r]); canon != "" {
					learned[r] = canon
				} else {
					learned[r] = r
				}
			}
		}()
	}
	wg.Wait()
	return learned
}

func dedupe(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
