// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/store"
)

// BookmarkSource lists the user's most recent bookmarks.
type BookmarkSource interface {
	Bookmarks(ctx context.Context, limit int, includePrivate bool) ([]models.Candidate, error)
}

// Builder rebuilds and persists the profile.
type Builder struct {
	src    BookmarkSource
	canon  *Canonicalizer
	store  *store.Store
	cfg    config.ProfileConfig
	now    func() time.Time
	logger zerolog.Logger
}

// NewBuilder wires a builder. canon may be nil, in which case raw tags are
// used unchanged.
func NewBuilder(src BookmarkSource, canon *Canonicalizer, st *store.Store, cfg config.ProfileConfig) *Builder {
	return &Builder{
		src:    src,
		canon:  canon,
		store:  st,
		cfg:    cfg,
		now:    time.Now,
		logger: logging.WithComponent("profile"),
	}
}

// Rebuild scans bookmarks and stores a fresh profile. When the bookmark
// source is unavailable the last stored profile is returned instead.
func (b *Builder) Rebuild(ctx context.Context) (models.UserProfile, error) {
	mode, err := ParseNormalization(b.cfg.Normalization)
	if err != nil {
		return models.UserProfile{}, err
	}

	bookmarks, err := b.src.Bookmarks(ctx, b.cfg.ScanLimit, b.cfg.IncludePrivate)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Bookmark scan failed, using stored profile")
		p, lerr := b.Current()
		if lerr != nil {
			return models.UserProfile{}, fmt.Errorf("scan bookmarks: %w", err)
		}
		return p, nil
	}

	tagSets := make([][]string, len(bookmarks))
	var all []string
	for i, bm := range bookmarks {
		tagSets[i] = bm.Tags
		all = append(all, bm.Tags...)
	}

	canon := map[string]string{}
	if b.canon != nil {
		if canon, err = b.canon.Canonicalize(ctx, all); err != nil {
			return models.UserProfile{}, err
		}
	}
	scan := Scan(tagSets, canon, b.cfg.StopWords)

	in := Input{Histogram: scan.Histogram, ScanSize: scan.ScanSize, IPTags: map[string]bool{}}
	opts := Options{Mode: mode, IPDiscount: b.cfg.IPWeightDiscount, Boosts: map[string]float64{}}
	for _, t := range b.cfg.IPTags {
		in.IPTags[t] = true
	}
	for t, m := range b.cfg.BoostTags {
		opts.Boosts[t] = m
	}
	err = b.store.View(func(tx *store.Tx) error {
		synced, err := tx.IPTags()
		if err != nil {
			return err
		}
		for _, t := range synced {
			in.IPTags[t] = true
		}
		if in.Baseline, err = tx.Baseline(); err != nil {
			return err
		}
		overrides, err := tx.BoostOverrides()
		if err != nil {
			return err
		}
		for t, m := range overrides {
			opts.Boosts[t] = m
		}
		return nil
	})
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("read profile inputs: %w", err)
	}

	p := Build(in, opts, b.now())
	err = b.store.Mutate(ctx, "profile_build", func(tx *store.Tx) error {
		if err := tx.PutProfile(p); err != nil {
			return err
		}
		if err := tx.PutPairs(scan.Pairs); err != nil {
			return err
		}
		if err := tx.PutTagSpellings(scan.Spellings); err != nil {
			return err
		}
		return tx.AppendEvent(models.Event{
			Type:  models.EventProfileBuilt,
			Value: float64(len(p.Weights)),
		})
	})
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("store profile: %w", err)
	}

	b.logger.Info().
		Int("bookmarks", scan.ScanSize).
		Int("tags", len(p.Weights)).
		Int("pairs", len(scan.Pairs)).
		Str("normalization", string(mode)).
		Msg("Profile rebuilt")
	return p, nil
}

// Current returns the stored profile.
func (b *Builder) Current() (models.UserProfile, error) {
	var p models.UserProfile
	err := b.store.View(func(tx *store.Tx) error {
		var err error
		p, err = tx.Profile()
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return p, fmt.Errorf("no profile built yet: %w", err)
	}
	return p, err
}

// LoadExpander builds a query expander from the stored best search tags.
func LoadExpander(st *store.Store, aliases map[string][]string) (*Expander, error) {
	var best map[string]string
	err := st.View(func(tx *store.Tx) error {
		var err error
		best, err = tx.BestSearchTags()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read search tags: %w", err)
	}
	return NewExpander(aliases, best), nil
}
