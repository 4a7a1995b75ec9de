// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package feedback applies user actions on delivered candidates.
//
// Each action is one store mutation, so a failed action leaves block and
// strategy state untouched. Likes additionally drive a depth-bounded chain
// of related-work deliveries. Dislikes feed the soft-block scores: crossing
// the threshold only ever moves a subject to pending confirmation.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/filter"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/store"
)

// ErrUnknownCandidate is returned for feedback on a work that was never
// delivered or whose cache entry expired.
var ErrUnknownCandidate = errors.New("unknown candidate")

// RelatedSource is the upstream the cascade and bookmark sync talk to.
type RelatedSource interface {
	Related(ctx context.Context, workID int64, limit int) ([]models.Candidate, error)
	AddBookmark(ctx context.Context, workID int64) error
}

// Deliverer presents candidates to the user.
type Deliverer interface {
	Deliver(ctx context.Context, cands []models.Candidate) ([]int64, error)
}

// Result describes what one feedback event changed.
type Result struct {
	Event     models.FeedbackEvent `json:"event"`
	Candidate models.Candidate     `json:"candidate"`
	// Duplicate is set when the event id was already processed.
	Duplicate bool `json:"duplicate,omitempty"`
	// Transitions are block entries whose state changed.
	Transitions []models.BlockEntry `json:"transitions,omitempty"`
	Cascade     []models.Candidate  `json:"cascade,omitempty"`
	CascadeErr  string              `json:"cascade_error,omitempty"`
}

// Options configure a Processor.
type Options struct {
	Feedback    config.FeedbackConfig
	Filter      *filter.Filter
	DedupWindow time.Duration
	// Strategies are the configured strategies, for ranking confidence.
	Strategies []models.StrategyStat
	Subscribed []int64
}

// Processor handles feedback events.
type Processor struct {
	store      *store.Store
	src        RelatedSource
	deliver    Deliverer
	filter     *filter.Filter
	cfg        config.FeedbackConfig
	window     time.Duration
	strategies []models.StrategyStat
	subscribed []int64
	logger     zerolog.Logger
}

// NewProcessor creates a processor. deliver may be nil, which disables the
// cascade.
func NewProcessor(st *store.Store, src RelatedSource, deliver Deliverer, opts Options) *Processor {
	return &Processor{
		store:      st,
		src:        src,
		deliver:    deliver,
		filter:     opts.Filter,
		cfg:        opts.Feedback,
		window:     opts.DedupWindow,
		strategies: opts.Strategies,
		subscribed: opts.Subscribed,
		logger:     logging.WithComponent("feedback"),
	}
}

// Handle applies one feedback event.
func (p *Processor) Handle(ctx context.Context, ev models.FeedbackEvent) (Result, error) {
	res, err := p.handle(ctx, ev)
	metrics.RecordFeedback(string(ev.Action), err)
	return res, err
}

func (p *Processor) handle(ctx context.Context, ev models.FeedbackEvent) (Result, error) {
	res := Result{Event: ev}
	if ev.At.IsZero() {
		ev.At = time.Now()
		res.Event.At = ev.At
	}

	var c models.Candidate
	err := p.store.View(func(tx *store.Tx) error {
		var err error
		c, err = tx.Candidate(ev.WorkID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return res, fmt.Errorf("%w: work %d", ErrUnknownCandidate, ev.WorkID)
	}
	if err != nil {
		return res, fmt.Errorf("load candidate: %w", err)
	}
	res.Candidate = c

	err = p.store.Mutate(ctx, "feedback_"+string(ev.Action), func(tx *store.Tx) error {
		res.Transitions = nil
		dup, err := tx.ClaimFeedback(ev.ID, p.window)
		if err != nil || dup {
			res.Duplicate = dup
			return err
		}
		switch ev.Action {
		case models.ActionLike:
			err = p.applyLike(tx, c)
		case models.ActionDislike:
			res.Transitions, err = p.applyDislike(tx, c)
		case models.ActionBlock:
			res.Transitions, err = p.applyBlock(tx, c)
		default:
			err = fmt.Errorf("unknown feedback action %q", ev.Action)
		}
		if err != nil {
			return err
		}
		return tx.AppendEvent(models.Event{
			Type:     models.EventFeedback,
			At:       ev.At,
			WorkID:   c.WorkID,
			ArtistID: c.ArtistID,
			Strategy: c.Strategy,
			Action:   ev.Action,
			Tags:     c.Tags,
			Channel:  ev.Channel,
		})
	})
	if err != nil {
		return res, fmt.Errorf("apply %s on %d: %w", ev.Action, ev.WorkID, err)
	}
	if res.Duplicate {
		p.logger.Debug().Str("event_id", ev.ID).Msg("Duplicate feedback ignored")
		return res, nil
	}
	p.recordTransitions(res.Transitions)

	log := p.logger.With().Int64("work_id", c.WorkID).Str("action", string(ev.Action)).Logger()
	log.Info().Int("transitions", len(res.Transitions)).Msg("Feedback applied")

	if ev.Action == models.ActionLike {
		if p.cfg.SyncBookmark && p.src != nil {
			if err := p.src.AddBookmark(ctx, c.WorkID); err != nil {
				log.Warn().Err(err).Msg("Bookmark sync failed")
			}
		}
		res.Cascade, err = p.cascade(ctx, c)
		if err != nil {
			res.CascadeErr = err.Error()
			log.Warn().Err(err).Int("delivered", len(res.Cascade)).Msg("Chain cascade stopped early")
		}
	}
	return res, nil
}

func (p *Processor) applyLike(tx *store.Tx, c models.Candidate) error {
	a, err := tx.ArtistScore(c.ArtistID)
	if err != nil {
		return err
	}
	a = a.Toward(1, p.cfg.ArtistEMAAlpha, tx.Now())
	a.Likes++
	if c.ArtistName != "" {
		a.Name = c.ArtistName
	}
	if err := tx.PutArtistScore(a); err != nil {
		return err
	}
	if c.Strategy != "" {
		s, err := tx.StrategyStat(c.Strategy)
		if err != nil {
			return err
		}
		s.Successes++
		if err := tx.PutStrategyStat(s); err != nil {
			return err
		}
	}
	return tx.IncrLikedTags(c.Tags)
}

func (p *Processor) applyDislike(tx *store.Tx, c models.Candidate) ([]models.BlockEntry, error) {
	a, err := tx.ArtistScore(c.ArtistID)
	if err != nil {
		return nil, err
	}
	a = a.Toward(-1, p.cfg.ArtistEMAAlpha, tx.Now())
	a.Dislikes++
	if c.ArtistName != "" {
		a.Name = c.ArtistName
	}
	if err := tx.PutArtistScore(a); err != nil {
		return nil, err
	}

	prof, err := tx.Profile()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	var changed []models.BlockEntry
	bump := func(kind models.SubjectKind, subject string, delta float64) error {
		if subject == "" || delta <= 0 {
			return nil
		}
		b, err := tx.Block(kind, subject)
		if err != nil {
			return err
		}
		b, crossed := b.AddScore(delta, p.cfg.BlockThreshold, tx.Now())
		if err := tx.PutBlock(b); err != nil {
			return err
		}
		if crossed {
			changed = append(changed, b)
			return appendTransition(tx, b)
		}
		return nil
	}
	if err := bump(models.SubjectTag, prof.Salient(c.Tags), p.cfg.DislikeTagIncrement); err != nil {
		return nil, err
	}
	if c.ArtistID != 0 {
		if err := bump(models.SubjectArtist, strconv.FormatInt(c.ArtistID, 10), p.cfg.DislikeArtistIncrement); err != nil {
			return nil, err
		}
	}
	return changed, nil
}

// applyBlock asks for the candidate's artist to be blocked. It stays
// pending until confirmed.
func (p *Processor) applyBlock(tx *store.Tx, c models.Candidate) ([]models.BlockEntry, error) {
	if c.ArtistID == 0 {
		return nil, fmt.Errorf("work %d has no artist to block", c.WorkID)
	}
	b, changed, err := requestBlock(tx, models.SubjectArtist, strconv.FormatInt(c.ArtistID, 10), p.cfg.BlockThreshold)
	if err != nil || !changed {
		return nil, err
	}
	return []models.BlockEntry{b}, nil
}

func appendTransition(tx *store.Tx, b models.BlockEntry) error {
	return tx.AppendEvent(models.Event{
		Type:    models.EventBlockTransition,
		Kind:    b.Kind,
		Subject: b.Subject,
		State:   b.State,
		Value:   b.Score,
	})
}

func (p *Processor) recordTransitions(entries []models.BlockEntry) {
	for _, b := range entries {
		metrics.BlockTransitions.WithLabelValues(string(b.Kind), string(b.State)).Inc()
		p.logger.Info().
			Str("kind", string(b.Kind)).
			Str("subject", b.Subject).
			Str("state", string(b.State)).
			Float64("score", b.Score).
			Msg("Block state changed")
	}
}
