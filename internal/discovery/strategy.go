// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/xpfeed/internal/models"
)

// Strategy produces up to budget candidates from the profile. It may return
// candidates together with an error when some of its upstream calls failed.
type Strategy interface {
	ID() models.StrategyID
	Generate(ctx context.Context, p *models.UserProfile, budget int) ([]models.Candidate, error)
}

// SearchQuery is one tag search. Each term is an AND-ed expression.
type SearchQuery struct {
	Terms        []string
	MinBookmarks int
	Since        time.Time
	Limit        int
}

// ContentSource is the upstream catalogue the strategies query.
type ContentSource interface {
	Search(ctx context.Context, q SearchQuery) ([]models.Candidate, error)
	ArtistWorks(ctx context.Context, artistID int64, since time.Time, limit int) ([]models.Candidate, error)
	FollowFeed(ctx context.Context, limit int) ([]models.Candidate, error)
	Ranking(ctx context.Context, mode string, limit int) ([]models.Candidate, error)
	RecommendedFeed(ctx context.Context, limit int) ([]models.Candidate, error)
	Related(ctx context.Context, workID int64, limit int) ([]models.Candidate, error)
}

// calls tracks the per-call results inside one Generate.
type calls struct {
	n    int
	errs []error
}

func (c *calls) record(err error) {
	c.n++
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

// result folds call failures into Generate's return. All calls failing with
// nothing produced is an error; some failing is reported alongside the
// candidates.
func (c *calls) result(id models.StrategyID, out []models.Candidate) ([]models.Candidate, error) {
	if len(c.errs) == 0 {
		return out, nil
	}
	err := fmt.Errorf("%s: %d of %d calls failed: %w", id, len(c.errs), c.n, errors.Join(c.errs...))
	return out, err
}

// collector appends candidates, dropping repeated work ids and stamping the
// origin strategy and match score. Accepted candidates are also published to
// the runner's partial sink, if ctx carries one.
type collector struct {
	id      models.StrategyID
	profile *models.UserProfile
	seen    map[int64]bool
	out     []models.Candidate
	sink    *partial
}

func newCollector(ctx context.Context, id models.StrategyID, p *models.UserProfile) *collector {
	return &collector{id: id, profile: p, seen: map[int64]bool{}, sink: partialFrom(ctx)}
}

func (c *collector) add(cands []models.Candidate) {
	start := len(c.out)
	for _, cand := range cands {
		if cand.WorkID == 0 || c.seen[cand.WorkID] {
			continue
		}
		c.seen[cand.WorkID] = true
		c.out = append(c.out, cand.WithOrigin(c.id, c.profile.Match(cand.Tags)))
	}
	c.sink.publish(c.out[start:])
}

func (c *collector) len() int { return len(c.out) }

// partial holds the candidates a strategy has collected so far, so the
// runner can keep them when the soft deadline passes first.
type partial struct {
	mu    sync.Mutex
	cands []models.Candidate
}

type partialKey struct{}

func withPartial(ctx context.Context, p *partial) context.Context {
	return context.WithValue(ctx, partialKey{}, p)
}

func partialFrom(ctx context.Context) *partial {
	p, _ := ctx.Value(partialKey{}).(*partial)
	return p
}

func (p *partial) publish(cands []models.Candidate) {
	if p == nil || len(cands) == 0 {
		return
	}
	p.mu.Lock()
	p.cands = append(p.cands, cands...)
	p.mu.Unlock()
}

func (p *partial) snapshot() []models.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Candidate(nil), p.cands...)
}
