// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package filter reduces the raw candidate pool to the ranked deliverables.
//
// Steps run in a fixed order: dedup, AI exclusion, block exclusion, the
// dynamic bookmark threshold, R-18 gating, then rank and truncate. The cheap
// set lookups come first so the threshold and ranking only see survivors.
// Candidates are never edited, only kept or dropped.
package filter

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
)

// Rejection reasons, also used as metric labels.
const (
	ReasonDuplicate = "duplicate"
	ReasonAI        = "ai"
	ReasonBlocked   = "blocked"
	ReasonThreshold = "threshold"
	ReasonR18       = "r18"
	ReasonTruncated = "truncated"
)

// R-18 modes.
const (
	R18Exclude = "exclude"
	R18Allow   = "allow"
	R18Mixed   = "mixed"
)

// State is the long-lived data the filter reads. It is a snapshot; the
// filter never writes it.
type State struct {
	Profile        *models.UserProfile
	History        models.DeliveryHistory
	BlockedTags    map[string]bool
	BlockedArtists map[int64]bool
	ArtistScores   map[int64]float64
	// Confidence is the per-strategy success confidence used in ranking.
	Confidence map[models.StrategyID]float64
	Subscribed map[int64]bool
}

// Result is the filter output.
type Result struct {
	Accepted []Scored
	// Rejected counts drops per strategy and reason.
	Rejected map[models.StrategyID]map[string]int
}

// Candidates returns the accepted candidates in rank order.
func (r Result) Candidates() []models.Candidate {
	out := make([]models.Candidate, len(r.Accepted))
	for i, s := range r.Accepted {
		out[i] = s.Candidate
	}
	return out
}

// Filter applies the configured steps.
type Filter struct {
	cfg        config.FilterConfig
	aiKeywords map[string]bool
	blacklist  map[string]bool
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates a filter from config.
func New(cfg config.FilterConfig) *Filter {
	f := &Filter{
		cfg:        cfg,
		aiKeywords: lowerSet(cfg.AIKeywords),
		blacklist:  lowerSet(cfg.BlacklistTags),
		now:        time.Now,
		logger:     logging.WithComponent("filter"),
	}
	return f
}

// Apply runs every step. quota caps each strategy; limit caps the total.
// A nil quota leaves strategies uncapped.
func (f *Filter) Apply(pool []models.Candidate, st State, quota map[models.StrategyID]int, limit int) Result {
	res := Result{Rejected: map[models.StrategyID]map[string]int{}}
	now := f.now()
	reject := func(reason string, dropped []models.Candidate) {
		for _, c := range dropped {
			if res.Rejected[c.Strategy] == nil {
				res.Rejected[c.Strategy] = map[string]int{}
			}
			res.Rejected[c.Strategy][reason]++
			metrics.RecordFiltered(string(c.Strategy), reason, 1)
		}
	}

	kept, dropped := Dedup(pool, st.History, now.Add(-f.cfg.DedupWindow))
	reject(ReasonDuplicate, dropped)

	if f.cfg.ExcludeAI {
		kept, dropped = ExcludeAI(kept, f.aiKeywords)
		reject(ReasonAI, dropped)
	}

	kept, dropped = ExcludeBlocked(kept, f.blockedTags(st.BlockedTags), st.BlockedArtists)
	reject(ReasonBlocked, dropped)

	kept, dropped = Threshold(kept, st.Profile, f.cfg.BookmarkThreshold)
	reject(ReasonThreshold, dropped)

	ranked := Rank(kept, st, now, f.rankConfig())

	ranked, droppedScored := GateR18(ranked, f.cfg.R18Mode, f.cfg.R18Ratio, limit)
	reject(ReasonR18, unwrap(droppedScored))

	ranked, droppedScored = Truncate(ranked, quota, f.cfg.MaxPerArtist, limit)
	reject(ReasonTruncated, unwrap(droppedScored))

	res.Accepted = ranked
	f.logger.Debug().
		Int("pool", len(pool)).
		Int("accepted", len(ranked)).
		Msg("Filtered candidate pool")
	return res
}

func (f *Filter) blockedTags(confirmed map[string]bool) map[string]bool {
	out := make(map[string]bool, len(confirmed)+len(f.blacklist))
	for t := range f.blacklist {
		out[t] = true
	}
	for t := range confirmed {
		out[strings.ToLower(t)] = true
	}
	return out
}

func (f *Filter) rankConfig() RankConfig {
	return RankConfig{
		HalfLife:        f.cfg.RecencyHalfLife,
		MatchFloor:      f.cfg.MatchFloor,
		AffinityWeight:  f.cfg.ArtistAffinityWeight,
		SubscribedBoost: f.cfg.SubscribedBoost,
	}
}

func lowerSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		if it = strings.ToLower(strings.TrimSpace(it)); it != "" {
			out[it] = true
		}
	}
	return out
}

func partition(pool []models.Candidate, keep func(models.Candidate) bool) (kept, dropped []models.Candidate) {
	kept = make([]models.Candidate, 0, len(pool))
	for _, c := range pool {
		if keep(c) {
			kept = append(kept, c)
		} else {
			dropped = append(dropped, c)
		}
	}
	return kept, dropped
}

func unwrap(s []Scored) []models.Candidate {
	out := make([]models.Candidate, len(s))
	for i, sc := range s {
		out[i] = sc.Candidate
	}
	return out
}
