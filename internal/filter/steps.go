// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package filter

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/models"
)

// Dedup drops candidates delivered at or after cutoff, by work id or
// fingerprint, and collapses repeats within the pool. The first occurrence
// in pool order wins.
func Dedup(pool []models.Candidate, history models.DeliveryHistory, cutoff time.Time) (kept, dropped []models.Candidate) {
	ids := map[int64]bool{}
	fps := map[string]bool{}
	return partition(pool, func(c models.Candidate) bool {
		if history.Seen(c.WorkID, c.Fingerprint, cutoff) || ids[c.WorkID] || (c.Fingerprint != "" && fps[c.Fingerprint]) {
			return false
		}
		ids[c.WorkID] = true
		if c.Fingerprint != "" {
			fps[c.Fingerprint] = true
		}
		return true
	})
}

// IsAI reports whether c is flagged AI-generated or carries an AI keyword
// tag. keywords must be lower case.
func IsAI(c models.Candidate, keywords map[string]bool) bool {
	if c.AIGenerated {
		return true
	}
	for _, t := range c.Tags {
		if keywords[strings.ToLower(strings.TrimSpace(t))] {
			return true
		}
	}
	return false
}

// ExcludeAI drops AI-generated candidates.
func ExcludeAI(pool []models.Candidate, keywords map[string]bool) (kept, dropped []models.Candidate) {
	return partition(pool, func(c models.Candidate) bool { return !IsAI(c, keywords) })
}

// ExcludeBlocked drops candidates by a blocked artist or carrying a blocked
// tag. tags must be lower case.
func ExcludeBlocked(pool []models.Candidate, tags map[string]bool, artists map[int64]bool) (kept, dropped []models.Candidate) {
	return partition(pool, func(c models.Candidate) bool {
		if artists[c.ArtistID] {
			return false
		}
		for _, t := range c.Tags {
			if tags[strings.ToLower(t)] {
				return false
			}
		}
		return true
	})
}

// RequiredBookmarks is the minimum bookmark count for a candidate whose best
// matched tag has the given popularity in [0,1]. It is non-decreasing in
// popularity and never below floor unless the base is zero.
func RequiredBookmarks(base, floor int, popularity float64) int {
	if base <= 0 {
		return 0
	}
	p := math.Max(0, math.Min(1, popularity))
	return max(floor, int(float64(base)*(0.3+0.7*p)))
}

// Threshold drops candidates below their dynamic bookmark threshold. The
// base depends on the source strategy; popularity is the candidate's best
// tag weight relative to the profile's top weight.
func Threshold(pool []models.Candidate, p *models.UserProfile, th config.ThresholdConfig) (kept, dropped []models.Candidate) {
	return partition(pool, func(c models.Candidate) bool {
		return c.Bookmarks >= RequiredBookmarks(th.Base(c.Strategy), th.Floor, p.Popularity(c.Tags))
	})
}

// Scored is a candidate with its ranking score.
type Scored struct {
	models.Candidate
	Score float64 `json:"score"`
}

// RankConfig holds the ranking knobs.
type RankConfig struct {
	HalfLife        time.Duration
	MatchFloor      float64
	AffinityWeight  float64
	SubscribedBoost float64
}

// Score combines profile match, recency and strategy confidence, scaled by
// artist affinity and the subscription boost.
func Score(c models.Candidate, st State, now time.Time, cfg RankConfig) float64 {
	s := math.Max(c.MatchScore, cfg.MatchFloor)
	if cfg.HalfLife > 0 && !c.CreatedAt.IsZero() {
		age := now.Sub(c.CreatedAt)
		if age < 0 {
			age = 0
		}
		s *= math.Pow(0.5, age.Hours()/cfg.HalfLife.Hours())
	}
	conf, ok := st.Confidence[c.Strategy]
	if !ok {
		conf = 0.5
	}
	s *= conf
	s *= 1 + cfg.AffinityWeight*st.ArtistScores[c.ArtistID]
	if st.Subscribed[c.ArtistID] {
		s *= 1 + cfg.SubscribedBoost
	}
	return math.Max(0, s)
}

// Rank scores and sorts candidates, highest first. Ties keep the higher
// bookmark count, then the lower work id.
func Rank(pool []models.Candidate, st State, now time.Time, cfg RankConfig) []Scored {
	out := make([]Scored, len(pool))
	for i, c := range pool {
		out[i] = Scored{Candidate: c, Score: Score(c, st, now, cfg)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Bookmarks != out[j].Bookmarks {
			return out[i].Bookmarks > out[j].Bookmarks
		}
		return out[i].WorkID < out[j].WorkID
	})
	return out
}

// GateR18 applies the R-18 mode to a ranked list. In mixed mode at most
// floor(ratio*limit) R-18 works are kept, the best-ranked first.
func GateR18(ranked []Scored, mode string, ratio float64, limit int) (kept, dropped []Scored) {
	if mode == R18Allow {
		return ranked, nil
	}
	allowed := 0
	if mode == R18Mixed {
		allowed = int(math.Floor(ratio * float64(limit)))
	}
	kept = make([]Scored, 0, len(ranked))
	for _, s := range ranked {
		if s.R18 {
			if allowed <= 0 {
				dropped = append(dropped, s)
				continue
			}
			allowed--
		}
		kept = append(kept, s)
	}
	return kept, dropped
}

// Truncate walks the ranked list keeping candidates while their strategy's
// quota, their artist's cap and the overall limit allow.
func Truncate(ranked []Scored, quota map[models.StrategyID]int, maxPerArtist, limit int) (kept, dropped []Scored) {
	perStrategy := map[models.StrategyID]int{}
	perArtist := map[int64]int{}
	kept = make([]Scored, 0, min(len(ranked), max(limit, 0)))
	for _, s := range ranked {
		switch {
		case limit > 0 && len(kept) >= limit,
			quota != nil && perStrategy[s.Strategy] >= quota[s.Strategy],
			maxPerArtist > 0 && perArtist[s.ArtistID] >= maxPerArtist:
			dropped = append(dropped, s)
			continue
		}
		perStrategy[s.Strategy]++
		perArtist[s.ArtistID]++
		kept = append(kept, s)
	}
	return kept, dropped
}
