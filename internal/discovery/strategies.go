// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package discovery

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/profile"
)

const (
	maxSearchPage     = 30
	singleTagAttempts = 3
	artistWorksLimit  = 5
	followFeedMin     = 30
	affinityArtists   = 5
	exploreTags       = 2
	exploreFallback   = "week_rookie"
)

// Params are the per-run inputs shared by the strategy variants.
type Params struct {
	Thresholds   config.ThresholdConfig
	Overfetch    int
	PairShare    float64
	TopN         int
	Since        time.Time
	RankingModes []string
	Subscribed   []int64
	// Pairs are the stored tag co-occurrence pairs, best first.
	Pairs []models.TagPair
	// Affinity lists artists with a positive score, best first.
	Affinity []int64
	// Seeds are recently liked work ids for related-work discovery.
	Seeds    []int64
	Expander *profile.Expander
	Seed     int64
}

// SearchThreshold is the upstream minimum bookmark count for a tag search.
// Low-weight tags get a lower bar so niche interests can surface; weight is
// the tag's share of the profile's top weight.
func SearchThreshold(base, floor int, weight float64, pair bool) int {
	if base <= 0 {
		return 0
	}
	mult := math.Max(0.3, math.Min(1, weight))
	if pair {
		mult = 0.5
	}
	return max(floor, int(float64(base)*mult))
}

// NewStrategies returns the variants for the enabled ids, in the given order.
func NewStrategies(src ContentSource, ids []models.StrategyID, p Params) []Strategy {
	if p.Expander == nil {
		p.Expander = profile.NewExpander(nil, nil)
	}
	if p.Overfetch <= 0 {
		p.Overfetch = 1
	}
	out := make([]Strategy, 0, len(ids))
	for i, id := range ids {
		rng := rand.New(rand.NewSource(p.Seed + int64(i))) //nolint:gosec // sampling, not security
		switch id {
		case models.StrategyTagSearch:
			out = append(out, &TagSearch{src: src, p: p, rng: rng})
		case models.StrategySubscription:
			out = append(out, &Subscription{src: src, p: p})
		case models.StrategyRanking:
			out = append(out, &Ranking{src: src, p: p})
		case models.StrategySocial:
			out = append(out, &Social{src: src, p: p})
		case models.StrategyRelated:
			out = append(out, &Related{src: src, p: p})
		case models.StrategyExplore:
			out = append(out, &Explore{src: src, p: p, rng: rng})
		}
	}
	return out
}

// TagSearch searches the profile's top tag pairs, then weighted-sampled
// single tags.
type TagSearch struct {
	src ContentSource
	p   Params
	rng *rand.Rand
}

func (s *TagSearch) ID() models.StrategyID { return models.StrategyTagSearch }

func (s *TagSearch) Generate(ctx context.Context, prof *models.UserProfile, budget int) ([]models.Candidate, error) {
	col := newCollector(ctx, s.ID(), prof)
	var cl calls
	target := budget * s.p.Overfetch
	pairTarget := int(math.Ceil(s.p.PairShare * float64(target)))
	th := s.p.Thresholds

	usedTags := map[string]bool{}
	usedPairs := map[[2]string]bool{}
	for _, pair := range s.p.Pairs {
		if col.len() >= pairTarget || ctx.Err() != nil {
			break
		}
		key := [2]string{min(pair.A, pair.B), max(pair.A, pair.B)}
		if usedPairs[key] || s.p.Expander.Redundant(pair.A, pair.B) {
			continue
		}
		usedPairs[key] = true
		usedTags[pair.A], usedTags[pair.B] = true, true

		found, err := s.src.Search(ctx, SearchQuery{
			Terms:        []string{s.p.Expander.Query(pair.A), s.p.Expander.Query(pair.B)},
			MinBookmarks: SearchThreshold(th.Search, th.Floor, 1, true),
			Since:        s.p.Since,
			Limit:        min(maxSearchPage, pairTarget-col.len()),
		})
		cl.record(err)
		col.add(found)
	}

	maxW := prof.MaxWeight()
	var pool []models.TagWeight
	for _, tw := range prof.Top(s.p.TopN) {
		if !usedTags[tw.Tag] {
			pool = append(pool, tw)
		}
	}
	for _, tw := range weightedSample(s.rng, pool, singleTagAttempts) {
		remaining := target - col.len()
		if remaining <= 0 || ctx.Err() != nil {
			break
		}
		rel := 0.0
		if maxW > 0 {
			rel = tw.Effective / maxW
		}
		found, err := s.src.Search(ctx, SearchQuery{
			Terms:        []string{s.p.Expander.Query(tw.Tag)},
			MinBookmarks: SearchThreshold(th.Search, th.Floor, rel, false),
			Since:        s.p.Since,
			Limit:        min(maxSearchPage, remaining),
		})
		cl.record(err)
		col.add(found)
	}
	return cl.result(s.ID(), col.out)
}

// Subscription reads the follow feed and the configured artists' new works.
type Subscription struct {
	src ContentSource
	p   Params
}

func (s *Subscription) ID() models.StrategyID { return models.StrategySubscription }

func (s *Subscription) Generate(ctx context.Context, prof *models.UserProfile, budget int) ([]models.Candidate, error) {
	col := newCollector(ctx, s.ID(), prof)
	var cl calls

	found, err := s.src.FollowFeed(ctx, max(followFeedMin, budget*s.p.Overfetch))
	cl.record(err)
	col.add(found)

	for _, artist := range s.p.Subscribed {
		if ctx.Err() != nil {
			break
		}
		found, err := s.src.ArtistWorks(ctx, artist, s.p.Since, artistWorksLimit)
		cl.record(err)
		col.add(found)
	}
	return cl.result(s.ID(), col.out)
}

// Ranking reads the configured ranking lists, splitting the budget evenly.
type Ranking struct {
	src ContentSource
	p   Params
}

func (s *Ranking) ID() models.StrategyID { return models.StrategyRanking }

func (s *Ranking) Generate(ctx context.Context, prof *models.UserProfile, budget int) ([]models.Candidate, error) {
	col := newCollector(ctx, s.ID(), prof)
	var cl calls
	modes := s.p.RankingModes
	if len(modes) == 0 {
		modes = []string{"day"}
	}
	per := max(1, budget*s.p.Overfetch/len(modes))
	for _, mode := range modes {
		if ctx.Err() != nil {
			break
		}
		found, err := s.src.Ranking(ctx, mode, per)
		cl.record(err)
		col.add(found)
	}
	return cl.result(s.ID(), col.out)
}

// Social follows the upstream recommendation feed and the artists the user
// has reacted well to.
type Social struct {
	src ContentSource
	p   Params
}

func (s *Social) ID() models.StrategyID { return models.StrategySocial }

func (s *Social) Generate(ctx context.Context, prof *models.UserProfile, budget int) ([]models.Candidate, error) {
	col := newCollector(ctx, s.ID(), prof)
	var cl calls

	found, err := s.src.RecommendedFeed(ctx, budget*s.p.Overfetch)
	cl.record(err)
	col.add(found)

	for i, artist := range s.p.Affinity {
		if i >= affinityArtists || ctx.Err() != nil {
			break
		}
		found, err := s.src.ArtistWorks(ctx, artist, s.p.Since, artistWorksLimit)
		cl.record(err)
		col.add(found)
	}
	return cl.result(s.ID(), col.out)
}

// Related expands recently liked works into their related works.
type Related struct {
	src ContentSource
	p   Params
}

func (s *Related) ID() models.StrategyID { return models.StrategyRelated }

func (s *Related) Generate(ctx context.Context, prof *models.UserProfile, budget int) ([]models.Candidate, error) {
	col := newCollector(ctx, s.ID(), prof)
	var cl calls
	if len(s.p.Seeds) == 0 {
		return nil, nil
	}
	per := max(1, budget*s.p.Overfetch/len(s.p.Seeds))
	for _, seed := range s.p.Seeds {
		if ctx.Err() != nil {
			break
		}
		found, err := s.src.Related(ctx, seed, per)
		cl.record(err)
		col.add(found)
	}
	return cl.result(s.ID(), col.out)
}

// Explore searches random tags from the profile's long tail, or the rookie
// ranking when the profile has no tail.
type Explore struct {
	src ContentSource
	p   Params
	rng *rand.Rand
}

func (s *Explore) ID() models.StrategyID { return models.StrategyExplore }

func (s *Explore) Generate(ctx context.Context, prof *models.UserProfile, budget int) ([]models.Candidate, error) {
	col := newCollector(ctx, s.ID(), prof)
	var cl calls
	target := budget * s.p.Overfetch

	ranked := prof.Ranked()
	var tail []models.TagWeight
	if len(ranked) > s.p.TopN {
		tail = ranked[s.p.TopN:]
	}
	if len(tail) == 0 {
		found, err := s.src.Ranking(ctx, exploreFallback, target)
		cl.record(err)
		col.add(found)
		return cl.result(s.ID(), col.out)
	}

	th := s.p.Thresholds
	for _, i := range s.rng.Perm(len(tail)) {
		if cl.n >= exploreTags || col.len() >= target || ctx.Err() != nil {
			break
		}
		found, err := s.src.Search(ctx, SearchQuery{
			Terms:        []string{s.p.Expander.Query(tail[i].Tag)},
			MinBookmarks: max(th.Floor, th.Explore),
			Since:        s.p.Since,
			Limit:        min(maxSearchPage, target-col.len()),
		})
		cl.record(err)
		col.add(found)
	}
	return cl.result(s.ID(), col.out)
}

// weightedSample draws up to k tags without replacement, proportional to
// effective weight.
func weightedSample(rng *rand.Rand, pool []models.TagWeight, k int) []models.TagWeight {
	if len(pool) <= k {
		return append([]models.TagWeight(nil), pool...)
	}
	avail := append([]models.TagWeight(nil), pool...)
	out := make([]models.TagWeight, 0, k)
	for len(out) < k && len(avail) > 0 {
		total := 0.0
		for _, tw := range avail {
			total += tw.Effective
		}
		pick := len(avail) - 1
		if total > 0 {
			r := rng.Float64() * total
			for i, tw := range avail {
				r -= tw.Effective
				if r < 0 {
					pick = i
					break
				}
			}
		} else {
			pick = rng.Intn(len(avail))
		}
		out = append(out, avail[pick])
		avail = append(avail[:pick], avail[pick+1:]...)
	}
	return out
}
