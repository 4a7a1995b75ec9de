// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package models

import (
	"math"
	"sort"
	"time"
)

// TagCategory distinguishes visual attribute tags from franchise tags.
type TagCategory string

const (
	// TagVisual is a tag describing what is drawn (hair colour, outfit, scenery).
	TagVisual TagCategory = "visual"
	// TagCopyright is a tag naming a franchise, game, or show.
	TagCopyright TagCategory = "copyright"
)

// TagWeight is one row of the taste profile.
type TagWeight struct {
	Tag          string      `json:"tag"`
	RawFrequency int         `json:"raw_frequency"`
	Category     TagCategory `json:"category"`
	Normalized   float64     `json:"normalized"`
	Effective    float64     `json:"effective"`
	// Injected is true when the tag only exists because a boost named it.
	Injected bool `json:"injected,omitempty"`
}

// TagPair is a co-occurrence count of two canonical tags within the same bookmark.
// A is always lexically smaller than B.
type TagPair struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Count int    `json:"count"`
}

// UserProfile is the taste profile: canonical tag -> weight.
type UserProfile struct {
	Weights  map[string]TagWeight `json:"weights"`
	ScanSize int                  `json:"scan_size"`
	BuiltAt  time.Time            `json:"built_at"`
}

// Ranked returns the profile sorted by effective weight, highest first.
// Ties are broken by tag name so the order is deterministic.
func (p *UserProfile) Ranked() []TagWeight {
	if p == nil {
		return nil
	}
	out := make([]TagWeight, 0, len(p.Weights))
	for _, tw := range p.Weights {
		out = append(out, tw)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Effective != out[j].Effective {
			return out[i].Effective > out[j].Effective
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// Top returns at most n highest-weighted tags.
func (p *UserProfile) Top(n int) []TagWeight {
	ranked := p.Ranked()
	if n > 0 && len(ranked) > n {
		return ranked[:n]
	}
	return ranked
}

// Weight returns the effective weight of tag, or 0 when absent.
func (p *UserProfile) Weight(tag string) float64 {
	if p == nil {
		return 0
	}
	return p.Weights[tag].Effective
}

// MaxWeight returns the largest effective weight in the profile.
func (p *UserProfile) MaxWeight() float64 {
	if p == nil {
		return 0
	}
	maxW := 0.0
	for _, tw := range p.Weights {
		if tw.Effective > maxW {
			maxW = tw.Effective
		}
	}
	return maxW
}

// Popularity returns the relative weight in [0,1] of the strongest profile
// tag among tags. Tags absent from the profile contribute 0.
func (p *UserProfile) Popularity(tags []string) float64 {
	maxW := p.MaxWeight()
	if maxW <= 0 {
		return 0
	}
	best := 0.0
	for _, t := range tags {
		if w := p.Weight(t); w > best {
			best = w
		}
	}
	return best / maxW
}

// Match scores how well tags fit the profile in [0,1]: the summed weight of
// matched tags divided by the summed weight of the profile's top len(tags) tags.
func (p *UserProfile) Match(tags []string) float64 {
	if p == nil || len(tags) == 0 || len(p.Weights) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(tags))
	got := 0.0
	for _, t := range tags {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		got += p.Weight(t)
	}
	ideal := 0.0
	for _, tw := range p.Top(len(seen)) {
		ideal += tw.Effective
	}
	if ideal <= 0 {
		return 0
	}
	m := got / ideal
	if m > 1 {
		m = 1
	}
	return m
}

// Salient returns the tag in tags with the highest profile weight. When no
// tag is in the profile the first tag is returned.
func (p *UserProfile) Salient(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	best, bestW := tags[0], -1.0
	for _, t := range tags {
		if w := p.Weight(t); w > bestW {
			best, bestW = t, w
		}
	}
	return best
}

// Baseline is the decayed global document frequency of tags across
// candidate pools. Docs is the number of works observed; DF maps a tag to how
// many of them carried it.
type Baseline struct {
	Docs float64            `json:"docs"`
	DF   map[string]float64 `json:"df"`
}

// IDF is the smoothed inverse document frequency, always >= 1. With no
// observations every tag gets 1.
func (b Baseline) IDF(tag string) float64 {
	if b.Docs <= 0 {
		return 1
	}
	return math.Log((1+b.Docs)/(1+b.DF[tag])) + 1
}

// Observe folds one pool of tag sets into the baseline, decaying prior
// counts by (1-alpha). Tags whose decayed frequency drops below 0.01 are
// forgotten.
func (b Baseline) Observe(tagSets [][]string, alpha float64) Baseline {
	keep := 1 - alpha
	out := Baseline{Docs: b.Docs*keep + float64(len(tagSets)), DF: make(map[string]float64, len(b.DF))}
	for tag, df := range b.DF {
		if v := df * keep; v >= 0.01 {
			out.DF[tag] = v
		}
	}
	for _, tags := range tagSets {
		seen := map[string]bool{}
		for _, t := range tags {
			if !seen[t] {
				seen[t] = true
				out.DF[t]++
			}
		}
	}
	return out
}
