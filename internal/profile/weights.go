// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package profile turns bookmark history into the taste profile.
//
// Build is a pure function of the histogram and options. The weight of each
// tag goes through three multiplicative steps in fixed order: normalization,
// the copyright discount, then the boost. Everything else in this package
// (Scan, Canonicalizer, Builder) only prepares Build's inputs or persists its
// output.
package profile

import (
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/xpfeed/internal/models"
)

// Normalization selects how raw frequency becomes a relative weight.
type Normalization string

const (
	NormalizeRaw      Normalization = "raw"
	NormalizeRelative Normalization = "relative"
	NormalizeTFIDF    Normalization = "tfidf"
)

// ParseNormalization validates a configured mode.
func ParseNormalization(s string) (Normalization, error) {
	switch n := Normalization(s); n {
	case NormalizeRaw, NormalizeRelative, NormalizeTFIDF:
		return n, nil
	default:
		return "", fmt.Errorf("unknown normalization %q", s)
	}
}

// Input is the raw material for a profile.
type Input struct {
	Histogram map[string]int
	ScanSize  int
	IPTags    map[string]bool
	Baseline  models.Baseline
}

// Options are the configured weight-model knobs.
type Options struct {
	Mode       Normalization
	IPDiscount float64
	Boosts     map[string]float64
}

// Build computes the profile. The result depends only on in and opts.
func Build(in Input, opts Options, now time.Time) models.UserProfile {
	p := models.UserProfile{
		Weights:  make(map[string]models.TagWeight, len(in.Histogram)+len(opts.Boosts)),
		ScanSize: in.ScanSize,
		BuiltAt:  now,
	}

	for tag, freq := range in.Histogram {
		if freq <= 0 {
			continue
		}
		tw := models.TagWeight{
			Tag:          tag,
			RawFrequency: freq,
			Category:     category(tag, in.IPTags),
			Normalized:   normalize(float64(freq), tag, in, opts.Mode),
		}
		w := tw.Normalized
		if tw.Category == models.TagCopyright {
			w *= opts.IPDiscount
		}
		tw.Effective = boost(w, tag, opts.Boosts)
		p.Weights[tag] = tw
	}

	// Boosted tags missing from the history enter at the weight of a single
	// occurrence, after the discount step.
	for tag := range opts.Boosts {
		if _, ok := p.Weights[tag]; ok {
			continue
		}
		floor := normalize(1, tag, in, opts.Mode)
		p.Weights[tag] = models.TagWeight{
			Tag:        tag,
			Category:   category(tag, in.IPTags),
			Normalized: floor,
			Effective:  boost(floor, tag, opts.Boosts),
			Injected:   true,
		}
	}
	return p
}

func category(tag string, ip map[string]bool) models.TagCategory {
	if ip[tag] {
		return models.TagCopyright
	}
	return models.TagVisual
}

func normalize(freq float64, tag string, in Input, mode Normalization) float64 {
	switch mode {
	case NormalizeRaw:
		return freq
	case NormalizeTFIDF:
		return relative(freq, in.ScanSize) * in.Baseline.IDF(tag)
	default:
		return relative(freq, in.ScanSize)
	}
}

func relative(freq float64, scanSize int) float64 {
	if scanSize <= 0 {
		return freq
	}
	return freq / float64(scanSize)
}

func boost(w float64, tag string, boosts map[string]float64) float64 {
	if m, ok := boosts[tag]; ok {
		w *= m
	}
	if w < 0 || math.IsNaN(w) {
		return 0
	}
	return w
}
