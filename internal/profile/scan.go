// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package profile

import (
	"sort"
	"strings"

	"github.com/tomtom215/xpfeed/internal/models"
)

// MaxPairs bounds how many co-occurrence pairs are kept per scan.
const MaxPairs = 200

// ScanResult is the histogram of one bookmark scan.
type ScanResult struct {
	Histogram map[string]int
	Pairs     []models.TagPair
	// Spellings counts raw spellings per canonical tag.
	Spellings map[string]map[string]int
	ScanSize  int
}

// Scan counts canonical tags over bookmark tag sets. Each tag counts at most
// once per bookmark. canon maps a raw tag to its canonical form (missing raw
// tags map to themselves); stop words are matched case-insensitively
// against both forms.
func Scan(tagSets [][]string, canon map[string]string, stopWords []string) ScanResult {
	stop := make(map[string]bool, len(stopWords))
	for _, w := range stopWords {
		stop[strings.ToLower(w)] = true
	}

	res := ScanResult{
		Histogram: map[string]int{},
		Spellings: map[string]map[string]int{},
		ScanSize:  len(tagSets),
	}
	pairCounts := map[[2]string]int{}

	for _, tags := range tagSets {
		seen := map[string]bool{}
		var unique []string
		for _, raw := range tags {
			raw = strings.TrimSpace(raw)
			if raw == "" || stop[strings.ToLower(raw)] {
				continue
			}
			c := raw
			if mapped, ok := canon[raw]; ok && mapped != "" {
				c = mapped
			}
			if stop[strings.ToLower(c)] {
				continue
			}
			if res.Spellings[c] == nil {
				res.Spellings[c] = map[string]int{}
			}
			res.Spellings[c][raw]++
			if !seen[c] {
				seen[c] = true
				unique = append(unique, c)
			}
		}
		for _, c := range unique {
			res.Histogram[c]++
		}
		sort.Strings(unique)
		for i := 0; i < len(unique); i++ {
			for j := i + 1; j < len(unique); j++ {
				pairCounts[[2]string{unique[i], unique[j]}]++
			}
		}
	}

	res.Pairs = topPairs(pairCounts, MaxPairs)
	return res
}

func topPairs(counts map[[2]string]int, n int) []models.TagPair {
	out := make([]models.TagPair, 0, len(counts))
	for k, c := range counts {
		if c < 2 {
			continue
		}
		out = append(out, models.TagPair{A: k[0], B: k[1], Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
