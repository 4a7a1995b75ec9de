// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package models

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// StrategyID names one discovery strategy variant.
type StrategyID string

// The closed set of discovery strategies.
const (
	StrategyTagSearch    StrategyID = "tag_search"
	StrategySubscription StrategyID = "subscription"
	StrategyRanking      StrategyID = "ranking"
	StrategySocial       StrategyID = "social"
	StrategyRelated      StrategyID = "related"
	StrategyExplore      StrategyID = "explore"
)

// AllStrategies lists every known strategy in a stable order.
var AllStrategies = []StrategyID{
	StrategyTagSearch,
	StrategySubscription,
	StrategyRanking,
	StrategySocial,
	StrategyRelated,
	StrategyExplore,
}

// Valid reports whether id is one of the known strategies.
func (id StrategyID) Valid() bool {
	for _, s := range AllStrategies {
		if s == id {
			return true
		}
	}
	return false
}

// Candidate is a work proposed for delivery. Once a strategy returns it, it is
// treated as immutable.
type Candidate struct {
	WorkID      int64      `json:"work_id"`
	ArtistID    int64      `json:"artist_id"`
	ArtistName  string     `json:"artist_name,omitempty"`
	Title       string     `json:"title,omitempty"`
	Tags        []string   `json:"tags"`
	Bookmarks   int        `json:"bookmarks"`
	CreatedAt   time.Time  `json:"created_at"`
	Fingerprint string     `json:"fingerprint"`
	AIGenerated bool       `json:"ai_generated"`
	R18         bool       `json:"r18"`
	PageCount   int        `json:"page_count,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Strategy    StrategyID `json:"strategy"`
	MatchScore  float64    `json:"match_score"`
}

// WithOrigin returns a copy of c stamped with the producing strategy and its
// profile match. Strategies call this while building their result, before the
// candidate leaves them.
//
//nolint:gocritic // value receiver keeps the original untouched
func (c Candidate) WithOrigin(strategy StrategyID, match float64) Candidate {
	c.Strategy = strategy
	c.MatchScore = match
	c.Tags = append([]string(nil), c.Tags...)
	return c
}

// untitled are placeholder titles shared by unrelated works.
var untitled = map[string]bool{
	"":         true,
	"untitled": true,
	"無題":       true,
	"无题":       true,
	"no title": true,
}

// Fingerprint derives a content signature from the title and the normalized
// tag set. The uploading account is left out: a repost under another account
// keeps the title and tags, while pages of one artist's series differ in
// title. Works with a placeholder title get no fingerprint and are deduplicated
// by id only. Bookmark-count tags such as "1000users入り" are ignored, since
// they depend on the upload's popularity rather than its content.
func Fingerprint(title string, tags []string) string {
	t := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	if untitled[t] {
		return ""
	}
	norm := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" && !strings.HasSuffix(tag, "users入り") {
			norm = append(norm, tag)
		}
	}
	sort.Strings(norm)
	h := xxhash.New()
	_, _ = h.WriteString(t)
	for _, tag := range norm {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(tag)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
