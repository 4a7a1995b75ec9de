// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Outcome statuses for a strategy within one run.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusTimeout = "timeout"
)

// StrategyReport summarizes one strategy's part in a run.
type StrategyReport struct {
	ID        StrategyID     `json:"id"`
	Allocated int            `json:"allocated"`
	Status    string         `json:"status"`
	Produced  int            `json:"produced"`
	Filtered  map[string]int `json:"filtered,omitempty"`
	Delivered int            `json:"delivered"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// RunReport is the user-visible summary of one scheduled run.
type RunReport struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Status     string           `json:"status"`
	Favored    StrategyID       `json:"favored,omitempty"`
	Strategies []StrategyReport `json:"strategies"`
	Delivered  int              `json:"delivered"`
	Deadline   bool             `json:"deadline_hit,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Text renders the report for a chat channel.
func (r RunReport) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s, delivered %d in %s\n",
		shortID(r.ID), r.Status, r.Delivered, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	if r.Deadline {
		b.WriteString("soft deadline reached\n")
	}
	for _, s := range r.Strategies {
		filtered := 0
		for _, n := range s.Filtered {
			filtered += n
		}
		fmt.Fprintf(&b, "- %s [%s] slots %d, produced %d, filtered %d, delivered %d",
			s.ID, s.Status, s.Allocated, s.Produced, filtered, s.Delivered)
		if s.Error != "" {
			fmt.Fprintf(&b, " (%s)", s.Error)
		}
		b.WriteByte('\n')
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", r.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// NamedCount is a label with a count, used in stats listings.
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// StatsReport aggregates the event log over a time window.
type StatsReport struct {
	Since        time.Time      `json:"since"`
	Until        time.Time      `json:"until"`
	Pushed       int            `json:"pushed"`
	Likes        int            `json:"likes"`
	Dislikes     int            `json:"dislikes"`
	Blocks       int            `json:"blocks"`
	LikeRate     float64        `json:"like_rate"`
	TopArtists   []NamedCount   `json:"top_artists"`
	TopLikedTags []NamedCount   `json:"top_liked_tags"`
	Strategies   []StrategyStat `json:"strategies"`
	Pending      []BlockEntry   `json:"pending_blocks,omitempty"`
}

// Text renders the stats for a chat channel.
func (s StatsReport) Text() string {
	var b strings.Builder
	days := int(s.Until.Sub(s.Since).Hours() / 24)
	fmt.Fprintf(&b, "Last %d days: pushed %d, liked %d, disliked %d (like rate %.0f%%)\n",
		days, s.Pushed, s.Likes, s.Dislikes, s.LikeRate*100)
	if len(s.TopArtists) > 0 {
		b.WriteString("Top artists: " + joinCounts(s.TopArtists) + "\n")
	}
	if len(s.TopLikedTags) > 0 {
		b.WriteString("Top liked tags: " + joinCounts(s.TopLikedTags) + "\n")
	}
	for _, st := range s.Strategies {
		fmt.Fprintf(&b, "- %s: %d/%d (%.0f%%)\n", st.ID, st.Successes, st.Attempts, st.SuccessRate(0)*100)
	}
	if len(s.Pending) > 0 {
		fmt.Fprintf(&b, "%d block(s) awaiting confirmation\n", len(s.Pending))
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinCounts(cs []NamedCount) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = fmt.Sprintf("%s (%d)", c.Name, c.Count)
	}
	return strings.Join(parts, ", ")
}

// TopCounts returns the n largest entries of m, ties by name.
func TopCounts(m map[string]int, n int) []NamedCount {
	out := make([]NamedCount, 0, len(m))
	for k, v := range m {
		out = append(out, NamedCount{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
