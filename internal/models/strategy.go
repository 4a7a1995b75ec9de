// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package models

import "time"

// StrategyStat holds bandit statistics for one strategy.
type StrategyStat struct {
	ID            StrategyID `json:"id"`
	Attempts      int        `json:"attempts"`
	Successes     int        `json:"successes"`
	MinQuota      float64    `json:"min_quota"`
	MaxQuota      float64    `json:"max_quota"`
	LastFavoredAt time.Time  `json:"last_favored_at"`
}

// SuccessRate returns successes/attempts, or prior when nothing was attempted.
func (s StrategyStat) SuccessRate(prior float64) float64 {
	if s.Attempts <= 0 {
		return prior
	}
	r := float64(s.Successes) / float64(s.Attempts)
	if r > 1 {
		return 1
	}
	return r
}

// Confidence is a Laplace-smoothed success rate in (0,1), used to rank
// candidates by the strategy that produced them.
func (s StrategyStat) Confidence() float64 {
	return (float64(s.Successes) + 1) / (float64(s.Attempts) + 2)
}
