// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package discovery allocates the per-run budget across discovery
// strategies and runs them.
//
// The allocator is a quota-constrained bandit: shares follow observed
// success rates blended with a uniform exploration floor, then are clamped
// to each strategy's [min_quota, max_quota] bounds. The sum of slots always
// equals the budget exactly.
package discovery

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tomtom215/xpfeed/internal/models"
)

// ErrInfeasibleBounds is returned when no integer allocation can satisfy
// every strategy's bounds for the given budget.
var ErrInfeasibleBounds = errors.New("infeasible quota bounds")

// Plan is one run's allocation.
type Plan struct {
	Limit int                           `json:"limit"`
	Slots map[models.StrategyID]int     `json:"slots"`
	Rates map[models.StrategyID]float64 `json:"rates"`
	// Order is descending success rate; ties go to the least recently
	// favored strategy.
	Order []models.StrategyID `json:"order"`
	// Favored received the rounding remainder.
	Favored models.StrategyID `json:"favored,omitempty"`
}

// Allocator computes Plans.
type Allocator struct {
	// DiscoveryRate is the share of the budget spread uniformly.
	DiscoveryRate float64
	// Prior is the success rate assumed for untried strategies.
	Prior float64
}

// Bounds returns the integer slot bounds of s for budget limit.
func Bounds(s models.StrategyStat, limit int) (lo, hi int) {
	const eps = 1e-9
	lo = int(math.Floor(s.MinQuota*float64(limit) + eps))
	hi = int(math.Ceil(s.MaxQuota*float64(limit) - eps))
	if hi > limit {
		hi = limit
	}
	return lo, hi
}

// Allocate distributes limit slots across stats.
func (a Allocator) Allocate(stats []models.StrategyStat, limit int) (Plan, error) {
	plan := Plan{
		Limit: limit,
		Slots: make(map[models.StrategyID]int, len(stats)),
		Rates: make(map[models.StrategyID]float64, len(stats)),
	}
	if len(stats) == 0 {
		return plan, fmt.Errorf("%w: no strategies", ErrInfeasibleBounds)
	}
	if limit <= 0 {
		return plan, fmt.Errorf("budget must be positive, got %d", limit)
	}

	n := len(stats)
	lo := make([]int, n)
	hi := make([]int, n)
	rates := make([]float64, n)
	sumLo, sumHi, sumRate := 0, 0, 0.0
	for i, s := range stats {
		lo[i], hi[i] = Bounds(s, limit)
		if lo[i] > hi[i] {
			return plan, fmt.Errorf("%w: %s min_quota %.3f exceeds max_quota %.3f", ErrInfeasibleBounds, s.ID, s.MinQuota, s.MaxQuota)
		}
		rates[i] = s.SuccessRate(a.Prior)
		plan.Rates[s.ID] = rates[i]
		sumLo += lo[i]
		sumHi += hi[i]
		sumRate += rates[i]
	}
	if sumLo > limit || sumHi < limit {
		return plan, fmt.Errorf("%w: slot bounds [%d,%d] cannot sum to %d", ErrInfeasibleBounds, sumLo, sumHi, limit)
	}

	order := rankOrder(stats, rates)
	for _, i := range order {
		plan.Order = append(plan.Order, stats[i].ID)
	}

	d := clamp01(a.DiscoveryRate)
	slots := make([]int, n)
	total := 0
	for i := range stats {
		share := d / float64(n)
		if sumRate > 0 {
			share += (1 - d) * rates[i] / sumRate
		} else {
			share += (1 - d) / float64(n)
		}
		slots[i] = clampInt(int(math.Floor(share*float64(limit))), lo[i], hi[i])
		total += slots[i]
	}

	// Hand the remainder to the best strategy first, spilling down the order.
	for _, i := range order {
		if total >= limit {
			break
		}
		add := min(limit-total, hi[i]-slots[i])
		if add > 0 {
			if plan.Favored == "" {
				plan.Favored = stats[i].ID
			}
			slots[i] += add
			total += add
		}
	}
	// Floors pushed the total over budget: take back from the worst first.
	for k := len(order) - 1; k >= 0 && total > limit; k-- {
		i := order[k]
		take := min(total-limit, slots[i]-lo[i])
		slots[i] -= take
		total -= take
	}

	for i, s := range stats {
		plan.Slots[s.ID] = slots[i]
	}
	return plan, nil
}

// rankOrder sorts indexes by rate desc, then least recently favored, then id.
func rankOrder(stats []models.StrategyStat, rates []float64) []int {
	order := make([]int, len(stats))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		i, j := order[x], order[y]
		if rates[i] != rates[j] {
			return rates[i] > rates[j]
		}
		if !stats[i].LastFavoredAt.Equal(stats[j].LastFavoredAt) {
			return stats[i].LastFavoredAt.Before(stats[j].LastFavoredAt)
		}
		return stats[i].ID < stats[j].ID
	})
	return order
}

// MarkFavored stamps the favored strategy so ties rotate on later runs.
func MarkFavored(stats []models.StrategyStat, favored models.StrategyID, at time.Time) []models.StrategyStat {
	out := append([]models.StrategyStat(nil), stats...)
	for i := range out {
		if out[i].ID == favored {
			out[i].LastFavoredAt = at
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
