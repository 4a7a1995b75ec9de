// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package discovery

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/xpfeed/internal/models"
)

func stat(id models.StrategyID, attempts, successes int, lo, hi float64) models.StrategyStat {
	return models.StrategyStat{ID: id, Attempts: attempts, Successes: successes, MinQuota: lo, MaxQuota: hi}
}

func sumSlots(p Plan) int {
	total := 0
	for _, n := range p.Slots {
		total += n
	}
	return total
}

func TestAllocateThreeStrategies(t *testing.T) {
	t.Parallel()

	stats := []models.StrategyStat{
		stat(models.StrategyTagSearch, 100, 90, 0.2, 0.6),
		stat(models.StrategyRanking, 100, 5, 0.2, 0.6),
		stat(models.StrategyExplore, 0, 0, 0.2, 0.6),
	}
	plan, err := Allocator{DiscoveryRate: 0.1, Prior: 0.5}.Allocate(stats, 20)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got := sumSlots(plan); got != 20 {
		t.Errorf("sum = %d, want 20", got)
	}
	for id, n := range plan.Slots {
		if n < 4 || n > 12 {
			t.Errorf("%s got %d slots, want 4..12", id, n)
		}
	}
	if plan.Order[0] != models.StrategyTagSearch {
		t.Errorf("order = %v, want tag_search first", plan.Order)
	}
	if plan.Slots[models.StrategyTagSearch] < plan.Slots[models.StrategyRanking] {
		t.Errorf("better strategy got fewer slots: %v", plan.Slots)
	}
}

func TestAllocateProperties(t *testing.T) {
	t.Parallel()

	limits := []int{1, 3, 7, 20, 33, 100}
	bounds := [][2]float64{{0, 1}, {0.05, 0.5}, {0.1, 0.4}, {0.15, 0.3}}
	histories := [][2]int{{0, 0}, {10, 0}, {10, 10}, {50, 7}, {3, 1}, {1000, 999}}

	for _, limit := range limits {
		for _, b := range bounds {
			var stats []models.StrategyStat
			for i, id := range models.AllStrategies {
				h := histories[i%len(histories)]
				stats = append(stats, stat(id, h[0], h[1], b[0], b[1]))
			}
			name := fmt.Sprintf("L=%d/[%g,%g]", limit, b[0], b[1])
			plan, err := Allocator{DiscoveryRate: 0.1, Prior: 0.5}.Allocate(stats, limit)
			if err != nil {
				if !errors.Is(err, ErrInfeasibleBounds) {
					t.Errorf("%s: unexpected error %v", name, err)
				}
				continue
			}
			if got := sumSlots(plan); got != limit {
				t.Errorf("%s: sum = %d", name, got)
			}
			for _, s := range stats {
				lo, hi := Bounds(s, limit)
				if n := plan.Slots[s.ID]; n < lo || n > hi {
					t.Errorf("%s: %s = %d outside [%d,%d]", name, s.ID, n, lo, hi)
				}
			}
		}
	}
}

func TestAllocateZeroSuccessKeepsFloor(t *testing.T) {
	t.Parallel()

	stats := []models.StrategyStat{
		stat(models.StrategyTagSearch, 50, 50, 0.1, 0.9),
		stat(models.StrategyExplore, 50, 0, 0.1, 0.9),
	}
	plan, err := Allocator{DiscoveryRate: 0, Prior: 0.5}.Allocate(stats, 20)
	if err != nil {
		t.Fatal(err)
	}
	if n := plan.Slots[models.StrategyExplore]; n < 2 {
		t.Errorf("explore = %d, want at least floor 2", n)
	}
	if sumSlots(plan) != 20 {
		t.Errorf("sum = %d", sumSlots(plan))
	}
}

func TestAllocateInfeasible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		stats []models.StrategyStat
	}{
		{"mins over budget", []models.StrategyStat{
			stat(models.StrategyTagSearch, 0, 0, 0.6, 1),
			stat(models.StrategyRanking, 0, 0, 0.6, 1),
		}},
		{"maxes under budget", []models.StrategyStat{
			stat(models.StrategyTagSearch, 0, 0, 0, 0.3),
			stat(models.StrategyRanking, 0, 0, 0, 0.3),
		}},
		{"min over max", []models.StrategyStat{
			stat(models.StrategyTagSearch, 0, 0, 0.8, 0.2),
		}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Allocator{Prior: 0.5}.Allocate(tt.stats, 20)
			if !errors.Is(err, ErrInfeasibleBounds) {
				t.Errorf("err = %v, want ErrInfeasibleBounds", err)
			}
		})
	}
}

func TestAllocateRemainderTieBreak(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	stats := []models.StrategyStat{
		stat(models.StrategyTagSearch, 0, 0, 0, 1),
		stat(models.StrategyRanking, 0, 0, 0, 1),
		stat(models.StrategySocial, 0, 0, 0, 1),
	}
	stats[0].LastFavoredAt = now
	stats[1].LastFavoredAt = now.Add(-time.Hour)

	plan, err := Allocator{DiscoveryRate: 0.1, Prior: 0.5}.Allocate(stats, 10)
	if err != nil {
		t.Fatal(err)
	}
	// Never favored sorts first, then the oldest.
	want := []models.StrategyID{models.StrategySocial, models.StrategyRanking, models.StrategyTagSearch}
	for i, id := range want {
		if plan.Order[i] != id {
			t.Fatalf("order = %v, want %v", plan.Order, want)
		}
	}
	if plan.Favored != models.StrategySocial {
		t.Errorf("favored = %s, want social", plan.Favored)
	}
	if plan.Slots[models.StrategySocial] != 4 {
		t.Errorf("social = %d, want 3 + remainder 1", plan.Slots[models.StrategySocial])
	}

	rotated := MarkFavored(stats, plan.Favored, now.Add(time.Hour))
	next, _ := Allocator{DiscoveryRate: 0.1, Prior: 0.5}.Allocate(rotated, 10)
	if next.Favored != models.StrategyRanking {
		t.Errorf("next favored = %s, want ranking", next.Favored)
	}
}

func TestSearchThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base, floor int
		weight      float64
		pair        bool
		want        int
	}{
		{1000, 100, 1, false, 1000},
		{1000, 100, 0.5, false, 500},
		{1000, 100, 0.1, false, 300},
		{1000, 100, 1, true, 500},
		{200, 100, 0.1, false, 100},
		{0, 100, 1, false, 0},
	}
	for _, tt := range tests {
		if got := SearchThreshold(tt.base, tt.floor, tt.weight, tt.pair); got != tt.want {
			t.Errorf("SearchThreshold(%d,%d,%g,%v) = %d, want %d", tt.base, tt.floor, tt.weight, tt.pair, got, tt.want)
		}
	}
}
