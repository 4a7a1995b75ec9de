// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package filter

import (
	"strconv"
	"testing"
	"time"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/models"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func cand(id, artist int64, bookmarks int, tags ...string) models.Candidate {
	title := "work " + strconv.FormatInt(id, 10)
	return models.Candidate{
		WorkID:      id,
		ArtistID:    artist,
		Title:       title,
		Tags:        tags,
		Bookmarks:   bookmarks,
		CreatedAt:   now.Add(-time.Hour),
		Fingerprint: models.Fingerprint(title, tags),
		Strategy:    models.StrategyTagSearch,
		MatchScore:  0.5,
	}
}

func ids(cs []models.Candidate) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.WorkID
	}
	return out
}

func profile() *models.UserProfile {
	return &models.UserProfile{Weights: map[string]models.TagWeight{
		"white_hair": {Tag: "white_hair", Effective: 10},
		"maid":       {Tag: "maid", Effective: 5},
		"rare":       {Tag: "rare", Effective: 1},
	}}
}

// retitled returns c as uploaded under another id, artist and title.
func retitled(c models.Candidate, id, artist int64, title string) models.Candidate {
	c.WorkID, c.ArtistID, c.Title = id, artist, title
	c.Fingerprint = models.Fingerprint(title, c.Tags)
	return c
}

func TestDedupAcrossRuns(t *testing.T) {
	t.Parallel()

	window := 30 * 24 * time.Hour
	old := cand(1, 10, 5000, "white_hair")
	h := models.NewDeliveryHistory()
	// Delivered three runs ago, inside the window.
	h.Add(old, now.Add(-3*24*time.Hour))

	// Another account re-uploads the same piece.
	repost := retitled(old, 2, 99, old.Title)
	expired := cand(3, 11, 5000, "maid")
	h.Add(expired, now.Add(-40*24*time.Hour))
	fresh := cand(4, 12, 5000, "maid", "rare")
	dup := fresh

	kept, dropped := Dedup([]models.Candidate{old, repost, expired, fresh, dup}, h, now.Add(-window))
	if got := ids(kept); len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("kept = %v, want [3 4]", got)
	}
	if len(dropped) != 3 {
		t.Errorf("dropped = %v", ids(dropped))
	}
}

func TestDedupKeepsSeriesFromOneArtist(t *testing.T) {
	t.Parallel()

	page1 := retitled(cand(1, 42, 5000, "white_hair", "sketch"), 1, 42, "Daily sketch #1")
	page2 := retitled(page1, 2, 42, "Daily sketch #2")
	page3 := retitled(page1, 3, 42, "無題")
	page4 := retitled(page1, 4, 42, "無題")
	h := models.NewDeliveryHistory()
	h.Add(page1, now.Add(-time.Hour))

	kept, _ := Dedup([]models.Candidate{page2, page3, page4}, h, now.Add(-24*time.Hour))
	if got := ids(kept); len(got) != 3 {
		t.Errorf("kept = %v, want every page of the series", got)
	}

	repost := retitled(page2, 5, 7, "Daily sketch #2")
	kept, dropped := Dedup([]models.Candidate{page2, repost}, h, now.Add(-24*time.Hour))
	if len(kept) != 1 || len(dropped) != 1 || dropped[0].WorkID != 5 {
		t.Errorf("kept = %v dropped = %v, want the repost dropped", ids(kept), ids(dropped))
	}
}

func TestDedupRunsBeforeThreshold(t *testing.T) {
	t.Parallel()

	c := cand(1, 10, 5000, "white_hair")
	h := models.NewDeliveryHistory()
	h.Add(c, now.Add(-time.Hour))

	f := New(config.Default().Filter)
	f.now = func() time.Time { return now }
	res := f.Apply([]models.Candidate{c}, State{Profile: profile(), History: h}, nil, 10)
	if len(res.Accepted) != 0 {
		t.Fatal("delivered candidate passed")
	}
	reasons := res.Rejected[models.StrategyTagSearch]
	if reasons[ReasonDuplicate] != 1 || reasons[ReasonThreshold] != 0 {
		t.Errorf("rejections = %v, want only duplicate", reasons)
	}
}

func TestExcludeAI(t *testing.T) {
	t.Parallel()

	kw := lowerSet(config.DefaultAIKeywords)
	pool := []models.Candidate{
		{WorkID: 1, AIGenerated: true},
		{WorkID: 2, Tags: []string{"NovelAI"}},
		{WorkID: 3, Tags: []string{"AI生成"}},
		{WorkID: 4, Tags: []string{"AIイラスト"}},
		{WorkID: 5, Tags: []string{"maid", "air"}},
	}
	kept, dropped := ExcludeAI(pool, kw)
	if got := ids(kept); len(got) != 1 || got[0] != 5 {
		t.Errorf("kept = %v, want [5]", got)
	}
	if len(dropped) != 4 {
		t.Errorf("dropped %d, want 4", len(dropped))
	}
}

func TestExcludeBlocked(t *testing.T) {
	t.Parallel()

	pool := []models.Candidate{
		cand(1, 10, 1, "Gore"),
		cand(2, 66, 1, "maid"),
		cand(3, 11, 1, "maid"),
	}
	kept, _ := ExcludeBlocked(pool, map[string]bool{"gore": true}, map[int64]bool{66: true})
	if got := ids(kept); len(got) != 1 || got[0] != 3 {
		t.Errorf("kept = %v", got)
	}
}

func TestRequiredBookmarksMonotonic(t *testing.T) {
	t.Parallel()

	for _, base := range []int{0, 100, 300, 1000, 5000} {
		prev := -1
		for p := 0.0; p <= 1.0001; p += 0.05 {
			got := RequiredBookmarks(base, 100, p)
			if got < prev {
				t.Errorf("base %d: required drops from %d to %d at p=%.2f", base, prev, got, p)
			}
			prev = got
		}
	}
	if got := RequiredBookmarks(1000, 100, 1); got != 1000 {
		t.Errorf("top tag = %d, want full base", got)
	}
	if got := RequiredBookmarks(1000, 100, 0); got != 300 {
		t.Errorf("unknown tag = %d, want 300", got)
	}
	if got := RequiredBookmarks(0, 100, 1); got != 0 {
		t.Errorf("zero base = %d, want 0", got)
	}
}

func TestThresholdFavorsNicheTags(t *testing.T) {
	t.Parallel()

	th := config.Default().Filter.BookmarkThreshold
	pool := []models.Candidate{
		cand(1, 1, 600, "white_hair"), // needs 1000
		cand(2, 2, 600, "rare"),       // needs 370
		cand(3, 3, 1200, "white_hair"),
	}
	sub := cand(4, 4, 0, "white_hair")
	sub.Strategy = models.StrategySubscription
	pool = append(pool, sub)

	kept, _ := Threshold(pool, profile(), th)
	if got := ids(kept); len(got) != 3 || got[0] != 2 || got[1] != 3 || got[2] != 4 {
		t.Errorf("kept = %v, want [2 3 4]", got)
	}
}

func TestGateR18(t *testing.T) {
	t.Parallel()

	ranked := []Scored{
		{Candidate: models.Candidate{WorkID: 1, R18: true}},
		{Candidate: models.Candidate{WorkID: 2}},
		{Candidate: models.Candidate{WorkID: 3, R18: true}},
		{Candidate: models.Candidate{WorkID: 4, R18: true}},
	}
	tests := []struct {
		mode string
		want int
	}{
		{R18Exclude, 1},
		{R18Allow, 4},
		{R18Mixed, 3}, // floor(0.2*10) = 2 R-18 works
	}
	for _, tt := range tests {
		kept, _ := GateR18(ranked, tt.mode, 0.2, 10)
		if len(kept) != tt.want {
			t.Errorf("%s kept %d, want %d", tt.mode, len(kept), tt.want)
		}
	}
	kept, _ := GateR18(ranked, R18Mixed, 0.2, 10)
	if kept[0].WorkID != 1 || kept[2].WorkID != 3 {
		t.Errorf("mixed should keep best-ranked R-18 works: %+v", kept)
	}
}

func TestRankAndTruncate(t *testing.T) {
	t.Parallel()

	st := State{
		Confidence:   map[models.StrategyID]float64{models.StrategyTagSearch: 0.8, models.StrategyRanking: 0.2},
		ArtistScores: map[int64]float64{20: 1},
		Subscribed:   map[int64]bool{},
	}
	cfg := RankConfig{HalfLife: 72 * time.Hour, MatchFloor: 0.05, AffinityWeight: 0.3}

	a := cand(1, 10, 100, "x")
	b := cand(2, 20, 100, "y") // liked artist
	c := cand(3, 30, 100, "z")
	c.CreatedAt = now.Add(-30 * 24 * time.Hour) // stale
	d := cand(4, 40, 100, "w")
	d.Strategy = models.StrategyRanking

	ranked := Rank([]models.Candidate{a, b, c, d}, st, now, cfg)
	order := []int64{ranked[0].WorkID, ranked[1].WorkID, ranked[2].WorkID, ranked[3].WorkID}
	want := []int64{2, 1, 4, 3}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	kept, dropped := Truncate(ranked, map[models.StrategyID]int{models.StrategyTagSearch: 2, models.StrategyRanking: 5}, 3, 10)
	if len(kept) != 3 || len(dropped) != 1 || dropped[0].WorkID != 3 {
		t.Errorf("kept %d dropped %+v", len(kept), dropped)
	}
}

func TestTruncatePerArtistAndLimit(t *testing.T) {
	t.Parallel()

	var ranked []Scored
	for i := int64(1); i <= 8; i++ {
		ranked = append(ranked, Scored{Candidate: cand(i, i%2, 100), Score: float64(10 - i)})
	}
	kept, _ := Truncate(ranked, nil, 3, 5)
	if len(kept) != 5 {
		t.Fatalf("kept %d, want 5", len(kept))
	}
	per := map[int64]int{}
	for _, s := range kept {
		per[s.ArtistID]++
	}
	if per[0] > 3 || per[1] > 3 {
		t.Errorf("artist cap exceeded: %v", per)
	}
}

func TestApplyLeavesCandidatesUnchanged(t *testing.T) {
	t.Parallel()

	f := New(config.Default().Filter)
	f.now = func() time.Time { return now }
	pool := []models.Candidate{cand(1, 1, 5000, "white_hair", "maid"), cand(2, 2, 5000, "rare")}
	before := append([]models.Candidate(nil), pool...)

	res := f.Apply(pool, State{Profile: profile(), History: models.NewDeliveryHistory()}, nil, 1)
	if len(res.Accepted) != 1 {
		t.Fatalf("accepted %d, want 1", len(res.Accepted))
	}
	if res.Rejected[models.StrategyTagSearch][ReasonTruncated] != 1 {
		t.Errorf("rejections = %v", res.Rejected)
	}
	for i := range pool {
		if pool[i].WorkID != before[i].WorkID || pool[i].Bookmarks != before[i].Bookmarks {
			t.Error("pool was modified")
		}
	}
	got := res.Candidates()[0]
	if got.Strategy != models.StrategyTagSearch {
		t.Errorf("accepted candidate = %+v", got)
	}
}
