// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package profile

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/store"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuildDiscountThenBoost(t *testing.T) {
	t.Parallel()

	p := Build(Input{
		Histogram: map[string]int{"blue_archive": 400, "white_hair": 50},
		ScanSize:  500,
		IPTags:    map[string]bool{"blue_archive": true},
	}, Options{
		Mode:       NormalizeRaw,
		IPDiscount: 0.1,
		Boosts:     map[string]float64{"white_hair": 1.5},
	}, testNow)

	if got := p.Weight("blue_archive"); !approx(got, 40) {
		t.Errorf("blue_archive = %g, want 40", got)
	}
	if got := p.Weight("white_hair"); !approx(got, 75) {
		t.Errorf("white_hair = %g, want 75", got)
	}
	ranked := p.Ranked()
	if ranked[0].Tag != "white_hair" {
		t.Errorf("top tag = %s, want white_hair", ranked[0].Tag)
	}
	if p.Weights["blue_archive"].Category != models.TagCopyright {
		t.Error("blue_archive should be categorized as copyright")
	}
}

func TestBuildProperties(t *testing.T) {
	t.Parallel()

	hist := map[string]int{"a": 10, "b": 3, "c": 1, "ip": 7}
	ip := map[string]bool{"ip": true}
	for _, mode := range []Normalization{NormalizeRaw, NormalizeRelative, NormalizeTFIDF} {
		for _, discount := range []float64{0, 0.3, 1} {
			for _, boost := range []float64{0, 0.5, 2} {
				opts := Options{Mode: mode, IPDiscount: discount, Boosts: map[string]float64{"ip": boost, "new": boost}}
				in := Input{Histogram: hist, ScanSize: 20, IPTags: ip,
					Baseline: models.Baseline{Docs: 100, DF: map[string]float64{"a": 90}}}
				p := Build(in, opts, testNow)
				for tag, tw := range p.Weights {
					if tw.Effective < 0 {
						t.Errorf("%s/%g/%g: %s effective %g < 0", mode, discount, boost, tag, tw.Effective)
					}
				}
				got := p.Weights["ip"]
				if want := got.Normalized * discount * boost; !approx(got.Effective, want) {
					t.Errorf("%s: ip effective = %g, want normalized*discount*boost = %g", mode, got.Effective, want)
				}
				// Same inputs, same output.
				again := Build(in, opts, testNow)
				for tag, tw := range p.Weights {
					if again.Weights[tag] != tw {
						t.Errorf("Build not deterministic for %s", tag)
					}
				}
			}
		}
	}
}

func TestBuildInjectsBoostTags(t *testing.T) {
	t.Parallel()

	p := Build(Input{
		Histogram: map[string]int{"maid": 4},
		ScanSize:  10,
		IPTags:    map[string]bool{"genshin_impact": true},
	}, Options{
		Mode:       NormalizeRelative,
		IPDiscount: 0.5,
		Boosts:     map[string]float64{"twintails": 3, "genshin_impact": 2},
	}, testNow)

	tw, ok := p.Weights["twintails"]
	if !ok || !tw.Injected {
		t.Fatalf("twintails not injected: %+v", tw)
	}
	if !approx(tw.Normalized, 0.1) || !approx(tw.Effective, 0.3) {
		t.Errorf("twintails = %+v, want normalized 0.1 effective 0.3", tw)
	}
	// Injection happens after the discount step.
	if got := p.Weights["genshin_impact"].Effective; !approx(got, 0.2) {
		t.Errorf("genshin_impact = %g, want 0.2", got)
	}
	if p.Weights["maid"].Injected {
		t.Error("maid came from history, not injection")
	}
}

func TestBuildTFIDFPenalizesCommonTags(t *testing.T) {
	t.Parallel()

	in := Input{
		Histogram: map[string]int{"common": 5, "rare": 5},
		ScanSize:  10,
		Baseline:  models.Baseline{Docs: 1000, DF: map[string]float64{"common": 900, "rare": 3}},
	}
	p := Build(in, Options{Mode: NormalizeTFIDF, IPDiscount: 1}, testNow)
	if p.Weight("rare") <= p.Weight("common") {
		t.Errorf("rare %g should outweigh common %g", p.Weight("rare"), p.Weight("common"))
	}

	empty := Build(Input{Histogram: in.Histogram, ScanSize: 10}, Options{Mode: NormalizeTFIDF, IPDiscount: 1}, testNow)
	rel := Build(Input{Histogram: in.Histogram, ScanSize: 10}, Options{Mode: NormalizeRelative, IPDiscount: 1}, testNow)
	if !approx(empty.Weight("rare"), rel.Weight("rare")) {
		t.Error("tfidf without a baseline should equal relative")
	}
}

func TestParseNormalization(t *testing.T) {
	t.Parallel()

	if _, err := ParseNormalization("log"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if n, err := ParseNormalization("tfidf"); err != nil || n != NormalizeTFIDF {
		t.Errorf("ParseNormalization(tfidf) = %q, %v", n, err)
	}
}

func TestScan(t *testing.T) {
	t.Parallel()

	sets := [][]string{
		{"白髪", "メイド", "オリジナル"},
		{"white hair", "maid", "白髪"},
		{"白髪", "メイド"},
		{"sky"},
	}
	canon := map[string]string{"白髪": "white_hair", "white hair": "white_hair", "メイド": "maid"}
	res := Scan(sets, canon, []string{"オリジナル"})

	if res.ScanSize != 4 {
		t.Errorf("ScanSize = %d", res.ScanSize)
	}
	// Counted once per bookmark even with two spellings.
	if res.Histogram["white_hair"] != 3 {
		t.Errorf("white_hair = %d, want 3", res.Histogram["white_hair"])
	}
	if res.Histogram["maid"] != 3 {
		t.Errorf("maid = %d, want 3", res.Histogram["maid"])
	}
	if _, ok := res.Histogram["オリジナル"]; ok {
		t.Error("stop word counted")
	}
	if res.Spellings["white_hair"]["白髪"] != 3 || res.Spellings["white_hair"]["white hair"] != 1 {
		t.Errorf("spellings = %v", res.Spellings["white_hair"])
	}
	if len(res.Pairs) != 1 || res.Pairs[0] != (models.TagPair{A: "maid", B: "white_hair", Count: 3}) {
		t.Errorf("pairs = %+v", res.Pairs)
	}
}

func TestExpander(t *testing.T) {
	t.Parallel()

	e := NewExpander(map[string][]string{"sky": {"空", "sky"}}, map[string]string{"maid": "メイド服", "sky": "空"})

	tests := map[string]string{
		"white_hair": "(白髪 OR 銀髪 OR white_hair)",
		"sky":        "(空 OR sky)",
		"maid":       "(メイド OR メイド服)",
		"unknown":    "unknown",
	}
	for tag, want := range tests {
		if got := e.Query(tag); got != want {
			t.Errorf("Query(%s) = %q, want %q", tag, got, want)
		}
	}

	if !e.Redundant("arknights", "明日方舟") {
		t.Error("aliases of the same franchise should be redundant")
	}
	if !e.Redundant("white_hair", "white_hair") {
		t.Error("identical tags should be redundant")
	}
	if e.Redundant("white_hair", "maid") {
		t.Error("distinct tags should not be redundant")
	}
}

type fakeNormalizer struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeNormalizer) Normalize(_ context.Context, raw []string) (map[string]string, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errors.New("upstream down")
	}
	out := map[string]string{}
	for _, r := range raw {
		out[r] = strings.ReplaceAll(strings.ToLower(r), " ", "_")
	}
	return out, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCanonicalizerCachesResults(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	norm := &fakeNormalizer{}
	c := NewCanonicalizer(norm, st, config.NormalizerConfig{Enabled: true, BatchSize: 2, MaxConcurrency: 2})

	got, err := c.Canonicalize(context.Background(), []string{"White Hair", "Maid", "Sky", "Maid"})
	if err != nil {
		t.Fatal(err)
	}
	if got["White Hair"] != "white_hair" || got["Sky"] != "sky" {
		t.Errorf("got %v", got)
	}
	if n := norm.calls.Load(); n != 2 {
		t.Errorf("normalizer calls = %d, want 2 batches", n)
	}

	if _, err := c.Canonicalize(context.Background(), []string{"White Hair", "Sky"}); err != nil {
		t.Fatal(err)
	}
	if n := norm.calls.Load(); n != 2 {
		t.Errorf("cached tags hit the normalizer again: %d calls", n)
	}
}

func TestCanonicalizerFallsBackToRaw(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	norm := &fakeNormalizer{fail: true}
	c := NewCanonicalizer(norm, st, config.NormalizerConfig{Enabled: true, BatchSize: 10, MaxConcurrency: 1})

	got, err := c.Canonicalize(context.Background(), []string{"White Hair"})
	if err != nil {
		t.Fatalf("failure must not surface: %v", err)
	}
	if got["White Hair"] != "White Hair" {
		t.Errorf("fallback = %q, want raw tag", got["White Hair"])
	}

	// Failed lookups are not cached.
	norm.fail = false
	got, _ = c.Canonicalize(context.Background(), []string{"White Hair"})
	if got["White Hair"] != "white_hair" {
		t.Errorf("retry = %q, want white_hair", got["White Hair"])
	}
}

func TestCanonicalizerDisabledIsIdentity(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	norm := &fakeNormalizer{}
	c := NewCanonicalizer(norm, st, config.NormalizerConfig{Enabled: false})
	got, err := c.Canonicalize(context.Background(), []string{"A B"})
	if err != nil || got["A B"] != "A B" {
		t.Errorf("got %v, %v", got, err)
	}
	if norm.calls.Load() != 0 {
		t.Error("disabled normalizer was called")
	}
}

type fakeBookmarks struct {
	works []models.Candidate
	err   error
}

func (f *fakeBookmarks) Bookmarks(context.Context, int, bool) ([]models.Candidate, error) {
	return f.works, f.err
}

func TestBuilderRebuild(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	err := st.Mutate(context.Background(), "seed", func(tx *store.Tx) error {
		if err := tx.PutIPTags([]string{"blue_archive"}); err != nil {
			return err
		}
		return tx.PutBoost("maid", 2)
	})
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeBookmarks{works: []models.Candidate{
		{WorkID: 1, Tags: []string{"blue_archive", "white_hair"}},
		{WorkID: 2, Tags: []string{"blue_archive", "white_hair", "maid"}},
		{WorkID: 3, Tags: []string{"blue_archive"}},
	}}
	cfg := config.Default().Profile
	cfg.Normalization = "raw"
	cfg.IPWeightDiscount = 0.5
	b := NewBuilder(src, nil, st, cfg)
	b.now = func() time.Time { return testNow }

	p, err := b.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if got := p.Weight("blue_archive"); !approx(got, 1.5) {
		t.Errorf("blue_archive = %g, want 3*0.5", got)
	}
	if got := p.Weight("maid"); !approx(got, 2) {
		t.Errorf("maid = %g, want 1*2 from stored override", got)
	}

	stored, err := b.Current()
	if err != nil {
		t.Fatal(err)
	}
	if !stored.BuiltAt.Equal(testNow) || len(stored.Weights) != 3 {
		t.Errorf("stored profile = %+v", stored)
	}

	var pairs []models.TagPair
	var events []models.Event
	_ = st.View(func(tx *store.Tx) error {
		pairs, _ = tx.Pairs()
		events, _ = tx.Events(time.Time{})
		return nil
	})
	if len(pairs) != 1 || pairs[0].A != "blue_archive" || pairs[0].B != "white_hair" {
		t.Errorf("pairs = %+v", pairs)
	}
	if len(events) != 1 || events[0].Type != models.EventProfileBuilt {
		t.Errorf("events = %+v", events)
	}

	// Source failure falls back to the stored profile.
	src.err = errors.New("down")
	again, err := b.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("fallback Rebuild: %v", err)
	}
	if !approx(again.Weight("blue_archive"), 1.5) {
		t.Error("fallback profile differs from stored one")
	}
}

func TestBuilderNoProfileAndSourceDown(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	b := NewBuilder(&fakeBookmarks{err: errors.New("down")}, nil, st, config.Default().Profile)
	if _, err := b.Rebuild(context.Background()); err == nil {
		t.Fatal("expected error with no stored profile")
	}
}
