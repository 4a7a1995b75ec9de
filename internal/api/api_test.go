// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/xpfeed/internal/discovery"
	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/store"
)

type fakePipeline struct {
	mu      sync.Mutex
	busy    bool
	runs    chan struct{}
	reports []models.RunReport
	window  time.Duration
}

func (p *fakePipeline) Run(context.Context) (models.RunReport, error) {
	p.runs <- struct{}{}
	return models.RunReport{ID: "r1", Status: models.StatusOK}, nil
}

func (p *fakePipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

func (p *fakePipeline) Reports(limit int) ([]models.RunReport, error) {
	return p.reports[:min(limit, len(p.reports))], nil
}

func (p *fakePipeline) Stats(window time.Duration) (models.StatsReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window = window
	return models.StatsReport{Pushed: 3, Likes: 1}, nil
}

func (p *fakePipeline) Preview() ([]models.StrategyStat, discovery.Plan, error) {
	return []models.StrategyStat{{ID: models.StrategyTagSearch}},
		discovery.Plan{Limit: 20, Slots: map[models.StrategyID]int{models.StrategyTagSearch: 20}}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.FeedbackEvent
}

func (p *fakePublisher) PublishFeedback(_ context.Context, ev models.FeedbackEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type fakeBlocks struct {
	mu       sync.Mutex
	state    models.BlockState
	commands []models.BlockCommand
}

func (b *fakeBlocks) Blocks(state models.BlockState) ([]models.BlockEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	return []models.BlockEntry{{Kind: models.SubjectTag, Subject: "guro", State: models.BlockPendingConfirmation}}, nil
}

func (b *fakeBlocks) Apply(_ context.Context, cmd models.BlockCommand) (models.BlockEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, cmd)
	if cmd.Subject == "unknown" {
		return models.BlockEntry{}, fmt.Errorf("block_confirm tag unknown: %w", models.ErrInvalidTransition)
	}
	return models.BlockEntry{Kind: cmd.Kind, Subject: cmd.Subject, State: models.BlockBlocked}, nil
}

type fakeProfile struct {
	p   models.UserProfile
	err error
}

func (f fakeProfile) Current() (models.UserProfile, error) { return f.p, f.err }

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *ErrorBody      `json:"error"`
}

type testAPI struct {
	handler   http.Handler
	pipeline  *fakePipeline
	publisher *fakePublisher
	blocks    *fakeBlocks
	store     *store.Store
}

func newTestAPI(t *testing.T, prof ProfileReader) *testAPI {
	t.Helper()
	st, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if prof == nil {
		prof = fakeProfile{err: fmt.Errorf("no profile built yet: %w", store.ErrNotFound)}
	}
	a := &testAPI{
		pipeline:  &fakePipeline{runs: make(chan struct{}, 1), reports: []models.RunReport{{ID: "r0", Status: models.StatusOK}}},
		publisher: &fakePublisher{},
		blocks:    &fakeBlocks{},
		store:     st,
	}
	h := NewHandler(Deps{
		Pipeline:         a.pipeline,
		Publisher:        a.publisher,
		Blocks:           a.blocks,
		Profile:          prof,
		Store:            st,
		ConfiguredBoosts: map[string]float64{"white_hair": 1.5},
		RunTimeout:       time.Minute,
	})
	mw := DefaultMiddlewareConfig()
	mw.RateLimitDisabled = true
	a.handler = newRouter(h, mw)
	return a
}

func (a *testAPI) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	rec, env := a.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health HealthStatus
	if err := json.Unmarshal(env.Data, &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" || health.LastRun == nil || health.LastRun.ID != "r0" {
		t.Errorf("health = %+v", health)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestTriggerRun(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	rec, env := a.do(t, http.MethodPost, "/api/v1/runs", "")
	if rec.Code != http.StatusAccepted || env.Status != "accepted" {
		t.Fatalf("status = %d %q, want 202 accepted", rec.Code, env.Status)
	}
	select {
	case <-a.pipeline.runs:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not started")
	}

	a.pipeline.mu.Lock()
	a.pipeline.busy = true
	a.pipeline.mu.Unlock()
	rec, env = a.do(t, http.MethodPost, "/api/v1/runs", "")
	if rec.Code != http.StatusConflict || env.Error == nil || env.Error.Code != "RUN_IN_PROGRESS" {
		t.Errorf("busy trigger = %d %+v, want 409 RUN_IN_PROGRESS", rec.Code, env.Error)
	}
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	for _, q := range []string{"limit=0", "limit=abc", "limit=501"} {
		rec, _ := a.do(t, http.MethodGet, "/api/v1/runs?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
	rec, _ := a.do(t, http.MethodGet, "/api/v1/runs?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestSubmitFeedback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"like", `{"work_id": 42, "action": "like"}`, http.StatusAccepted, ""},
		{"uppercase action", `{"work_id": 43, "action": "DISLIKE"}`, http.StatusAccepted, ""},
		{"missing work id", `{"action": "like"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown action", `{"work_id": 1, "action": "love"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown field", `{"work_id": 1, "action": "like", "rating": 5}`, http.StatusBadRequest, "INVALID_BODY"},
		{"empty body", ``, http.StatusBadRequest, "INVALID_BODY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAPI(t, nil)
			rec, env := a.do(t, http.MethodPost, "/api/v1/feedback", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr != "" {
				if env.Error == nil || env.Error.Code != tt.wantErr {
					t.Errorf("error = %+v, want %s", env.Error, tt.wantErr)
				}
				return
			}
			a.publisher.mu.Lock()
			defer a.publisher.mu.Unlock()
			if len(a.publisher.events) != 1 || a.publisher.events[0].Channel != "api" {
				t.Errorf("published = %+v", a.publisher.events)
			}
		})
	}
}

func TestListBlocksState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query    string
		wantCode int
		want     models.BlockState
	}{
		{"", http.StatusOK, models.BlockPendingConfirmation},
		{"?state=blocked", http.StatusOK, models.BlockBlocked},
		{"?state=all", http.StatusOK, ""},
		{"?state=gone", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			a := newTestAPI(t, nil)
			rec, _ := a.do(t, http.MethodGet, "/api/v1/blocks"+tt.query, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && a.blocks.state != tt.want {
				t.Errorf("listed state %q, want %q", a.blocks.state, tt.want)
			}
		})
	}
}

func TestBlockDecisions(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	rec, env := a.do(t, http.MethodPost, "/api/v1/blocks/confirm", `{"kind": "tag", "subject": "guro"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d (%s)", rec.Code, rec.Body.String())
	}
	var entry models.BlockEntry
	if err := json.Unmarshal(env.Data, &entry); err != nil {
		t.Fatal(err)
	}
	if entry.State != models.BlockBlocked {
		t.Errorf("entry = %+v, want blocked", entry)
	}

	rec, _ = a.do(t, http.MethodPost, "/api/v1/blocks/dismiss", `{"kind": "artist", "subject": "77"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("dismiss status = %d", rec.Code)
	}

	rec, env = a.do(t, http.MethodPost, "/api/v1/blocks/confirm", `{"kind": "tag", "subject": "unknown"}`)
	if rec.Code != http.StatusConflict || env.Error.Code != "INVALID_TRANSITION" {
		t.Errorf("invalid transition = %d %+v, want 409", rec.Code, env.Error)
	}

	rec, _ = a.do(t, http.MethodPost, "/api/v1/blocks/confirm", `{"kind": "user", "subject": "x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d, want 400", rec.Code)
	}

	a.blocks.mu.Lock()
	defer a.blocks.mu.Unlock()
	if len(a.blocks.commands) != 3 {
		t.Fatalf("applied %d commands, want 3", len(a.blocks.commands))
	}
	if !a.blocks.commands[0].Confirm || a.blocks.commands[1].Confirm {
		t.Errorf("commands = %+v, want confirm then dismiss", a.blocks.commands)
	}
}

func TestProfile(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	rec, env := a.do(t, http.MethodGet, "/api/v1/profile", "")
	if rec.Code != http.StatusNotFound || env.Error.Code != "NO_PROFILE" {
		t.Errorf("status = %d %+v, want 404 NO_PROFILE", rec.Code, env.Error)
	}

	prof := models.UserProfile{ScanSize: 3, Weights: map[string]models.TagWeight{
		"white_hair": {Tag: "white_hair", Effective: 0.9},
		"sky":        {Tag: "sky", Effective: 0.5},
		"cat_ears":   {Tag: "cat_ears", Effective: 0.7},
	}}
	b := newTestAPI(t, fakeProfile{p: prof})
	rec, env = b.do(t, http.MethodGet, "/api/v1/profile?top=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var view ProfileView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatal(err)
	}
	if view.Total != 3 || len(view.Weights) != 2 {
		t.Fatalf("view = %+v, want 2 of 3 weights", view)
	}
	if view.Weights[0].Tag != "white_hair" || view.Weights[1].Tag != "cat_ears" {
		t.Errorf("weights = %+v, want highest effective first", view.Weights)
	}
}

func TestStrategiesAndStats(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	rec, env := a.do(t, http.MethodGet, "/api/v1/strategies", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("strategies status = %d", rec.Code)
	}
	var view StrategiesView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatal(err)
	}
	if view.Plan.Slots[models.StrategyTagSearch] != 20 || len(view.Stats) != 1 {
		t.Errorf("strategies = %+v", view)
	}

	rec, _ = a.do(t, http.MethodGet, "/api/v1/stats?days=30", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	a.pipeline.mu.Lock()
	got := a.pipeline.window
	a.pipeline.mu.Unlock()
	if got != 30*24*time.Hour {
		t.Errorf("stats window = %v, want 30 days", got)
	}

	rec, _ = a.do(t, http.MethodGet, "/api/v1/stats?days=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("days=0 status = %d, want 400", rec.Code)
	}
}

func TestBoostTags(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	rec, _ := a.do(t, http.MethodPut, "/api/v1/boost-tags", `{"tag": "cat_ears", "multiplier": 2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d (%s)", rec.Code, rec.Body.String())
	}
	rec, _ = a.do(t, http.MethodPut, "/api/v1/boost-tags", `{"tag": "sky", "multiplier": -1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative multiplier status = %d, want 400", rec.Code)
	}
	rec, _ = a.do(t, http.MethodPut, "/api/v1/boost-tags", `{"tag": "sky"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing multiplier status = %d, want 400", rec.Code)
	}

	rec, env := a.do(t, http.MethodGet, "/api/v1/boost-tags", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var view BoostView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatal(err)
	}
	if view.Overrides["cat_ears"] != 2 || len(view.Effective) != 2 {
		t.Errorf("boosts = %+v", view)
	}

	rec, _ = a.do(t, http.MethodDelete, "/api/v1/boost-tags/cat_ears", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	rec, _ = a.do(t, http.MethodDelete, "/api/v1/boost-tags/cat_ears", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
	rec, _ = a.do(t, http.MethodDelete, "/api/v1/boost-tags/white_hair", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("deleting a configured boost status = %d, want 404", rec.Code)
	}

	var events []models.Event
	if err := a.store.View(func(tx *store.Tx) error {
		var err error
		events, err = tx.Events(time.Time{})
		return err
	}); err != nil {
		t.Fatal(err)
	}
	changes := 0
	for _, e := range events {
		if e.Type == models.EventBoostChanged {
			changes++
		}
	}
	if changes != 2 {
		t.Errorf("boost change events = %d, want 2", changes)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	mw := DefaultMiddlewareConfig()
	mw.RateLimitRequests = 2
	a.handler = newRouter(NewHandler(Deps{Pipeline: a.pipeline, Store: a.store}), mw)

	for i := 0; i < 2; i++ {
		if rec, _ := a.do(t, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec, env := a.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusTooManyRequests || env.Error == nil || env.Error.Code != "RATE_LIMITED" {
		t.Errorf("third request = %d %+v, want 429 RATE_LIMITED", rec.Code, env.Error)
	}

	// /metrics sits outside the limited group.
	if rec, _ := a.do(t, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", rec.Code)
	}
}

func TestMetricsUseRoutePattern(t *testing.T) {
	// Not parallel: asserts on a shared counter.
	a := newTestAPI(t, nil)
	c := metrics.APIRequestsTotal.WithLabelValues(http.MethodDelete, "/api/v1/boost-tags/{tag}", "404")
	before := testutil.ToFloat64(c)

	a.do(t, http.MethodDelete, "/api/v1/boost-tags/first", "")
	a.do(t, http.MethodDelete, "/api/v1/boost-tags/second", "")

	if got := testutil.ToFloat64(c) - before; got != 2 {
		t.Errorf("pattern-labelled requests = %v, want 2", got)
	}
}
