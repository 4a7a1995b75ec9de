// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/xpfeed/internal/discovery"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/pipeline"
	"github.com/tomtom215/xpfeed/internal/store"
	"github.com/tomtom215/xpfeed/internal/validation"
)

// Version is reported by the health endpoint. Set at build time.
var Version = "dev"

// Pipeline runs discovery and exposes its history. Satisfied by
// *pipeline.Pipeline.
type Pipeline interface {
	Run(ctx context.Context) (models.RunReport, error)
	Busy() bool
	Reports(limit int) ([]models.RunReport, error)
	Stats(window time.Duration) (models.StatsReport, error)
	Preview() ([]models.StrategyStat, discovery.Plan, error)
}

// Publisher queues feedback for the processor. Satisfied by *eventbus.Bus.
type Publisher interface {
	PublishFeedback(ctx context.Context, ev models.FeedbackEvent) error
}

// BlockAdmin lists and decides block entries. Satisfied by
// *feedback.Processor.
type BlockAdmin interface {
	Blocks(state models.BlockState) ([]models.BlockEntry, error)
	Apply(ctx context.Context, cmd models.BlockCommand) (models.BlockEntry, error)
}

// ProfileReader returns the stored taste profile. Satisfied by
// *profile.Builder.
type ProfileReader interface {
	Current() (models.UserProfile, error)
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Pipeline  Pipeline
	Publisher Publisher
	Blocks    BlockAdmin
	Profile   ProfileReader
	Store     *store.Store

	// ConfiguredBoosts are the boost tags from the config file.
	ConfiguredBoosts map[string]float64
	// RunTimeout bounds runs started from the API.
	RunTimeout time.Duration
}

// Handler serves the API endpoints.
type Handler struct {
	deps      Deps
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:      deps,
		startTime: time.Now(),
	}
}

// HealthStatus is the health endpoint payload.
type HealthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  float64           `json:"uptime_seconds"`
	Running bool              `json:"run_in_progress"`
	LastRun *models.RunReport `json:"last_run,omitempty"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:  "healthy",
		Version: Version,
		Uptime:  time.Since(h.startTime).Seconds(),
		Running: h.deps.Pipeline.Busy(),
	}
	reports, err := h.deps.Pipeline.Reports(1)
	switch {
	case err != nil:
		health.Status = "degraded"
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Health check could not read run history")
	case len(reports) > 0:
		health.LastRun = &reports[0]
		if reports[0].Status == models.StatusFailed {
			health.Status = "degraded"
		}
	}
	respondData(w, r, http.StatusOK, health)
}

// ListRuns handles GET /api/v1/runs?limit=N.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20, 1, 500)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), nil)
		return
	}
	reports, err := h.deps.Pipeline.Reports(limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to read run reports", err)
		return
	}
	if reports == nil {
		reports = []models.RunReport{}
	}
	respondData(w, r, http.StatusOK, reports)
}

// TriggerRun handles POST /api/v1/runs. The run continues after the
// response is written.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Pipeline.Busy() {
		respondError(w, r, http.StatusConflict, "RUN_IN_PROGRESS", "A run is already in progress", nil)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	cancel := context.CancelFunc(func() {})
	if h.deps.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.deps.RunTimeout)
	}
	go func() {
		defer cancel()
		report, err := h.deps.Pipeline.Run(ctx)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			logging.Ctx(ctx).Warn().Msg("Manual run skipped, another run started first")
		case err != nil:
			logging.Ctx(ctx).Error().Err(err).Str("run_id", report.ID).Msg("Manual run failed")
		}
	}()

	respondData(w, r, http.StatusAccepted, map[string]string{"message": "Run started"})
}

// SubmitFeedback handles POST /api/v1/feedback.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var ev models.FeedbackEvent
	if !decodeJSON(w, r, &ev) {
		return
	}
	if ev.Channel == "" {
		ev.Channel = "api"
	}
	ev.Action = models.FeedbackAction(strings.ToLower(string(ev.Action)))
	if verr := validation.ValidateStruct(ev); verr != nil {
		respondValidation(w, r, verr)
		return
	}
	if err := h.deps.Publisher.PublishFeedback(r.Context(), ev); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Feedback could not be queued", err)
		return
	}
	respondData(w, r, http.StatusAccepted, map[string]any{"work_id": ev.WorkID, "action": ev.Action})
}

// ListBlocks handles GET /api/v1/blocks?state=S. Without state, pending
// entries are listed; state=all lists every entry.
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	state := models.BlockPendingConfirmation
	switch raw := r.URL.Query().Get("state"); raw {
	case "":
	case "all":
		state = ""
	case string(models.BlockActive), string(models.BlockPendingConfirmation), string(models.BlockBlocked):
		state = models.BlockState(raw)
	default:
		respondError(w, r, http.StatusBadRequest, "INVALID_PARAMETER",
			"state must be one of active, pending_confirmation, blocked, all", nil)
		return
	}

	entries, err := h.deps.Blocks.Blocks(state)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to read blocks", err)
		return
	}
	if entries == nil {
		entries = []models.BlockEntry{}
	}
	respondData(w, r, http.StatusOK, entries)
}

// BlockDecision is the body of the confirm and dismiss endpoints.
type BlockDecision struct {
	Kind    models.SubjectKind `json:"kind" validate:"required,oneof=tag artist"`
	Subject string             `json:"subject" validate:"required,max=128"`
}

// ConfirmBlock handles POST /api/v1/blocks/confirm.
func (h *Handler) ConfirmBlock(w http.ResponseWriter, r *http.Request) {
	h.decideBlock(w, r, true)
}

// DismissBlock handles POST /api/v1/blocks/dismiss.
func (h *Handler) DismissBlock(w http.ResponseWriter, r *http.Request) {
	h.decideBlock(w, r, false)
}

func (h *Handler) decideBlock(w http.ResponseWriter, r *http.Request, confirm bool) {
	var req BlockDecision
	if !decodeJSON(w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		respondValidation(w, r, verr)
		return
	}

	entry, err := h.deps.Blocks.Apply(r.Context(), models.BlockCommand{
		Kind:    req.Kind,
		Subject: req.Subject,
		Confirm: confirm,
		Channel: "api",
	})
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		respondError(w, r, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to apply block decision", err)
	default:
		respondData(w, r, http.StatusOK, entry)
	}
}

// ProfileView is the profile endpoint payload.
type ProfileView struct {
	ScanSize int                `json:"scan_size"`
	BuiltAt  time.Time          `json:"built_at"`
	Total    int                `json:"total_tags"`
	Weights  []models.TagWeight `json:"weights"`
}

// Profile handles GET /api/v1/profile?top=N.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r, "top", 50, 1, 1000)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), nil)
		return
	}
	p, err := h.deps.Profile.Current()
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "NO_PROFILE", "No profile has been built yet", nil)
		return
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to read profile", err)
		return
	}
	ranked := p.Ranked()
	view := ProfileView{ScanSize: p.ScanSize, BuiltAt: p.BuiltAt, Total: len(ranked)}
	view.Weights = ranked[:min(top, len(ranked))]
	respondData(w, r, http.StatusOK, view)
}

// StrategiesView is the strategies endpoint payload.
type StrategiesView struct {
	Stats []models.StrategyStat `json:"stats"`
	Plan  discovery.Plan        `json:"next_plan"`
}

// Strategies handles GET /api/v1/strategies.
func (h *Handler) Strategies(w http.ResponseWriter, r *http.Request) {
	stats, plan, err := h.deps.Pipeline.Preview()
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "ALLOCATION_ERROR", "Failed to compute allocation", err)
		return
	}
	respondData(w, r, http.StatusOK, StrategiesView{Stats: stats, Plan: plan})
}

// Stats handles GET /api/v1/stats?days=N.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", int(pipeline.StatsWindow/(24*time.Hour)), 1, 365)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), nil)
		return
	}
	report, err := h.deps.Pipeline.Stats(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to compute stats", err)
		return
	}
	respondData(w, r, http.StatusOK, report)
}

// BoostView lists boost tags. Overrides win over configured values at the
// next profile build.
type BoostView struct {
	Configured map[string]float64 `json:"configured"`
	Overrides  map[string]float64 `json:"overrides"`
	Effective  []BoostTag         `json:"effective"`
}

// BoostTag is one boost multiplier. It is also the body of PUT
// /api/v1/boost-tags.
type BoostTag struct {
	Tag        string   `json:"tag" validate:"tag"`
	Multiplier *float64 `json:"multiplier" validate:"required,gte=0"`
}

// ListBoosts handles GET /api/v1/boost-tags.
func (h *Handler) ListBoosts(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]float64
	err := h.deps.Store.View(func(tx *store.Tx) error {
		var err error
		overrides, err = tx.BoostOverrides()
		return err
	})
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to read boost tags", err)
		return
	}

	merged := make(map[string]float64, len(h.deps.ConfiguredBoosts)+len(overrides))
	for tag, m := range h.deps.ConfiguredBoosts {
		merged[tag] = m
	}
	for tag, m := range overrides {
		merged[tag] = m
	}
	view := BoostView{
		Configured: h.deps.ConfiguredBoosts,
		Overrides:  overrides,
		Effective:  make([]BoostTag, 0, len(merged)),
	}
	if view.Configured == nil {
		view.Configured = map[string]float64{}
	}
	for tag, m := range merged {
		view.Effective = append(view.Effective, BoostTag{Tag: tag, Multiplier: &m})
	}
	sort.Slice(view.Effective, func(i, j int) bool { return view.Effective[i].Tag < view.Effective[j].Tag })
	respondData(w, r, http.StatusOK, view)
}

// PutBoost handles PUT /api/v1/boost-tags. The override applies from the
// next profile build.
func (h *Handler) PutBoost(w http.ResponseWriter, r *http.Request) {
	var req BoostTag
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Tag = strings.TrimSpace(req.Tag)
	if verr := validation.ValidateStruct(req); verr != nil {
		respondValidation(w, r, verr)
		return
	}

	m := *req.Multiplier
	err := h.deps.Store.Mutate(r.Context(), "boost_put", func(tx *store.Tx) error {
		if err := tx.PutBoost(req.Tag, m); err != nil {
			return err
		}
		return tx.AppendEvent(models.Event{Type: models.EventBoostChanged, Tags: []string{req.Tag}, Value: m})
	})
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to store boost tag", err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("tag", req.Tag).Float64("multiplier", m).Msg("Boost tag override set")
	respondData(w, r, http.StatusOK, req)
}

// DeleteBoost handles DELETE /api/v1/boost-tags/{tag}. Only overrides can be
// removed; configured boosts live in the config file.
func (h *Handler) DeleteBoost(w http.ResponseWriter, r *http.Request) {
	tag, err := url.PathUnescape(chi.URLParam(r, "tag"))
	if err == nil {
		err = validation.GetValidator().Var(tag, "tag")
	}
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid tag", nil)
		return
	}

	var found bool
	err = h.deps.Store.Mutate(r.Context(), "boost_delete", func(tx *store.Tx) error {
		overrides, err := tx.BoostOverrides()
		if err != nil {
			return err
		}
		if _, found = overrides[tag]; !found {
			return nil
		}
		if err := tx.DeleteBoost(tag); err != nil {
			return err
		}
		return tx.AppendEvent(models.Event{Type: models.EventBoostChanged, Tags: []string{tag}})
	})
	switch {
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to delete boost tag", err)
	case !found:
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "No override for tag "+tag, nil)
	default:
		logging.Ctx(r.Context()).Info().Str("tag", tag).Msg("Boost tag override removed")
		w.WriteHeader(http.StatusNoContent)
	}
}
