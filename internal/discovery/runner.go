// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
)

// Outcome is one strategy's result for a run.
type Outcome struct {
	Strategy   models.StrategyID
	Allocated  int
	Status     string
	Candidates []models.Candidate
	Err        error
	Duration   time.Duration
}

// Report converts the outcome into its run-report form.
func (o Outcome) Report() models.StrategyReport {
	r := models.StrategyReport{
		ID:        o.Strategy,
		Allocated: o.Allocated,
		Status:    o.Status,
		Produced:  len(o.Candidates),
		Duration:  o.Duration,
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

// RunnerConfig bounds strategy execution.
type RunnerConfig struct {
	MaxConcurrency  int
	StrategyTimeout time.Duration
	// SoftDeadline bounds the whole fan-out. Strategies still running when
	// it expires contribute what they had collected so far, reported as
	// partial, or are reported as timed out if they had nothing.
	SoftDeadline time.Duration
}

// Runner fans strategies out with bounded concurrency.
type Runner struct {
	cfg    RunnerConfig
	sem    *semaphore.Weighted
	logger zerolog.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Runner{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger: logging.WithComponent("discovery"),
	}
}

type indexed struct {
	i int
	o Outcome
}

// Run executes every strategy with a nonzero allocation. The returned
// outcomes follow the order of strategies. A failing or slow strategy never
// affects the others.
func (r *Runner) Run(ctx context.Context, strategies []Strategy, plan Plan, p *models.UserProfile) []Outcome {
	start := time.Now()
	outcomes := make([]Outcome, len(strategies))
	runCtx := ctx
	if r.cfg.SoftDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.SoftDeadline)
		defer cancel()
	}

	results := make(chan indexed, len(strategies))
	partials := make([]*partial, len(strategies))
	pending := 0
	for i, s := range strategies {
		budget := plan.Slots[s.ID()]
		outcomes[i] = Outcome{Strategy: s.ID(), Allocated: budget, Status: models.StatusTimeout}
		if budget <= 0 {
			outcomes[i].Status = models.StatusSkipped
			continue
		}
		pending++
		partials[i] = &partial{}
		sctx := withPartial(runCtx, partials[i])
		go func(i int, s Strategy, budget int) {
			results <- indexed{i: i, o: r.runOne(sctx, s, budget, p)}
		}(i, s, budget)
	}

	done := make([]bool, len(strategies))
	for pending > 0 {
		select {
		case res := <-results:
			outcomes[res.i] = res.o
			done[res.i] = true
			pending--
		case <-runCtx.Done():
			r.logger.Warn().Int("pending", pending).Msg("Soft deadline reached, finalizing with collected candidates")
			for i := range outcomes {
				if partials[i] != nil && !done[i] {
					outcomes[i] = r.unfinished(outcomes[i], partials[i].snapshot(), start)
				}
			}
			pending = 0
		}
	}
	return outcomes
}

// unfinished builds the outcome of a strategy still running at the soft
// deadline from the candidates it had published. Metrics are left to runOne,
// which still records the strategy when it returns.
func (r *Runner) unfinished(o Outcome, cands []models.Candidate, start time.Time) Outcome {
	o.Candidates = cands
	o.Err = fmt.Errorf("%s: %w", o.Strategy, context.DeadlineExceeded)
	o.Duration = time.Since(start)
	if len(cands) > 0 {
		o.Status = models.StatusPartial
	}
	r.logger.Warn().
		Str("strategy", string(o.Strategy)).
		Int("produced", len(cands)).
		Str("status", o.Status).
		Msg("Strategy cut off by soft deadline")
	return o
}

func (r *Runner) runOne(ctx context.Context, s Strategy, budget int, p *models.UserProfile) Outcome {
	start := time.Now()
	out := Outcome{Strategy: s.ID(), Allocated: budget}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		out.Status = models.StatusTimeout
		out.Err = fmt.Errorf("%s: waiting for a slot: %w", s.ID(), err)
		out.Duration = time.Since(start)
		metrics.RecordStrategyOutcome(string(s.ID()), out.Status, 0, out.Duration)
		return out
	}
	defer r.sem.Release(1)

	sctx := ctx
	if r.cfg.StrategyTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, r.cfg.StrategyTimeout)
		defer cancel()
	}

	cands, err := generate(sctx, s, p, budget)
	out.Candidates = cands
	out.Err = err
	out.Duration = time.Since(start)
	switch {
	case err == nil:
		out.Status = models.StatusOK
	case errors.Is(err, context.DeadlineExceeded) && len(cands) == 0:
		out.Status = models.StatusTimeout
	case len(cands) > 0:
		out.Status = models.StatusPartial
	default:
		out.Status = models.StatusFailed
	}

	metrics.RecordStrategyOutcome(string(s.ID()), out.Status, len(cands), out.Duration)
	ev := r.logger.Info()
	if err != nil {
		ev = r.logger.Warn().Err(err)
	}
	ev.Str("strategy", string(s.ID())).
		Int("budget", budget).
		Int("produced", len(cands)).
		Str("status", out.Status).
		Dur("duration", out.Duration).
		Msg("Strategy finished")
	return out
}

// generate converts a panic inside a strategy into a failed outcome.
func generate(ctx context.Context, s Strategy, p *models.UserProfile, budget int) (cands []models.Candidate, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			cands, err = nil, fmt.Errorf("%s panicked: %v", s.ID(), rec)
		}
	}()
	return s.Generate(ctx, p, budget)
}
