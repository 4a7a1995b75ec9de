// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/pipeline"
)

// RunFunc executes one discovery run. Satisfied by (*pipeline.Pipeline).Run.
type RunFunc func(ctx context.Context) (models.RunReport, error)

// SchedulerConfig mirrors config.SchedulerConfig.
type SchedulerConfig struct {
	Interval   time.Duration
	RunOnStart bool
	RunTimeout time.Duration
}

// SchedulerService triggers runs on a fixed interval.
//
// A failed run is logged and does not fail the service: the next tick tries
// again. RunOnStart fires once per process, not on every restart.
type SchedulerService struct {
	run     RunFunc
	cfg     SchedulerConfig
	started atomic.Bool
	logger  zerolog.Logger
	name    string
}

// NewSchedulerService creates a scheduler for run.
func NewSchedulerService(run RunFunc, cfg SchedulerConfig) *SchedulerService {
	return &SchedulerService{
		run:    run,
		cfg:    cfg,
		logger: logging.WithComponent("scheduler"),
		name:   "run-scheduler",
	}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if s.cfg.RunOnStart && s.started.CompareAndSwap(false, true) {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *SchedulerService) runOnce(ctx context.Context) {
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	report, err := s.run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.Info().Msg("Skipping scheduled run, another run is in progress")
	case err != nil:
		s.logger.Error().Err(err).Str("run_id", report.ID).Msg("Scheduled run failed")
	default:
		s.logger.Info().Str("run_id", report.ID).Str("status", report.Status).
			Int("delivered", report.Delivered).Msg("Scheduled run finished")
	}
}

// String implements fmt.Stringer for suture's logs.
func (s *SchedulerService) String() string {
	return s.name
}
