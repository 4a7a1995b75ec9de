// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package pipeline runs one discovery cycle end to end: rebuild the
// profile, allocate slots, fan out to strategies, filter, deliver and record
// the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/delivery"
	"github.com/tomtom215/xpfeed/internal/discovery"
	"github.com/tomtom215/xpfeed/internal/filter"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/profile"
	"github.com/tomtom215/xpfeed/internal/store"
)

const (
	// runChannel labels scheduled deliveries in the event log.
	runChannel = "run"

	// baselineAlpha is the decay applied to the tag baseline per run.
	baselineAlpha = 0.1

	seedLikes       = 10
	affinityArtists = 20
	followingLimit  = 300

	// recordTimeout bounds bookkeeping that outlives a cancelled run.
	recordTimeout = 30 * time.Second

	// StatsWindow is the default stats report window.
	StatsWindow = 7 * 24 * time.Hour
)

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Deliverer presents candidates and notices to the user.
type Deliverer interface {
	Deliver(ctx context.Context, cands []models.Candidate) ([]int64, error)
	Announce(ctx context.Context, text string, buttons [][]delivery.Button)
}

// FollowLister lists artists the user follows upstream.
type FollowLister interface {
	Following(ctx context.Context, limit int) ([]int64, error)
}

// IPTagSource supplies the synced IP tag set.
type IPTagSource interface {
	CopyrightTags(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of a Pipeline. Following and IPTags may be nil.
type Deps struct {
	Store     *store.Store
	Builder   *profile.Builder
	Source    discovery.ContentSource
	Following FollowLister
	IPTags    IPTagSource
	Filter    *filter.Filter
	Deliverer Deliverer
}

// Pipeline executes discovery runs. At most one run is active at a time.
type Pipeline struct {
	cfg       *config.Config
	deps      Deps
	allocator discovery.Allocator
	runner    *discovery.Runner
	now       func() time.Time
	running   sync.Mutex
	logger    zerolog.Logger
}

// New wires a pipeline.
func New(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:  cfg,
		deps: deps,
		allocator: discovery.Allocator{
			DiscoveryRate: cfg.Discovery.DiscoveryRate,
			Prior:         cfg.Discovery.NeutralPrior,
		},
		runner: discovery.NewRunner(discovery.RunnerConfig{
			MaxConcurrency:  cfg.Discovery.MaxConcurrency,
			StrategyTimeout: cfg.Discovery.StrategyTimeout,
			SoftDeadline:    cfg.Discovery.SoftDeadline,
		}),
		now:    time.Now,
		logger: logging.WithComponent("pipeline"),
	}
}

// Run executes one full cycle and returns its report. The report is stored
// and announced even when the run fails.
func (p *Pipeline) Run(ctx context.Context) (models.RunReport, error) {
	if !p.running.TryLock() {
		return models.RunReport{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	report := models.RunReport{ID: uuid.NewString(), StartedAt: p.now()}
	ctx = logging.ContextWithCorrelationID(ctx, report.ID)
	log := logging.Ctx(ctx).With().Str("component", "pipeline").Logger()
	log.Info().Msg("Run started")

	err := p.run(ctx, &report)
	report.FinishedAt = p.now()
	switch {
	case err != nil:
		report.Status = models.StatusFailed
		report.Error = err.Error()
	case report.Status == "":
		report.Status = models.StatusOK
	}
	metrics.RecordRun(report.FinishedAt.Sub(report.StartedAt), report.Status)

	// Recording uses a fresh context so a cancelled run still leaves a trace.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if serr := p.deps.Store.Mutate(saveCtx, "run_report", func(tx *store.Tx) error {
		return tx.PutRunReport(report)
	}); serr != nil {
		log.Error().Err(serr).Msg("Failed to store run report")
	}
	p.announce(saveCtx, report)

	log.Info().
		Str("status", report.Status).
		Int("delivered", report.Delivered).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Run finished")
	return report, err
}

func (p *Pipeline) run(ctx context.Context, report *models.RunReport) error {
	prof, err := p.deps.Builder.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("build profile: %w", err)
	}

	configured := p.cfg.Discovery.EnabledStrategies()
	var (
		stats    []models.StrategyStat
		pairs    []models.TagPair
		seeds    []int64
		affinity []int64
	)
	err = p.deps.Store.View(func(tx *store.Tx) error {
		var err error
		if stats, err = tx.StrategyStats(configured); err != nil {
			return err
		}
		if pairs, err = tx.Pairs(); err != nil {
			return err
		}
		if seeds, err = tx.RecentLikes(seedLikes); err != nil {
			return err
		}
		affinity, err = tx.AffinityArtists(affinityArtists)
		return err
	})
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}
	expander, err := profile.LoadExpander(p.deps.Store, p.cfg.Discovery.SearchAliases)
	if err != nil {
		return fmt.Errorf("load query expansion: %w", err)
	}

	limit := p.cfg.Discovery.DailyLimit
	plan, err := p.allocator.Allocate(stats, limit)
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	report.Favored = plan.Favored
	for id, n := range plan.Slots {
		metrics.StrategyAllocation.WithLabelValues(string(id)).Set(float64(n))
	}
	for id, r := range plan.Rates {
		metrics.StrategySuccessRate.WithLabelValues(string(id)).Set(r)
	}

	subscribed := p.subscribed(ctx)
	ids := make([]models.StrategyID, len(stats))
	for i, s := range stats {
		ids[i] = s.ID
	}
	strategies := discovery.NewStrategies(p.deps.Source, ids, discovery.Params{
		Thresholds:   p.cfg.Filter.BookmarkThreshold,
		Overfetch:    p.cfg.Discovery.Overfetch,
		PairShare:    p.cfg.Discovery.PairShare,
		TopN:         p.cfg.Profile.TopN,
		Since:        report.StartedAt.AddDate(0, 0, -p.cfg.Discovery.DateRangeDays),
		RankingModes: p.cfg.Discovery.RankingModes,
		Subscribed:   subscribed,
		Pairs:        pairs,
		Affinity:     affinity,
		Seeds:        seeds,
		Expander:     expander,
		Seed:         report.StartedAt.UnixNano(),
	})

	outcomes := p.runner.Run(ctx, strategies, plan, &prof)
	var pool []models.Candidate
	byStrategy := make(map[models.StrategyID]*models.StrategyReport, len(outcomes))
	report.Strategies = make([]models.StrategyReport, len(outcomes))
	degraded := false
	for i, o := range outcomes {
		report.Strategies[i] = o.Report()
		byStrategy[o.Strategy] = &report.Strategies[i]
		pool = append(pool, o.Candidates...)
		switch o.Status {
		case models.StatusTimeout:
			report.Deadline = true
			degraded = true
		case models.StatusFailed, models.StatusPartial:
			degraded = true
		}
	}

	var st filter.State
	if err := p.deps.Store.View(func(tx *store.Tx) error {
		var err error
		st, err = filter.LoadState(tx, configured, subscribed)
		return err
	}); err != nil {
		return fmt.Errorf("load filter state: %w", err)
	}
	res := p.deps.Filter.Apply(pool, st, plan.Slots, limit)
	for id, reasons := range res.Rejected {
		if sr := byStrategy[id]; sr != nil {
			sr.Filtered = reasons
		}
	}
	accepted := res.Candidates()

	deliveredIDs, deliverErr := p.deps.Deliverer.Deliver(ctx, accepted)
	shown := delivery.Shown(accepted, deliveredIDs)

	favored := discovery.MarkFavored(stats, plan.Favored, report.StartedAt)
	tagSets := make([][]string, len(pool))
	for i, c := range pool {
		tagSets[i] = c.Tags
	}
	window := p.cfg.Filter.DedupWindow
	// Whatever reached the user is recorded even if the run was cancelled
	// meanwhile, or dedup and feedback lose track of it.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	err = p.deps.Store.Mutate(recordCtx, "run_delivery", func(tx *store.Tx) error {
		// Only the favor stamp is taken from the in-memory stats; counters
		// are re-read so concurrent feedback is not overwritten.
		for _, s := range favored {
			if s.ID != plan.Favored {
				continue
			}
			cur, err := tx.StrategyStat(s.ID)
			if err != nil {
				return err
			}
			cur.LastFavoredAt = s.LastFavoredAt
			if err := tx.PutStrategyStat(cur); err != nil {
				return err
			}
		}
		for _, c := range shown {
			if err := tx.RecordDelivery(c, window, runChannel, false); err != nil {
				return err
			}
		}
		return tx.ObservePool(tagSets, baselineAlpha)
	})
	if err != nil {
		return fmt.Errorf("record deliveries: %w", err)
	}

	for _, c := range shown {
		metrics.CandidatesDelivered.WithLabelValues(string(c.Strategy)).Inc()
		if sr := byStrategy[c.Strategy]; sr != nil {
			sr.Delivered++
		}
	}
	report.Delivered = len(shown)
	if deliverErr != nil {
		if len(shown) == 0 {
			return fmt.Errorf("deliver %d candidates: %w", len(accepted), deliverErr)
		}
		logging.Ctx(ctx).Warn().Err(deliverErr).Int("shown", len(shown)).Int("accepted", len(accepted)).
			Msg("Delivery incomplete")
		report.Error = fmt.Sprintf("delivered %d of %d: %v", len(shown), len(accepted), deliverErr)
		degraded = true
	}
	if degraded {
		report.Status = models.StatusPartial
	}
	return nil
}

// subscribed merges configured artists with the user's upstream follows.
// A failing follow listing only costs this run the follows.
func (p *Pipeline) subscribed(ctx context.Context) []int64 {
	out := append([]int64(nil), p.cfg.Discovery.SubscribedArtists...)
	if p.deps.Following == nil {
		return out
	}
	follows, err := p.deps.Following.Following(ctx, followingLimit)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Listing followed artists failed")
		return out
	}
	seen := make(map[int64]bool, len(out)+len(follows))
	for _, id := range out {
		seen[id] = true
	}
	for _, id := range follows {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (p *Pipeline) announce(ctx context.Context, report models.RunReport) {
	if p.deps.Deliverer == nil {
		return
	}
	p.deps.Deliverer.Announce(ctx, report.Text(), nil)
	if !p.cfg.Delivery.ReportStats {
		return
	}
	stats, err := p.Stats(StatsWindow)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Stats report failed")
		return
	}
	p.deps.Deliverer.Announce(ctx, stats.Text(), nil)
}

// Stats aggregates the event log over the trailing window.
func (p *Pipeline) Stats(window time.Duration) (models.StatsReport, error) {
	return p.deps.Store.Stats(p.now().Add(-window), p.cfg.Discovery.EnabledStrategies())
}

// Busy reports whether a run is in progress.
func (p *Pipeline) Busy() bool {
	if p.running.TryLock() {
		p.running.Unlock()
		return false
	}
	return true
}

// Preview returns the stored strategy statistics and the allocation the
// next run would start from.
func (p *Pipeline) Preview() ([]models.StrategyStat, discovery.Plan, error) {
	var stats []models.StrategyStat
	err := p.deps.Store.View(func(tx *store.Tx) error {
		var err error
		stats, err = tx.StrategyStats(p.cfg.Discovery.EnabledStrategies())
		return err
	})
	if err != nil {
		return nil, discovery.Plan{}, err
	}
	plan, err := p.allocator.Allocate(stats, p.cfg.Discovery.DailyLimit)
	return stats, plan, err
}

// Reports returns up to limit stored run reports, newest first.
func (p *Pipeline) Reports(limit int) ([]models.RunReport, error) {
	var out []models.RunReport
	err := p.deps.Store.View(func(tx *store.Tx) error {
		var err error
		out, err = tx.RunReports(limit)
		return err
	})
	return out, err
}

// SyncIPTags replaces the synced IP tag set. A failed sync keeps the
// previous set, since a partial list would silently undo discounts.
func (p *Pipeline) SyncIPTags(ctx context.Context) (int, error) {
	if p.deps.IPTags == nil {
		return 0, errors.New("no IP tag source configured")
	}
	tags, err := p.deps.IPTags.CopyrightTags(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch IP tags (%d fetched before failure): %w", len(tags), err)
	}
	if err := p.deps.Store.Mutate(ctx, "ip_tags_sync", func(tx *store.Tx) error {
		return tx.PutIPTags(tags)
	}); err != nil {
		return 0, fmt.Errorf("store IP tags: %w", err)
	}
	p.logger.Info().Int("tags", len(tags)).Msg("IP tags synced")
	return len(tags), nil
}
