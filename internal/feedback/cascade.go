// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/xpfeed/internal/filter"
	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/store"
)

const (
	// cascadeChannel labels cascade deliveries in the event log.
	cascadeChannel = "cascade"

	recordTimeout = 10 * time.Second
)

// cascade follows related works from a liked candidate, one delivery per
// hop, until chain_depth deliveries or nothing passes the filter. Ids seen
// earlier in the chain, or delivered within the dedup window, are never
// delivered again.
func (p *Processor) cascade(ctx context.Context, liked models.Candidate) ([]models.Candidate, error) {
	if p.cfg.ChainDepth <= 0 || p.deliver == nil || p.src == nil || p.filter == nil {
		return nil, nil
	}
	var delivered []models.Candidate
	defer func() { metrics.CascadeDeliveries.Observe(float64(len(delivered))) }()

	seen := map[int64]bool{liked.WorkID: true}
	seed := liked
	for len(delivered) < p.cfg.ChainDepth {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		related, err := p.src.Related(ctx, seed.WorkID, p.cfg.RelatedLimit)
		if err != nil {
			return delivered, fmt.Errorf("related works for %d: %w", seed.WorkID, err)
		}

		var st filter.State
		if err := p.store.View(func(tx *store.Tx) error {
			var err error
			st, err = filter.LoadState(tx, p.strategies, p.subscribed)
			return err
		}); err != nil {
			return delivered, fmt.Errorf("load filter state: %w", err)
		}

		pool := make([]models.Candidate, 0, len(related))
		for _, c := range related {
			if seen[c.WorkID] {
				continue
			}
			pool = append(pool, c.WithOrigin(models.StrategyRelated, st.Profile.Match(c.Tags)))
		}
		accepted := p.filter.Apply(pool, st, nil, 1).Candidates()
		if len(accepted) == 0 {
			break
		}

		next := accepted[0]
		seen[next.WorkID] = true
		ids, deliverErr := p.deliver.Deliver(ctx, []models.Candidate{next})
		if len(ids) > 0 {
			// A work the user saw is recorded even if ctx ended meanwhile.
			recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
			err := p.store.Mutate(recordCtx, "cascade_delivery", func(tx *store.Tx) error {
				return tx.RecordDelivery(next, p.window, cascadeChannel, true)
			})
			cancel()
			if err != nil {
				return delivered, fmt.Errorf("record delivery %d: %w", next.WorkID, err)
			}
			delivered = append(delivered, next)
		}
		if deliverErr != nil {
			return delivered, fmt.Errorf("deliver %d: %w", next.WorkID, deliverErr)
		}
		seed = next
	}

	if len(delivered) > 0 {
		p.logger.Info().Int64("work_id", liked.WorkID).Int("delivered", len(delivered)).Msg("Chain cascade delivered")
	}
	return delivered, nil
}
