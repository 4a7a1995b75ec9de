// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/store"
)

func requestBlock(tx *store.Tx, kind models.SubjectKind, subject string, threshold float64) (models.BlockEntry, bool, error) {
	b, err := tx.Block(kind, subject)
	if err != nil {
		return b, false, err
	}
	before := b.State
	b, err = b.RequestBlock(threshold, tx.Now())
	if err != nil {
		return b, false, err
	}
	if b.State == before {
		return b, false, nil
	}
	if err := tx.PutBlock(b); err != nil {
		return b, false, err
	}
	return b, true, appendTransition(tx, b)
}

// RequestBlock moves a subject to pending confirmation.
func (p *Processor) RequestBlock(ctx context.Context, kind models.SubjectKind, subject string) (models.BlockEntry, error) {
	var out models.BlockEntry
	var changed bool
	err := p.mutateBlock(ctx, "block_request", kind, subject, func(tx *store.Tx, subject string) error {
		var err error
		out, changed, err = requestBlock(tx, kind, subject, p.cfg.BlockThreshold)
		return err
	})
	if err == nil && changed {
		p.recordTransitions([]models.BlockEntry{out})
	}
	return out, err
}

// ConfirmBlock moves a pending subject to blocked.
func (p *Processor) ConfirmBlock(ctx context.Context, kind models.SubjectKind, subject string) (models.BlockEntry, error) {
	return p.transition(ctx, "block_confirm", kind, subject, models.BlockEntry.Confirm)
}

// DismissBlock returns a pending or blocked subject to active with a zero
// score.
func (p *Processor) DismissBlock(ctx context.Context, kind models.SubjectKind, subject string) (models.BlockEntry, error) {
	return p.transition(ctx, "block_dismiss", kind, subject, models.BlockEntry.Dismiss)
}

// Apply executes a block command from a channel or the API.
func (p *Processor) Apply(ctx context.Context, cmd models.BlockCommand) (models.BlockEntry, error) {
	if cmd.Confirm {
		return p.ConfirmBlock(ctx, cmd.Kind, cmd.Subject)
	}
	return p.DismissBlock(ctx, cmd.Kind, cmd.Subject)
}

func (p *Processor) transition(ctx context.Context, op string, kind models.SubjectKind, subject string,
	step func(models.BlockEntry, time.Time) (models.BlockEntry, error)) (models.BlockEntry, error) {
	var out models.BlockEntry
	err := p.mutateBlock(ctx, op, kind, subject, func(tx *store.Tx, subject string) error {
		b, err := tx.Block(kind, subject)
		if err != nil {
			return err
		}
		if out, err = step(b, tx.Now()); err != nil {
			return err
		}
		if err := tx.PutBlock(out); err != nil {
			return err
		}
		return appendTransition(tx, out)
	})
	if err == nil {
		p.recordTransitions([]models.BlockEntry{out})
	}
	metrics.RecordFeedback(op, err)
	return out, err
}

func (p *Processor) mutateBlock(ctx context.Context, op string, kind models.SubjectKind, subject string,
	fn func(tx *store.Tx, subject string) error) error {
	subject = strings.TrimSpace(subject)
	if !kind.Valid() {
		return fmt.Errorf("unknown subject kind %q", kind)
	}
	if subject == "" {
		return fmt.Errorf("empty %s subject", kind)
	}
	if err := p.store.Mutate(ctx, op, func(tx *store.Tx) error { return fn(tx, subject) }); err != nil {
		return fmt.Errorf("%s %s %s: %w", op, kind, subject, err)
	}
	return nil
}

// Blocks lists entries in state, or all entries when state is empty.
func (p *Processor) Blocks(state models.BlockState) ([]models.BlockEntry, error) {
	var out []models.BlockEntry
	err := p.store.View(func(tx *store.Tx) error {
		var err error
		out, err = tx.Blocks(state)
		return err
	})
	return out, err
}
