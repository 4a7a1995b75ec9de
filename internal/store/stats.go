// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/xpfeed/internal/models"
)

const statsTopN = 5

// Stats aggregates the event log since the given time.
func (s *Store) Stats(since time.Time, configured []models.StrategyStat) (models.StatsReport, error) {
	report := models.StatsReport{Since: since, Until: time.Now().UTC()}
	err := s.View(func(tx *Tx) error {
		events, err := tx.Events(since)
		if err != nil {
			return err
		}

		artistLikes := map[int64]int{}
		tagLikes := map[string]int{}
		for _, e := range events {
			switch e.Type {
			case models.EventDelivered:
				report.Pushed++
			case models.EventFeedback:
				switch e.Action {
				case models.ActionLike:
					report.Likes++
					if e.ArtistID != 0 {
						artistLikes[e.ArtistID]++
					}
					for _, tag := range e.Tags {
						tagLikes[tag]++
					}
				case models.ActionDislike:
					report.Dislikes++
				case models.ActionBlock:
					report.Blocks++
				}
			}
		}
		if rated := report.Likes + report.Dislikes; rated > 0 {
			report.LikeRate = float64(report.Likes) / float64(rated)
		}

		named := make(map[string]int, len(artistLikes))
		for id, n := range artistLikes {
			name := strconv.FormatInt(id, 10)
			if a, err := tx.ArtistScore(id); err == nil && a.Name != "" {
				name = a.Name
			}
			named[name] += n
		}
		report.TopArtists = models.TopCounts(named, statsTopN)
		report.TopLikedTags = models.TopCounts(tagLikes, statsTopN)

		if report.Strategies, err = tx.StrategyStats(configured); err != nil {
			return err
		}
		report.Pending, err = tx.Blocks(models.BlockPendingConfirmation)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("compute stats: %w", err)
	}
	return report, nil
}

// resetPrefixes are the learned-taste keys cleared by ResetProfile. Delivery
// history, the event log, and block entries survive a reset.
var resetPrefixes = []string{
	keyProfile,
	keyPairs,
	prefixTagMap,
	prefixArtist,
	prefixLiked,
}

// ResetProfile clears learned taste state and logs the reset.
func (s *Store) ResetProfile(ctx context.Context) error {
	err := s.mutateRaw(ctx, "reset_profile", func(db *badger.DB) error {
		prefixes := make([][]byte, len(resetPrefixes))
		for i, p := range resetPrefixes {
			prefixes[i] = []byte(p)
		}
		return db.DropPrefix(prefixes...)
	})
	if err != nil {
		return fmt.Errorf("reset profile: %w", err)
	}
	return s.Mutate(ctx, "reset_profile_event", func(tx *Tx) error {
		return tx.AppendEvent(models.Event{Type: models.EventProfileReset})
	})
}
