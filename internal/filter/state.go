// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package filter

import (
	"errors"

	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/store"
)

// LoadState snapshots the filter inputs inside one read transaction.
// A missing profile yields an empty one.
func LoadState(tx *store.Tx, configured []models.StrategyStat, subscribed []int64) (State, error) {
	st := State{
		Confidence: make(map[models.StrategyID]float64, len(configured)),
		Subscribed: make(map[int64]bool, len(subscribed)),
	}
	prof, err := tx.Profile()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return st, err
	}
	st.Profile = &prof

	if st.History, err = tx.DeliveryHistory(); err != nil {
		return st, err
	}
	if st.BlockedTags, st.BlockedArtists, err = tx.Blocked(); err != nil {
		return st, err
	}
	if st.ArtistScores, err = tx.ArtistScores(); err != nil {
		return st, err
	}
	stats, err := tx.StrategyStats(configured)
	if err != nil {
		return st, err
	}
	for _, s := range stats {
		st.Confidence[s.ID] = s.Confidence()
	}
	for _, id := range subscribed {
		st.Subscribed[id] = true
	}
	return st, nil
}
