// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package store

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/xpfeed/internal/models"
)

// Profile returns the current profile or ErrNotFound.
func (t *Tx) Profile() (models.UserProfile, error) {
	var p models.UserProfile
	err := t.getJSON(keyProfile, &p)
	return p, err
}

// PutProfile replaces the current profile.
func (t *Tx) PutProfile(p models.UserProfile) error { return t.setJSON(keyProfile, p) }

// Pairs returns the stored tag co-occurrence pairs (empty when unset).
func (t *Tx) Pairs() ([]models.TagPair, error) {
	var pairs []models.TagPair
	if err := t.getJSON(keyPairs, &pairs); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return pairs, nil
}

// PutPairs replaces the tag pairs.
func (t *Tx) PutPairs(pairs []models.TagPair) error { return t.setJSON(keyPairs, pairs) }

// IPTags returns the copyright tag set synced from Danbooru.
func (t *Tx) IPTags() ([]string, error) {
	var tags []string
	if err := t.getJSON(keyIPTags, &tags); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return tags, nil
}

// PutIPTags replaces the synced copyright tag set.
func (t *Tx) PutIPTags(tags []string) error { return t.setJSON(keyIPTags, tags) }

// Baseline returns the tag document-frequency baseline, empty when none
// has been observed yet.
func (t *Tx) Baseline() (models.Baseline, error) {
	var b models.Baseline
	if err := t.getJSON(keyBaseline, &b); err != nil && !errors.Is(err, ErrNotFound) {
		return b, err
	}
	return b, nil
}

// ObservePool decays the baseline and folds in one candidate pool.
func (t *Tx) ObservePool(tagSets [][]string, alpha float64) error {
	b, err := t.Baseline()
	if err != nil {
		return err
	}
	return t.setJSON(keyBaseline, b.Observe(tagSets, alpha))
}

// StrategyStats overlays persisted counters onto the configured strategies.
// Strategies without a record start at zero attempts.
func (t *Tx) StrategyStats(configured []models.StrategyStat) ([]models.StrategyStat, error) {
	out := make([]models.StrategyStat, len(configured))
	for i, c := range configured {
		var persisted models.StrategyStat
		err := t.getJSON(strategyKey(c.ID), &persisted)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		c.Attempts = persisted.Attempts
		c.Successes = persisted.Successes
		c.LastFavoredAt = persisted.LastFavoredAt
		out[i] = c
	}
	return out, nil
}

// StrategyStat returns the counters for one strategy (zero when unset).
func (t *Tx) StrategyStat(id models.StrategyID) (models.StrategyStat, error) {
	s := models.StrategyStat{ID: id}
	if err := t.getJSON(strategyKey(id), &s); err != nil && !errors.Is(err, ErrNotFound) {
		return s, err
	}
	return s, nil
}

// PutStrategyStat stores the counters for one strategy.
func (t *Tx) PutStrategyStat(s models.StrategyStat) error {
	return t.setJSON(strategyKey(s.ID), s)
}

// Block returns the entry for a subject, or a fresh active entry.
func (t *Tx) Block(kind models.SubjectKind, subject string) (models.BlockEntry, error) {
	var b models.BlockEntry
	err := t.getJSON(blockKey(kind, subject), &b)
	if errors.Is(err, ErrNotFound) {
		return models.NewBlockEntry(kind, subject), nil
	}
	return b, err
}

// PutBlock stores a block entry.
func (t *Tx) PutBlock(b models.BlockEntry) error {
	return t.setJSON(blockKey(b.Kind, b.Subject), b)
}

// Blocks lists entries in the given state, or all entries when state is "".
func (t *Tx) Blocks(state models.BlockState) ([]models.BlockEntry, error) {
	var out []models.BlockEntry
	err := scanJSON(t, prefixBlock, false, func(_ string, b models.BlockEntry) error {
		if state == "" || b.State == state {
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

// Blocked returns the confirmed-blocked tags and artists.
func (t *Tx) Blocked() (map[string]bool, map[int64]bool, error) {
	tags, artists := map[string]bool{}, map[int64]bool{}
	entries, err := t.Blocks(models.BlockBlocked)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range entries {
		switch b.Kind {
		case models.SubjectTag:
			tags[b.Subject] = true
		case models.SubjectArtist:
			if id, err := strconv.ParseInt(b.Subject, 10, 64); err == nil {
				artists[id] = true
			}
		}
	}
	return tags, artists, nil
}

// ArtistScore returns an artist's affinity (zero when unset).
func (t *Tx) ArtistScore(id int64) (models.ArtistScore, error) {
	a := models.ArtistScore{ArtistID: id}
	if err := t.getJSON(artistKey(id), &a); err != nil && !errors.Is(err, ErrNotFound) {
		return a, err
	}
	return a, nil
}

// PutArtistScore stores an artist's affinity.
func (t *Tx) PutArtistScore(a models.ArtistScore) error {
	return t.setJSON(artistKey(a.ArtistID), a)
}

// ArtistScores returns every artist's EMA score.
func (t *Tx) ArtistScores() (map[int64]float64, error) {
	out := map[int64]float64{}
	err := scanJSON(t, prefixArtist, false, func(_ string, a models.ArtistScore) error {
		out[a.ArtistID] = a.Score
		return nil
	})
	return out, err
}

// IncrLikedTags bumps the liked-tag counter for each tag.
func (t *Tx) IncrLikedTags(tags []string) error {
	for _, tag := range tags {
		var n int
		if err := t.getJSON(likedKey(tag), &n); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := t.setJSON(likedKey(tag), n+1); err != nil {
			return err
		}
	}
	return nil
}

// LikedTags returns the liked-tag counters.
func (t *Tx) LikedTags() (map[string]int, error) {
	out := map[string]int{}
	err := scanJSON(t, prefixLiked, false, func(key string, n int) error {
		out[strings.TrimPrefix(key, prefixLiked)] = n
		return nil
	})
	return out, err
}

// MarkDelivered records a delivery for the dedup window. Keys expire with
// the window so history stays bounded.
func (t *Tx) MarkDelivered(c models.Candidate, window time.Duration) error {
	if err := t.setJSONTTL(deliveredIDKey(c.WorkID), t.now, window); err != nil {
		return err
	}
	if c.Fingerprint != "" {
		return t.setJSONTTL(deliveredFPKey(c.Fingerprint), t.now, window)
	}
	return nil
}

// DeliveryHistory loads every unexpired delivery record.
func (t *Tx) DeliveryHistory() (models.DeliveryHistory, error) {
	h := models.NewDeliveryHistory()
	err := scanJSON(t, prefixDelivID, false, func(key string, at time.Time) error {
		if id, err := strconv.ParseInt(strings.TrimPrefix(key, prefixDelivID), 10, 64); err == nil {
			h.IDs[id] = at
		}
		return nil
	})
	if err != nil {
		return h, err
	}
	err = scanJSON(t, prefixDelivFP, false, func(key string, at time.Time) error {
		h.Fingerprints[strings.TrimPrefix(key, prefixDelivFP)] = at
		return nil
	})
	return h, err
}

// CacheCandidate keeps a delivered candidate so feedback can resolve it by id.
func (t *Tx) CacheCandidate(c models.Candidate, ttl time.Duration) error {
	return t.setJSONTTL(candidateKey(c.WorkID), c, ttl)
}

// Candidate returns a cached candidate or ErrNotFound.
func (t *Tx) Candidate(workID int64) (models.Candidate, error) {
	var c models.Candidate
	err := t.getJSON(candidateKey(workID), &c)
	return c, err
}

// AppendEvent adds e to the log, filling ID and At when empty.
func (t *Tx) AppendEvent(e models.Event) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.At.IsZero() {
		e.At = t.now
	}
	return t.setJSON(eventKey(e.At, e.ID), e)
}

// Events returns log entries at or after since, oldest first.
func (t *Tx) Events(since time.Time) ([]models.Event, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixEvent)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []models.Event
	for it.Seek([]byte(prefixEvent + tsKey(since))); it.ValidForPrefix(opts.Prefix); it.Next() {
		var e models.Event
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CanonicalTags returns cached raw->canonical mappings for the given tags.
func (t *Tx) CanonicalTags(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, r := range raw {
		var c string
		err := t.getJSON(tagNormKey(r), &c)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[r] = c
	}
	return out, nil
}

// PutCanonical caches a raw->canonical mapping.
func (t *Tx) PutCanonical(raw, canonical string) error {
	return t.setJSON(tagNormKey(raw), canonical)
}

// PutTagSpellings replaces the spelling counts with those of the latest
// bookmark scan. Spellings the scan no longer saw are removed.
func (t *Tx) PutTagSpellings(spellings map[string]map[string]int) error {
	var stale []string
	err := t.scan(prefixTagMap, false, func(key string, _ []byte) error {
		stale = append(stale, key)
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range stale {
		if err := t.del(key); err != nil {
			return err
		}
	}
	for canonical, raws := range spellings {
		for raw, n := range raws {
			if err := t.setJSON(tagMapKey(canonical, raw), n); err != nil {
				return err
			}
		}
	}
	return nil
}

// BestSearchTags maps each canonical tag to its most frequent raw spelling.
func (t *Tx) BestSearchTags() (map[string]string, error) {
	best := map[string]string{}
	counts := map[string]int{}
	err := scanJSON(t, prefixTagMap, false, func(key string, n int) error {
		canonical, raw, ok := splitTagMapKey(key)
		if !ok {
			return nil
		}
		if cur, seen := counts[canonical]; !seen || n > cur || (n == cur && raw < best[canonical]) {
			counts[canonical] = n
			best[canonical] = raw
		}
		return nil
	})
	return best, err
}

// BoostOverrides returns runtime boost-tag overrides.
func (t *Tx) BoostOverrides() (map[string]float64, error) {
	out := map[string]float64{}
	err := scanJSON(t, prefixBoost, false, func(key string, m float64) error {
		out[strings.TrimPrefix(key, prefixBoost)] = m
		return nil
	})
	return out, err
}

// PutBoost stores a runtime boost override.
func (t *Tx) PutBoost(tag string, multiplier float64) error {
	return t.setJSON(boostKey(tag), multiplier)
}

// DeleteBoost removes a runtime boost override.
func (t *Tx) DeleteBoost(tag string) error { return t.del(boostKey(tag)) }

// PutRunReport stores a run report keyed by start time.
func (t *Tx) PutRunReport(r models.RunReport) error {
	return t.setJSON(runKey(r.StartedAt, r.ID), r)
}

// RunReports returns up to limit reports, newest first.
func (t *Tx) RunReports(limit int) ([]models.RunReport, error) {
	var out []models.RunReport
	err := scanJSON(t, prefixRun, true, func(_ string, r models.RunReport) error {
		if limit > 0 && len(out) >= limit {
			return errStopScan
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// RecordDelivery marks c delivered for the dedup window, caches it for
// feedback lookups, counts an attempt for its strategy and logs the event.
func (t *Tx) RecordDelivery(c models.Candidate, window time.Duration, channel string, cascade bool) error {
	if err := t.MarkDelivered(c, window); err != nil {
		return err
	}
	if err := t.CacheCandidate(c, window); err != nil {
		return err
	}
	if c.Strategy != "" {
		s, err := t.StrategyStat(c.Strategy)
		if err != nil {
			return err
		}
		s.Attempts++
		if err := t.PutStrategyStat(s); err != nil {
			return err
		}
	}
	return t.AppendEvent(models.Event{
		Type:     models.EventDelivered,
		WorkID:   c.WorkID,
		ArtistID: c.ArtistID,
		Strategy: c.Strategy,
		Tags:     c.Tags,
		Channel:  channel,
		Cascade:  cascade,
	})
}

// ClaimFeedback records a feedback event id and reports whether it was
// already processed within ttl.
func (t *Tx) ClaimFeedback(id string, ttl time.Duration) (bool, error) {
	if id == "" {
		return false, nil
	}
	var at time.Time
	err := t.getJSON(feedbackIDKey(id), &at)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	return false, t.setJSONTTL(feedbackIDKey(id), t.now, ttl)
}

// RecentLikes returns the work ids of the newest likes, newest first.
func (t *Tx) RecentLikes(limit int) ([]int64, error) {
	var out []int64
	seen := map[int64]bool{}
	err := scanJSON(t, prefixEvent, true, func(_ string, e models.Event) error {
		if limit > 0 && len(out) >= limit {
			return errStopScan
		}
		if e.Type == models.EventFeedback && e.Action == models.ActionLike && !seen[e.WorkID] {
			seen[e.WorkID] = true
			out = append(out, e.WorkID)
		}
		return nil
	})
	return out, err
}

// AffinityArtists returns artists with a positive score, best first.
func (t *Tx) AffinityArtists(limit int) ([]int64, error) {
	var scores []models.ArtistScore
	err := scanJSON(t, prefixArtist, false, func(_ string, a models.ArtistScore) error {
		if a.Score > 0 {
			scores = append(scores, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ArtistID < scores[j].ArtistID
	})
	out := make([]int64, 0, len(scores))
	for i, a := range scores {
		if limit > 0 && i >= limit {
			break
		}
		out = append(out, a.ArtistID)
	}
	return out, nil
}
