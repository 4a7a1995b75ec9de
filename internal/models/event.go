// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package models

import "time"

// EventType names an entry in the append-only event log.
type EventType string

const (
	EventDelivered       EventType = "delivered"
	EventFeedback        EventType = "feedback"
	EventBlockTransition EventType = "block_transition"
	EventProfileBuilt    EventType = "profile_built"
	EventProfileReset    EventType = "profile_reset"
	EventBoostChanged    EventType = "boost_changed"
	EventRunFinished     EventType = "run_finished"
)

// Event is one immutable log record. Materialized views (profile, stats,
// blocks, artist scores) are written in the same transaction as the event
// that explains them.
type Event struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	At       time.Time      `json:"at"`
	WorkID   int64          `json:"work_id,omitempty"`
	ArtistID int64          `json:"artist_id,omitempty"`
	Strategy StrategyID     `json:"strategy,omitempty"`
	Action   FeedbackAction `json:"action,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Kind     SubjectKind    `json:"kind,omitempty"`
	Subject  string         `json:"subject,omitempty"`
	State    BlockState     `json:"state,omitempty"`
	Channel  string         `json:"channel,omitempty"`
	Cascade  bool           `json:"cascade,omitempty"`
	Value    float64        `json:"value,omitempty"`
}

// ArtistScore is the feedback-driven affinity for one artist, an EMA in [-1,1].
type ArtistScore struct {
	ArtistID  int64     `json:"artist_id"`
	Name      string    `json:"name,omitempty"`
	Score     float64   `json:"score"`
	Likes     int       `json:"likes"`
	Dislikes  int       `json:"dislikes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Toward moves the score toward target by alpha and clamps to [-1,1].
func (a ArtistScore) Toward(target, alpha float64, now time.Time) ArtistScore {
	a.Score = a.Score + alpha*(target-a.Score)
	if a.Score > 1 {
		a.Score = 1
	} else if a.Score < -1 {
		a.Score = -1
	}
	a.UpdatedAt = now
	return a
}
