// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package models

import (
	"fmt"
	"strings"
	"time"
)

// FeedbackAction is a user reaction to a delivered candidate.
type FeedbackAction string

const (
	ActionLike    FeedbackAction = "like"
	ActionDislike FeedbackAction = "dislike"
	ActionBlock   FeedbackAction = "block"
)

// ParseFeedbackAction accepts action names and the numeric chat shortcuts
// ("1" like, "2" dislike, "3" block).
func ParseFeedbackAction(s string) (FeedbackAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "like", "1":
		return ActionLike, nil
	case "dislike", "2":
		return ActionDislike, nil
	case "block", "3":
		return ActionBlock, nil
	default:
		return "", fmt.Errorf("unknown feedback action %q", s)
	}
}

// FeedbackEvent is consumed exactly once by the feedback processor.
type FeedbackEvent struct {
	ID      string         `json:"id"`
	WorkID  int64          `json:"work_id" validate:"required,gt=0"`
	Action  FeedbackAction `json:"action" validate:"required,oneof=like dislike block"`
	Channel string         `json:"channel,omitempty"`
	At      time.Time      `json:"at"`
}

// BlockCommand is an explicit human decision on a pending block.
type BlockCommand struct {
	Kind    SubjectKind `json:"kind" validate:"required,oneof=tag artist"`
	Subject string      `json:"subject" validate:"required"`
	Confirm bool        `json:"confirm"`
	Channel string      `json:"channel,omitempty"`
}
