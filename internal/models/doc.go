// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

/*
Package models defines the data structures shared by every XPFeed component.

Key Components:

  - TagWeight / UserProfile: the taste profile produced by the weight model
  - Candidate: an immutable work proposed by a discovery strategy
  - StrategyStat: per-strategy bandit statistics and quota bounds
  - BlockEntry: soft-block state machine for tags and artists
  - FeedbackEvent: a user action on a delivered candidate

Ownership:

UserProfile is only ever rebuilt by the profile package. StrategyStat and
BlockEntry are only mutated inside store transactions issued by the feedback
processor and the run pipeline. Candidates are never edited after a strategy
produces them; the filter package only accepts or rejects them.
*/
package models
