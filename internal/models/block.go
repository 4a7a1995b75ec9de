// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a block action does not apply to the
// entry's current state.
var ErrInvalidTransition = errors.New("invalid block state transition")

// SubjectKind is what a BlockEntry refers to.
type SubjectKind string

const (
	SubjectTag    SubjectKind = "tag"
	SubjectArtist SubjectKind = "artist"
)

// Valid reports whether k is a known subject kind.
func (k SubjectKind) Valid() bool {
	return k == SubjectTag || k == SubjectArtist
}

// BlockState is the soft-block lifecycle state.
type BlockState string

const (
	BlockActive              BlockState = "active"
	BlockPendingConfirmation BlockState = "pending_confirmation"
	BlockBlocked             BlockState = "blocked"
)

// BlockEntry tracks accumulated dislike for one subject.
type BlockEntry struct {
	Kind      SubjectKind `json:"kind"`
	Subject   string      `json:"subject"`
	Score     float64     `json:"score"`
	State     BlockState  `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewBlockEntry returns a fresh active entry.
func NewBlockEntry(kind SubjectKind, subject string) BlockEntry {
	return BlockEntry{Kind: kind, Subject: subject, State: BlockActive}
}

// Key returns "kind/subject".
func (b BlockEntry) Key() string {
	return string(b.Kind) + "/" + b.Subject
}

// AddScore accumulates dislike. Crossing threshold moves an active entry to
// pending_confirmation; nothing ever reaches blocked from here. The returned
// bool reports whether the state changed.
func (b BlockEntry) AddScore(delta, threshold float64, now time.Time) (BlockEntry, bool) {
	if b.State == BlockBlocked || delta <= 0 {
		return b, false
	}
	b.Score += delta
	b.UpdatedAt = now
	if b.State == BlockActive && b.Score >= threshold {
		b.State = BlockPendingConfirmation
		return b, true
	}
	return b, false
}

// RequestBlock is the manual block action. It asks for confirmation rather
// than blocking outright.
func (b BlockEntry) RequestBlock(threshold float64, now time.Time) (BlockEntry, error) {
	switch b.State {
	case BlockActive:
		if b.Score < threshold {
			b.Score = threshold
		}
		b.State = BlockPendingConfirmation
		b.UpdatedAt = now
		return b, nil
	case BlockPendingConfirmation:
		return b, nil
	default:
		return b, fmt.Errorf("%w: %s %s is already %s", ErrInvalidTransition, b.Kind, b.Subject, b.State)
	}
}

// Confirm moves a pending entry to blocked.
func (b BlockEntry) Confirm(now time.Time) (BlockEntry, error) {
	if b.State != BlockPendingConfirmation {
		return b, fmt.Errorf("%w: confirm requires %s, %s %s is %s",
			ErrInvalidTransition, BlockPendingConfirmation, b.Kind, b.Subject, b.State)
	}
	b.State = BlockBlocked
	b.UpdatedAt = now
	return b, nil
}

// Dismiss rejects a pending block, or lifts a confirmed one, and resets the score.
func (b BlockEntry) Dismiss(now time.Time) (BlockEntry, error) {
	if b.State == BlockActive {
		return b, fmt.Errorf("%w: nothing to dismiss for %s %s", ErrInvalidTransition, b.Kind, b.Subject)
	}
	b.State = BlockActive
	b.Score = 0
	b.UpdatedAt = now
	return b, nil
}
