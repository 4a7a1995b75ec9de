// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package models

import "time"

// DeliveryHistory holds when each work id and fingerprint was last delivered.
type DeliveryHistory struct {
	IDs          map[int64]time.Time
	Fingerprints map[string]time.Time
}

// NewDeliveryHistory returns an empty history.
func NewDeliveryHistory() DeliveryHistory {
	return DeliveryHistory{IDs: map[int64]time.Time{}, Fingerprints: map[string]time.Time{}}
}

// Seen reports whether id or fingerprint was delivered at or after cutoff.
func (h DeliveryHistory) Seen(id int64, fingerprint string, cutoff time.Time) bool {
	if at, ok := h.IDs[id]; ok && !at.Before(cutoff) {
		return true
	}
	if fingerprint == "" {
		return false
	}
	at, ok := h.Fingerprints[fingerprint]
	return ok && !at.Before(cutoff)
}

// Add records a delivery.
func (h DeliveryHistory) Add(c Candidate, at time.Time) {
	h.IDs[c.WorkID] = at
	if c.Fingerprint != "" {
		h.Fingerprints[c.Fingerprint] = at
	}
}
