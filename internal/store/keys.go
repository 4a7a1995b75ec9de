// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/xpfeed/internal/models"
)

// Key layout. Timestamps are zero-padded nanoseconds so keys sort by time.
const (
	keyProfile       = "profile/current"
	keyPairs         = "profile/pairs"
	keyIPTags        = "meta/iptags"
	keyBaseline      = "meta/baseline"
	prefixStrategy   = "strategy/"
	prefixBlock      = "block/"
	prefixArtist     = "artist/"
	prefixLiked      = "liked/"
	prefixDelivID    = "delivered/id/"
	prefixDelivFP    = "delivered/fp/"
	prefixCandidate  = "cand/"
	prefixEvent      = "event/"
	prefixTagNorm    = "tagnorm/"
	prefixTagMap     = "tagmap/"
	prefixBoost      = "boost/"
	prefixRun        = "run/"
	prefixFeedbackID = "fbid/"
	tagMapSeparator  = "\x00"
	timestampKeySize = 20
)

func tsKey(t time.Time) string {
	return fmt.Sprintf("%0*d", timestampKeySize, t.UnixNano())
}

func strategyKey(id models.StrategyID) string { return prefixStrategy + string(id) }

func blockKey(kind models.SubjectKind, subject string) string {
	return prefixBlock + string(kind) + "/" + subject
}

func artistKey(id int64) string { return prefixArtist + strconv.FormatInt(id, 10) }

func likedKey(tag string) string { return prefixLiked + tag }

func deliveredIDKey(id int64) string { return prefixDelivID + strconv.FormatInt(id, 10) }

func deliveredFPKey(fp string) string { return prefixDelivFP + fp }

func candidateKey(id int64) string { return prefixCandidate + strconv.FormatInt(id, 10) }

func eventKey(at time.Time, id string) string { return prefixEvent + tsKey(at) + "/" + id }

func tagNormKey(raw string) string { return prefixTagNorm + raw }

func tagMapKey(canonical, raw string) string {
	return prefixTagMap + canonical + tagMapSeparator + raw
}

func feedbackIDKey(id string) string { return prefixFeedbackID + id }

func boostKey(tag string) string { return prefixBoost + tag }

func runKey(at time.Time, id string) string { return prefixRun + tsKey(at) + "/" + id }

func newID() string { return uuid.New().String() }

// splitTagMapKey returns (canonical, raw) from a tagmap key.
func splitTagMapKey(key string) (string, string, bool) {
	rest := strings.TrimPrefix(key, prefixTagMap)
	canonical, raw, ok := strings.Cut(rest, tagMapSeparator)
	return canonical, raw, ok
}
