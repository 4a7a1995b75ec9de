// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package source

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
	"github.com/tomtom215/xpfeed/internal/validation"
)

// aiTypeGenerated marks a work the uploader declared as AI generated.
const aiTypeGenerated = 2

// workPage is one page of an illust listing. Entries stay raw so a single
// malformed work cannot fail the whole page.
type workPage struct {
	Illusts []json.RawMessage `json:"illusts"`
	NextURL string            `json:"next_url"`
}

type wireWork struct {
	ID             int64      `json:"id" validate:"required,gt=0"`
	Title          string     `json:"title"`
	User           wireUser   `json:"user" validate:"required"`
	Tags           []wireTag  `json:"tags" validate:"required,min=1,dive"`
	CreateDate     time.Time  `json:"create_date" validate:"required"`
	TotalBookmarks int        `json:"total_bookmarks" validate:"gte=0"`
	XRestrict      int        `json:"x_restrict" validate:"gte=0"`
	AIType         int        `json:"illust_ai_type"`
	PageCount      int        `json:"page_count" validate:"gte=0"`
	ImageURLs      wireImages `json:"image_urls"`
}

type wireUser struct {
	ID   int64  `json:"id" validate:"required,gt=0"`
	Name string `json:"name"`
}

type wireTag struct {
	Name           string `json:"name" validate:"required,tag"`
	TranslatedName string `json:"translated_name"`
}

type wireImages struct {
	Medium string `json:"medium"`
	Large  string `json:"large"`
}

type followingPage struct {
	UserPreviews []struct {
		User wireUser `json:"user"`
	} `json:"user_previews"`
	NextURL string `json:"next_url"`
}

type bookmarkRequest struct {
	IllustID int64  `json:"illust_id"`
	Restrict string `json:"restrict"`
}

func (w *wireWork) candidate() models.Candidate {
	tags := make([]string, 0, len(w.Tags))
	for _, t := range w.Tags {
		tags = append(tags, t.Name)
	}
	image := w.ImageURLs.Large
	if image == "" {
		image = w.ImageURLs.Medium
	}
	return models.Candidate{
		WorkID:      w.ID,
		ArtistID:    w.User.ID,
		ArtistName:  w.User.Name,
		Title:       w.Title,
		Tags:        tags,
		Bookmarks:   w.TotalBookmarks,
		CreatedAt:   w.CreateDate,
		Fingerprint: models.Fingerprint(w.Title, tags),
		AIGenerated: w.AIType == aiTypeGenerated,
		R18:         w.XRestrict > 0,
		PageCount:   w.PageCount,
		ImageURL:    image,
	}
}

// decodeWorks converts raw entries, dropping and counting the malformed ones.
func decodeWorks(endpoint string, raw []json.RawMessage, logger zerolog.Logger) []models.Candidate {
	out := make([]models.Candidate, 0, len(raw))
	for _, entry := range raw {
		var w wireWork
		if err := json.Unmarshal(entry, &w); err != nil {
			malformed(endpoint, logger, err)
			continue
		}
		if verr := validation.ValidateStruct(&w); verr != nil {
			malformed(endpoint, logger, verr)
			continue
		}
		out = append(out, w.candidate())
	}
	return out
}

func malformed(endpoint string, logger zerolog.Logger, err error) {
	metrics.MalformedCandidates.WithLabelValues(endpoint).Inc()
	logger.Debug().Err(err).Str("endpoint", endpoint).Msg("Discarded malformed work")
}
