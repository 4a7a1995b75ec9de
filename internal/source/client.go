// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

/*
Package source holds the HTTP clients for the upstream collaborators: the
artwork content source, the AI tag normalizer and the Danbooru tag index.

Every client shares one transport:
  - a token bucket (golang.org/x/time/rate) in front of each request
  - bounded retries with exponential backoff for temporary failures
  - a circuit breaker (sony/gobreaker) around each logical call

Exhausted retries and open breakers surface as ErrCollaboratorUnavailable so
callers can skip the failing strategy and carry on. Individual works that
fail validation are dropped and counted; their siblings are kept.
*/
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/discovery"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/models"
)

// maxPages bounds pagination for a single call.
const maxPages = 10

// Client talks to the artwork content source.
//
// It satisfies discovery.ContentSource, feedback.RelatedSource and
// profile.BookmarkSource. Safe for concurrent use.
type Client struct {
	baseURL string
	userID  int64
	t       *transport
	logger  zerolog.Logger
}

// NewClient builds a content-source client from configuration.
func NewClient(cfg config.SourceConfig) *Client {
	logger := logging.WithComponent("source")
	t := newTransport("content-source", cfg.Timeout, newLimiter(cfg.RequestsPerMinute, cfg.Burst), retryPolicy{
		attempts:   cfg.RetryAttempts,
		delay:      cfg.RetryDelay,
		multiplier: cfg.RetryMultiplier,
	}, logger)

	token := cfg.Token
	t.auth = func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		userID:  cfg.UserID,
		t:       t,
		logger:  logger,
	}
}

// BreakerState reports the content-source circuit breaker state.
func (c *Client) BreakerState() string {
	return c.t.breaker.State()
}

func (c *Client) endpointURL(path string, q url.Values) string {
	if len(q) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + q.Encode()
}

// resolveNext turns a next_url into an absolute URL on the configured host.
// Links pointing anywhere else end pagination.
func (c *Client) resolveNext(next string) string {
	if next == "" {
		return ""
	}
	if strings.HasPrefix(next, "/") {
		return c.baseURL + next
	}
	if strings.HasPrefix(next, c.baseURL+"/") {
		return next
	}
	return ""
}

// works pages through an illust listing until limit works are kept, the
// upstream runs out, or keep returns stop.
func (c *Client) works(ctx context.Context, endpoint, first string, limit int, keep func(models.Candidate) (ok, stop bool)) ([]models.Candidate, error) {
	var out []models.Candidate
	next := first

	for page := 0; next != "" && page < maxPages && len(out) < limit; page++ {
		var resp workPage
		if err := c.t.call(ctx, endpoint, http.MethodGet, next, nil, &resp); err != nil {
			if len(out) > 0 {
				// Earlier pages are still good; report the failure with them.
				return out, err
			}
			return nil, err
		}

		stopped := false
		for _, cand := range decodeWorks(endpoint, resp.Illusts, c.logger) {
			ok, stop := true, false
			if keep != nil {
				ok, stop = keep(cand)
			}
			if stop {
				stopped = true
				break
			}
			if ok {
				out = append(out, cand)
				if len(out) >= limit {
					break
				}
			}
		}
		if stopped {
			break
		}
		next = c.resolveNext(resp.NextURL)
	}
	return out, nil
}

// Bookmarks returns the user's most recent bookmarks, newest first. Private
// bookmarks are appended after public ones when includePrivate is set.
func (c *Client) Bookmarks(ctx context.Context, limit int, includePrivate bool) ([]models.Candidate, error) {
	restricts := []string{"public"}
	if includePrivate {
		restricts = append(restricts, "private")
	}

	var out []models.Candidate
	for _, restrict := range restricts {
		q := url.Values{}
		q.Set("user_id", strconv.FormatInt(c.userID, 10))
		q.Set("restrict", restrict)
		got, err := c.works(ctx, "bookmarks", c.endpointURL("/v1/user/bookmarks/illust", q), limit-len(out), nil)
		out = append(out, got...)
		if err != nil {
			return out, fmt.Errorf("bookmarks (%s): %w", restrict, err)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Search runs a tag search. Works below MinBookmarks or older than Since are
// dropped here so a sparse page does not eat the budget.
func (c *Client) Search(ctx context.Context, sq discovery.SearchQuery) ([]models.Candidate, error) {
	if len(sq.Terms) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("word", strings.Join(sq.Terms, " "))
	q.Set("search_target", "partial_match_for_tags")
	q.Set("sort", "date_desc")
	if sq.MinBookmarks > 0 {
		q.Set("bookmark_num_min", strconv.Itoa(sq.MinBookmarks))
	}
	if !sq.Since.IsZero() {
		q.Set("start_date", sq.Since.UTC().Format("2006-01-02"))
	}

	return c.works(ctx, "search", c.endpointURL("/v1/search/illust", q), sq.Limit, func(cand models.Candidate) (bool, bool) {
		if !sq.Since.IsZero() && cand.CreatedAt.Before(sq.Since) {
			return false, false
		}
		return cand.Bookmarks >= sq.MinBookmarks, false
	})
}

// ArtistWorks lists an artist's works newer than since.
func (c *Client) ArtistWorks(ctx context.Context, artistID int64, since time.Time, limit int) ([]models.Candidate, error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(artistID, 10))
	q.Set("type", "illust")

	return c.works(ctx, "artist_works", c.endpointURL("/v1/user/illusts", q), limit, func(cand models.Candidate) (bool, bool) {
		// Listings are newest first, so the first old work ends the scan.
		if !since.IsZero() && cand.CreatedAt.Before(since) {
			return false, true
		}
		return true, false
	})
}

// FollowFeed lists new works from followed artists.
func (c *Client) FollowFeed(ctx context.Context, limit int) ([]models.Candidate, error) {
	q := url.Values{}
	q.Set("restrict", "all")
	return c.works(ctx, "follow_feed", c.endpointURL("/v2/illust/follow", q), limit, nil)
}

// Ranking lists a ranking chart (day, week, month, week_rookie, ...).
func (c *Client) Ranking(ctx context.Context, mode string, limit int) ([]models.Candidate, error) {
	q := url.Values{}
	q.Set("mode", mode)
	return c.works(ctx, "ranking", c.endpointURL("/v1/illust/ranking", q), limit, nil)
}

// RecommendedFeed lists the upstream's own recommendations for the user.
func (c *Client) RecommendedFeed(ctx context.Context, limit int) ([]models.Candidate, error) {
	q := url.Values{}
	q.Set("content_type", "illust")
	return c.works(ctx, "recommended", c.endpointURL("/v1/illust/recommended", q), limit, nil)
}

// Related lists works related to workID.
func (c *Client) Related(ctx context.Context, workID int64, limit int) ([]models.Candidate, error) {
	q := url.Values{}
	q.Set("illust_id", strconv.FormatInt(workID, 10))
	return c.works(ctx, "related", c.endpointURL("/v2/illust/related", q), limit, nil)
}

// AddBookmark bookmarks a work publicly.
func (c *Client) AddBookmark(ctx context.Context, workID int64) error {
	body := bookmarkRequest{IllustID: workID, Restrict: "public"}
	return c.t.call(ctx, "bookmark_add", http.MethodPost, c.endpointURL("/v2/illust/bookmark/add", nil), body, nil)
}

// Following lists the ids of artists the user follows. The pipeline merges
// them into the subscription set.
func (c *Client) Following(ctx context.Context, limit int) ([]int64, error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(c.userID, 10))
	q.Set("restrict", "public")
	next := c.endpointURL("/v1/user/following", q)

	var ids []int64
	for page := 0; next != "" && page < maxPages && len(ids) < limit; page++ {
		var resp followingPage
		if err := c.t.call(ctx, "following", http.MethodGet, next, nil, &resp); err != nil {
			return ids, err
		}
		for _, p := range resp.UserPreviews {
			if p.User.ID > 0 && len(ids) < limit {
				ids = append(ids, p.User.ID)
			}
		}
		next = c.resolveNext(resp.NextURL)
	}
	return ids, nil
}
