// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/logging"
)

const (
	// danbooruCopyrightCategory is Danbooru's tag category for franchises.
	danbooruCopyrightCategory = "3"
	danbooruPageSize          = 200
)

type danbooruTag struct {
	Name      string `json:"name"`
	PostCount int    `json:"post_count"`
}

// DanbooruClient reads the copyright tag index used as the IP tag set.
type DanbooruClient struct {
	baseURL      string
	minPostCount int
	limit        int
	t            *transport
}

// NewDanbooruClient builds a Danbooru client.
// Credentials go in a basic auth header so they never show up in URLs that
// end up in error messages.
func NewDanbooruClient(cfg config.DanbooruConfig) *DanbooruClient {
	t := newTransport("danbooru", cfg.Timeout, newLimiter(60, 2), retryPolicy{
		attempts:   3,
		delay:      time.Second,
		multiplier: 2,
	}, logging.WithComponent("danbooru"))

	login, key := cfg.Login, cfg.APIKey
	t.auth = func(req *http.Request) {
		if login != "" {
			req.SetBasicAuth(login, key)
		}
	}
	return &DanbooruClient{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		minPostCount: cfg.MinPostCount,
		limit:        cfg.Limit,
		t:            t,
	}
}

// CopyrightTags returns up to the configured limit of copyright tags with
// more than MinPostCount posts, most used first. A failing page ends the
// sync with the tags gathered so far and the error.
func (d *DanbooruClient) CopyrightTags(ctx context.Context) ([]string, error) {
	var out []string
	seen := map[string]bool{}

	for page := 1; len(out) < d.limit; page++ {
		q := url.Values{}
		q.Set("search[category]", danbooruCopyrightCategory)
		q.Set("search[post_count]", ">"+strconv.Itoa(d.minPostCount))
		q.Set("search[order]", "count")
		q.Set("limit", strconv.Itoa(danbooruPageSize))
		q.Set("page", strconv.Itoa(page))

		var tags []danbooruTag
		if err := d.t.call(ctx, "tags", http.MethodGet, d.baseURL+"/tags.json?"+q.Encode(), nil, &tags); err != nil {
			return out, err
		}
		if len(tags) == 0 {
			break
		}
		for _, tag := range tags {
			name := strings.ToLower(strings.TrimSpace(tag.Name))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
			if len(out) >= d.limit {
				break
			}
		}
	}
	return out, nil
}
