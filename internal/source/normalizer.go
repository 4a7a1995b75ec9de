// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package source

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/logging"
)

// MinConfidence is the lowest normalizer confidence accepted. Answers below
// it are left out, so the raw spelling is used.
const MinConfidence = 0.3

// Normalized is one normalizer answer.
type Normalized struct {
	Raw        string    `json:"raw"`
	Canonical  string    `json:"canonical"`
	Confidence *float64  `json:"confidence,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

type normalizeRequest struct {
	Tags []string `json:"tags"`
}

type normalizeResponse struct {
	Results []Normalized `json:"results"`
}

// NormalizerClient calls the AI tag normalizer. It has its own breaker so a
// failing normalizer never trips the content source.
type NormalizerClient struct {
	url string
	t   *transport
}

// NewNormalizerClient builds a normalizer client. The normalizer is not
// retried as aggressively as the content source: one retry, then the caller
// falls back to raw tags.
func NewNormalizerClient(cfg config.NormalizerConfig) *NormalizerClient {
	t := newTransport("normalizer", cfg.Timeout, nil, retryPolicy{
		attempts:   2,
		delay:      500 * time.Millisecond,
		multiplier: 2,
	}, logging.WithComponent("normalizer"))

	key := cfg.APIKey
	t.auth = func(req *http.Request) {
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}
	return &NormalizerClient{url: cfg.URL, t: t}
}

// NormalizeDetailed returns the raw normalizer answers for a batch.
func (n *NormalizerClient) NormalizeDetailed(ctx context.Context, raw []string) ([]Normalized, error) {
	var resp normalizeResponse
	if err := n.t.call(ctx, "normalize", http.MethodPost, n.url, normalizeRequest{Tags: raw}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Normalize maps raw tags to canonical ids. Tags the normalizer skipped, left
// blank or answered with low confidence are absent from the result.
func (n *NormalizerClient) Normalize(ctx context.Context, raw []string) (map[string]string, error) {
	results, err := n.NormalizeDetailed(ctx, raw)
	if err != nil {
		return nil, err
	}
	asked := make(map[string]bool, len(raw))
	for _, r := range raw {
		asked[r] = true
	}

	out := make(map[string]string, len(results))
	for _, r := range results {
		canon := strings.TrimSpace(r.Canonical)
		if !asked[r.Raw] || canon == "" {
			continue
		}
		if r.Confidence != nil && *r.Confidence < MinConfidence {
			continue
		}
		out[r.Raw] = strings.ToLower(canon)
	}
	return out, nil
}
