// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/xpfeed/internal/metrics"
)

// ErrCollaboratorUnavailable is returned when an upstream keeps failing
// after retries, or while its circuit breaker is open.
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// maxErrorBodySize limits how much of an error response is read.
const maxErrorBodySize = 64 * 1024

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.Code, e.Body)
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout || e.Code >= 500
}

// retryPolicy is bounded exponential backoff.
type retryPolicy struct {
	attempts   int
	delay      time.Duration
	multiplier float64
}

// transport is the HTTP plumbing shared by the upstream clients: a token
// bucket, bounded retries with backoff, and a circuit breaker around the
// whole retried call.
type transport struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	retry   retryPolicy
	breaker *breaker
	auth    func(*http.Request)
	logger  zerolog.Logger
}

func newTransport(name string, timeout time.Duration, limiter *rate.Limiter, retry retryPolicy, logger zerolog.Logger) *transport {
	if retry.attempts < 1 {
		retry.attempts = 1
	}
	if retry.multiplier < 1 {
		retry.multiplier = 1
	}
	return &transport{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		retry:   retry,
		breaker: newBreaker(name),
		logger:  logger,
	}
}

// call performs one logical request and decodes a JSON response into out
// (nil skips decoding). body, when non-nil, is sent as JSON.
func (t *transport) call(ctx context.Context, endpoint, method, reqURL string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
	}

	_, err := t.breaker.execute(func() (interface{}, error) {
		return nil, t.withRetry(ctx, endpoint, func() error {
			return t.roundTrip(ctx, endpoint, method, reqURL, payload, out)
		})
	})
	return err
}

// withRetry retries temporary failures. Exhausted retries are reported as
// ErrCollaboratorUnavailable; permanent statuses are returned as is.
func (t *transport) withRetry(ctx context.Context, endpoint string, fn func() error) error {
	delay := t.retry.delay
	var err error

	for attempt := 0; attempt < t.retry.attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}

		if attempt < t.retry.attempts-1 {
			wait := delay
			var se *retryAfterError
			if errors.As(err, &se) && se.after > 0 {
				wait = se.after
			}
			metrics.CollaboratorRetries.WithLabelValues(t.name).Inc()
			t.logger.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt+1).
				Int("max_attempts", t.retry.attempts).Dur("delay", wait).Msg("Retry attempt")

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = time.Duration(float64(delay) * t.retry.multiplier)
		}
	}

	return fmt.Errorf("%w: %s %s after %d attempts: %w", ErrCollaboratorUnavailable, t.name, endpoint, t.retry.attempts, err)
}

// retryAfterError carries an upstream Retry-After hint.
type retryAfterError struct {
	*StatusError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.StatusError }

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var de *decodeError
	return !errors.As(err, &de)
}

// decodeError is a response that arrived but could not be parsed. Retrying
// the same request will not fix it.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (t *transport) roundTrip(ctx context.Context, endpoint, method, reqURL string, payload []byte, out interface{}) (err error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	defer func() {
		metrics.RecordCollaboratorRequest(t.name, endpoint, time.Since(start), err)
	}()

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.auth != nil {
		t.auth(req)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: string(readBodyForError(resp.Body))}
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
				return &retryAfterError{StatusError: se, after: time.Duration(secs) * time.Second}
			}
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

// readBodyForError reads at most maxErrorBodySize bytes for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// newLimiter builds a per-minute token bucket; rpm <= 0 disables limiting.
func newLimiter(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60), burst)
}
