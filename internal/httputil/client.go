// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the shared resilient HTTP layer: a retrying
// client with exponential backoff and per-resource token-bucket rate
// limiting. Every stage that talks to an external API goes through it.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned for HTTP 404. Callers must treat it as
// "resource absent", never as a transient failure.
var ErrNotFound = errors.New("resource not found")

// NetworkError reports that the retry budget was exhausted without a
// usable response.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Backoff parameters. BackoffBase is a var so tests can avoid real sleeps.
var BackoffBase = 500 * time.Millisecond

const (
	backoffCap        = 8 * time.Second
	defaultMaxRetries = 5
)

// retryableStatus lists the statuses treated as transient.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client wraps an *http.Client with retry, backoff, and injected rate
// limiting. The zero value is not usable; construct with NewClient.
type Client struct {
	hc         *http.Client
	limiters   *Registry
	userAgent  string
	maxRetries int
}

// NewClient builds a client over hc using the injected limiter registry.
// When maxRetries is 0 the default (5) is used.
func NewClient(hc *http.Client, limiters *Registry, userAgent string, maxRetries int) *Client {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Client{hc: hc, limiters: limiters, userAgent: userAgent, maxRetries: maxRetries}
}

// Get fetches rawURL with params and headers, retrying transient
// failures. When resource names a registered limiter, one token is
// debited before every attempt. It returns the body and Content-Type on
// success, ErrNotFound on 404, and a *NetworkError once the budget is
// exhausted. Non-retryable statuses fail immediately.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string, resource string) ([]byte, string, error) {
	reqURL := rawURL
	if len(params) > 0 {
		reqURL = rawURL + "?" + params.Encode()
	}

	var limiter *Limiter
	if resource != "" && c.limiters != nil {
		limiter = c.limiters.Get(resource)
	}

	var lastErr error
	var serverWait time.Duration
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt - 1)
			if serverWait > 0 {
				delay = serverWait
			}
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, "", err
			}
		}

		if limiter != nil {
			if err := limiter.Acquire(ctx); err != nil {
				return nil, "", err
			}
		}

		body, ctype, retryAfter, err := c.attempt(ctx, reqURL, headers)
		switch {
		case err == nil:
			return body, ctype, nil
		case errors.Is(err, ErrNotFound):
			return nil, "", err
		case ctx.Err() != nil:
			return nil, "", ctx.Err()
		}

		var tr *transientError
		if !errors.As(err, &tr) {
			// Permanent failure (other 4xx): no retry.
			return nil, "", err
		}
		lastErr = err
		serverWait = retryAfter
	}

	return nil, "", &NetworkError{URL: rawURL, Attempts: c.maxRetries, Err: lastErr}
}

// GetJSON fetches and decodes a JSON body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, headers map[string]string, resource string, v any) error {
	h := map[string]string{"Accept": "application/json"}
	for k, val := range headers {
		h[k] = val
	}
	body, _, err := c.Get(ctx, rawURL, params, h, resource)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parsing JSON from %s: %w", rawURL, err)
	}
	return nil
}

// GetText fetches a textual body.
func (c *Client) GetText(ctx context.Context, rawURL string, params url.Values, headers map[string]string, resource string) (string, error) {
	body, _, err := c.Get(ctx, rawURL, params, headers, resource)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// transientError marks failures eligible for retry.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// attempt performs a single request. A non-zero retryAfter carries a
// server-supplied Retry-After wait, already capped.
func (c *Client) attempt(ctx context.Context, reqURL string, headers map[string]string) (body []byte, ctype string, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", 0, fmt.Errorf("creating request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient.
		return nil, "", 0, &transientError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, "", 0, ErrNotFound
	case retryableStatus[resp.StatusCode]:
		io.Copy(io.Discard, resp.Body)
		return nil, "", parseRetryAfter(resp.Header.Get("Retry-After")),
			&transientError{fmt.Errorf("HTTP %d from %s", resp.StatusCode, reqURL)}
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, resp.Body)
		return nil, "", 0, fmt.Errorf("HTTP %d from %s", resp.StatusCode, reqURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", 0, &transientError{fmt.Errorf("reading body: %w", err)}
	}
	return data, resp.Header.Get("Content-Type"), 0, nil
}

// backoffDelay returns the wait before retry number attempt+1: base
// doubling per attempt, capped at 8s, with jitter in [0.5, 1.0] of the
// computed delay.
func backoffDelay(attempt int) time.Duration {
	d := BackoffBase << uint(attempt)
	if d > backoffCap {
		d = backoffCap
	}
	return time.Duration(float64(d) * (0.5 + 0.5*rand.Float64()))
}

// parseRetryAfter honors a numeric Retry-After header, capped at the
// backoff ceiling. Date-form values are ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs * float64(time.Second))
	if d > backoffCap {
		d = backoffCap
	}
	return d
}
