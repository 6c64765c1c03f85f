// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package gateway is the only component that talks to the hosted backend.
// It wraps the backend's two surfaces, the paginated data API (/obj) and
// the workflow API (/wf), behind typed methods.
//
// Resilience is layered here so callers never implement it themselves:
// client-side rate limiting, exponential backoff on HTTP 429, and a
// circuit breaker around the whole client (see breaker.go).
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/offcourse/offcourse/internal/config"
	"github.com/offcourse/offcourse/internal/metrics"
)

// maxErrorBodySize caps how much of an error response body is kept for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// backoffMaxRetries bounds retry attempts on HTTP 429.
const backoffMaxRetries = 5

// APIError is a non-2xx response from the backend.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %s returned %d: %s", e.Endpoint, e.Status, e.Body)
}

// Client is the low-level HTTP client shared by the data and workflow
// surfaces. Safe for concurrent use.
type Client struct {
	baseURL        string
	apiKey         string
	client         *http.Client
	limiter        *rate.Limiter
	pageSize       int
	retryBaseDelay time.Duration
}

// NewClient builds a gateway client from configuration.
func NewClient(cfg *config.RemoteConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		client:         &http.Client{Timeout: timeout},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		pageSize:       pageSize,
		retryBaseDelay: time.Second,
	}
}

func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	return string(body)
}

// do performs one request with rate limiting and 429 backoff (1s, 2s, 4s,
// 8s, 16s, Retry-After honored). body may be nil. The returned response
// body is open; callers close it.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var lastErr error
	requestID := uuid.NewString()

	for attempt := 0; attempt <= backoffMaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader = http.NoBody
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		// One ID per logical request, kept across 429 retries so the
		// backend can correlate them.
		req.Header.Set("X-Request-Id", requestID)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			metrics.GatewayRequests.WithLabelValues(endpoint, "error").Inc()
			return nil, fmt.Errorf("request %s: %w", endpoint, err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			metrics.GatewayRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			return resp, nil
		}

		metrics.GatewayRequests.WithLabelValues(endpoint, "429").Inc()
		_ = resp.Body.Close()

		if attempt == backoffMaxRetries {
			lastErr = fmt.Errorf("rate limit exceeded after %d retries", backoffMaxRetries)
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
				delay = time.Duration(seconds) * time.Second
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// doJSON performs a request and decodes a JSON response into result.
// result may be nil when the body does not matter.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body []byte, result interface{}) error {
	resp, err := c.do(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Body:     readBodyForError(resp.Body),
		}
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// Ping issues a cheap request to verify the backend is reachable. It is
// what the connectivity monitor probes through when configured to use the
// backend itself rather than a generic endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodHead, "/meta", nil)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &APIError{Endpoint: "/meta", Status: resp.StatusCode}
	}
	return nil
}
