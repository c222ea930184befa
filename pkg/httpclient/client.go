// Package httpclient wraps the rate-limited transport in pkg/ratelimit with
// a small JSON request helper: bounded-concurrency, paced requests that
// retry transient failures and translate JIRA's HTTP status codes into the
// jml error taxonomy.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/jira-magic-library/jml/pkg/config"
	jmlerrors "github.com/jira-magic-library/jml/pkg/errors"
	"github.com/jira-magic-library/jml/pkg/ratelimit"
)

const (
	defaultTimeout = 10 * time.Second
	bulkTimeout    = 30 * time.Second
	maxAttempts    = 3
)

var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Option configures a single request.
type Option func(*requestOpts)

type requestOpts struct {
	bulk    bool
	timeout time.Duration
}

// WithTimeout overrides the request timeout (default 10s, 30s for bulk).
func WithTimeout(d time.Duration) Option {
	return func(o *requestOpts) { o.timeout = d }
}

// WithBulk marks the request as a bulk operation, raising its default
// timeout to 30s per the bulk issue create/fetch endpoints.
func WithBulk() Option {
	return func(o *requestOpts) { o.bulk = true }
}

// Client is a small JSON-over-HTTP client layered on the rate-limited
// transport. It is the transport every other package in this module issues
// JIRA REST calls through.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     logr.Logger
}

// New builds a Client from cfg, wiring up the rate limiter and bearer
// token transport exactly as the teacher's pkg/client does.
func New(cfg *config.Config, log logr.Logger) *Client {
	limiter := ratelimit.NewRateLimiter(cfg)
	transport := ratelimit.NewBearerTokenRateLimitedTransport(cfg.JIRAToken, limiter)

	return &Client{
		baseURL: strings.TrimSuffix(cfg.JIRABaseURL, "/"),
		token:   cfg.JIRAToken,
		http:    &http.Client{Transport: transport},
		log:     log,
	}
}

// Get issues a GET request against path, decoding the JSON response body
// into out (which may be nil to discard the body).
func (c *Client) Get(ctx context.Context, path string, out any, opts ...Option) error {
	return c.do(ctx, http.MethodGet, path, nil, out, opts...)
}

// Post issues a POST request, encoding body as the JSON payload.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...Option) error {
	return c.do(ctx, http.MethodPost, path, body, out, opts...)
}

// Put issues a PUT request, encoding body as the JSON payload.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...Option) error {
	return c.do(ctx, http.MethodPut, path, body, out, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...Option) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, opts...)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, opts ...Option) error {
	ro := requestOpts{}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.timeout == 0 {
		ro.timeout = defaultTimeout
		if ro.bulk {
			ro.timeout = bulkTimeout
		}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return jmlerrors.InputParse("failed to marshal request body", err)
		}
	}

	url := c.baseURL + path
	if !strings.HasPrefix(c.baseURL, "https://") {
		c.log.Info("jira base URL does not use https", "baseURL", c.baseURL)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return jmlerrors.NetworkError("request cancelled during retry backoff", ctx.Err())
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, ro.timeout)
		req, err := http.NewRequestWithContext(reqCtx, method, url, bytes.NewReader(payload))
		if err != nil {
			cancel()
			return jmlerrors.NetworkError("failed to build request", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			cancel()
			lastErr = jmlerrors.NetworkError(fmt.Sprintf("%s %s failed", method, path), err)
			if isTimeoutErr(err) && attempt < maxAttempts-1 {
				continue
			}
			return lastErr
		}

		respErr, retry := c.handle(resp, out, method, path)
		cancel()
		if respErr == nil {
			return nil
		}
		lastErr = respErr
		if !retry || attempt == maxAttempts-1 {
			return lastErr
		}
	}
	return lastErr
}

// handle classifies the response into the jml error taxonomy. The second
// return value reports whether the caller should retry: only 429 (rate
// limited) and 503 (service unavailable) are transient by JIRA's own
// convention, so only those two are retried.
func (c *Client) handle(resp *http.Response, out any, method, path string) (error, bool) {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusNoContent {
		return nil, false
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return jmlerrors.InputParse("failed to decode response body", err), false
			}
		}
		return nil, false
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return jmlerrors.AuthenticationError(fmt.Sprintf("%s %s rejected by JIRA (HTTP %d)", method, path, resp.StatusCode), raw), false
	case resp.StatusCode == http.StatusNotFound:
		return jmlerrors.NotFound(fmt.Sprintf("%s %s: resource not found", method, path), nil), false
	case resp.StatusCode == http.StatusBadRequest:
		return jmlerrors.Validation(fmt.Sprintf("%s %s rejected: %s", method, path, string(raw)), parseFieldErrors(raw)), false
	case resp.StatusCode == http.StatusTooManyRequests:
		return jmlerrors.RateLimitErr(fmt.Sprintf("%s %s rate limited", method, path), raw), true
	case resp.StatusCode == http.StatusServiceUnavailable:
		return jmlerrors.JiraServer(fmt.Sprintf("%s %s: JIRA unavailable (HTTP 503)", method, path), raw), true
	case resp.StatusCode >= 500:
		return jmlerrors.JiraServer(fmt.Sprintf("%s %s: JIRA server error (HTTP %d)", method, path, resp.StatusCode), raw), false
	default:
		return jmlerrors.JiraServer(fmt.Sprintf("%s %s: unexpected status %d", method, path, resp.StatusCode), raw), false
	}
}

// parseFieldErrors attempts to decode JIRA's {"errors": {"field": "msg"}}
// error envelope. When "errors" is absent or empty, it falls back to the
// flat "errorMessages" list JIRA sends for request-level (non-field)
// rejections, folding it into the same field-keyed shape under "_error".
// It degrades to a nil map when the body matches neither.
func parseFieldErrors(raw []byte) jmlerrors.FieldErrors {
	var envelope struct {
		Errors        jmlerrors.FieldErrors `json:"errors"`
		ErrorMessages []string              `json:"errorMessages"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	if len(envelope.Errors) > 0 {
		return envelope.Errors
	}
	if len(envelope.ErrorMessages) > 0 {
		return jmlerrors.FieldErrors{"_error": strings.Join(envelope.ErrorMessages, "; ")}
	}
	return nil
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return strings.Contains(err.Error(), "context deadline exceeded")
}
