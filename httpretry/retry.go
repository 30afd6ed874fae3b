// Package httpretry wraps an HTTP client with a bounded retry loop that
// understands rate-limit responses.
//
// Non-success responses and transport errors are retried with a linear
// backoff (BaseDelay * attempt). A rate-limited response waits until the
// advertised reset time plus a buffer instead. When the attempts run out the
// caller gets ErrRateLimitExceeded, a *FetchError or the last transport error.
package httpretry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"repufi/logger"
)

// Retry errors
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// FetchError reports a non-success response that survived every attempt or
// was terminal on the first one.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
	Attempts   int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch from %s after %d attempts: %s", e.URL, e.Attempts, e.Status)
}

// Doer is the part of *http.Client the retry loop needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Policy controls how many times a request is attempted and how long to wait
// between attempts.
type Policy struct {
	Attempts        int
	BaseDelay       time.Duration
	RateLimitBuffer time.Duration

	// RateLimited reports whether resp means the quota is exhausted.
	RateLimited func(resp *http.Response) bool
	// ResetAt extracts when the quota refills.
	ResetAt func(resp *http.Response) (time.Time, bool)
	// Terminal reports responses that must not be retried.
	Terminal func(resp *http.Response) bool
}

// DefaultPolicy returns the GitHub flavoured policy: 3 attempts, 1s linear
// backoff, 1s buffer after the rate-limit reset, 404 is terminal.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:        3,
		BaseDelay:       time.Second,
		RateLimitBuffer: time.Second,
		RateLimited:     GitHubRateLimited,
		ResetAt:         GitHubResetAt,
		Terminal:        NotFound,
	}
}

// GitHubRateLimited matches a 403 carrying X-RateLimit-Remaining: 0.
func GitHubRateLimited(resp *http.Response) bool {
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// GitHubResetAt reads the epoch-seconds X-RateLimit-Reset header.
func GitHubResetAt(resp *http.Response) (time.Time, bool) {
	reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(reset, 0), true
}

// NotFound treats 404 as terminal.
func NotFound(resp *http.Response) bool {
	return resp.StatusCode == http.StatusNotFound
}

// Client retries requests according to a Policy.
type Client struct {
	doer   Doer
	policy Policy
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customises a Client.
type Option func(*Client)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleeper replaces the context-aware sleep between attempts.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// New creates a retrying client. Missing attempts, base delay and predicates
// fall back to DefaultPolicy.
func New(doer Doer, policy Policy, opts ...Option) *Client {
	def := DefaultPolicy()
	if policy.Attempts < 1 {
		policy.Attempts = def.Attempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.RateLimitBuffer < 0 {
		policy.RateLimitBuffer = def.RateLimitBuffer
	}
	if policy.RateLimited == nil {
		policy.RateLimited = def.RateLimited
	}
	if policy.ResetAt == nil {
		policy.ResetAt = def.ResetAt
	}
	if policy.Terminal == nil {
		policy.Terminal = def.Terminal
	}

	c := &Client{
		doer:   doer,
		policy: policy,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the effective policy.
func (c *Client) Policy() Policy {
	return c.policy
}

// Do sends req until it succeeds, hits a terminal response or the attempts
// are used up. A successful response is returned with its body open.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	url := req.URL.String()
	attempts := c.policy.Attempts

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptReq, err := rewind(req, attempt)
		if err != nil {
			return nil, err
		}

		resp, err := c.doer.Do(attemptReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt == attempts {
				return nil, err
			}
			delay := c.policy.BaseDelay * time.Duration(attempt)
			logger.Warn("Request failed, retrying",
				zap.String("url", url),
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Duration("wait_time", delay))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		drain(resp)

		if c.policy.RateLimited(resp) {
			if attempt == attempts {
				return nil, fmt.Errorf("%w after %d attempts for %s", ErrRateLimitExceeded, attempts, url)
			}
			wait := c.rateLimitWait(resp)
			logger.Warn("Rate limit exceeded, waiting for reset",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Duration("wait_time", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		fetchErr := &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Attempts:   attempt,
		}
		if c.policy.Terminal(resp) || attempt == attempts {
			return nil, fetchErr
		}

		delay := c.policy.BaseDelay * time.Duration(attempt)
		logger.Warn("Request returned non-success status, retrying",
			zap.String("url", url),
			zap.Int("status_code", resp.StatusCode),
			zap.Int("attempt", attempt),
			zap.Duration("wait_time", delay))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	// Unreachable while Attempts >= 1.
	return nil, fmt.Errorf("failed to fetch from %s after %d attempts", url, attempts)
}

// rateLimitWait is max(0, reset - now + buffer). A missing reset header
// falls back to the buffer alone.
func (c *Client) rateLimitWait(resp *http.Response) time.Duration {
	reset, ok := c.policy.ResetAt(resp)
	if !ok {
		return c.policy.RateLimitBuffer
	}
	wait := reset.Sub(c.now()) + c.policy.RateLimitBuffer
	if wait < 0 {
		return 0
	}
	return wait
}

// rewind returns a request that can be sent again. Requests with a body need
// GetBody for every attempt after the first.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("cannot retry request to %s: body is not rewindable", req.URL)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
