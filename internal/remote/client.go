// Package remote applies the call policy shared by every external model
// service: per-attempt timeout, bounded retry with backoff, a token-bucket
// rate limiter and a circuit breaker.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/matsen/kbase/internal/logging"
	"github.com/matsen/kbase/internal/metrics"
)

const (
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 2

	// DefaultBaseDelay is the first backoff delay; it doubles per retry.
	DefaultBaseDelay = 200 * time.Millisecond

	// DefaultMaxDelay caps the backoff delay.
	DefaultMaxDelay = 5 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 32 << 20

	// maxErrorBody bounds how much of an error body reaches error text.
	maxErrorBody = 512

	// breakerTripAfter is the consecutive-failure count that opens the breaker.
	breakerTripAfter = 5
)

// Policy configures timeouts, retries and rate limiting for one service.
type Policy struct {
	Timeout           time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestsPerSecond float64 // 0 disables limiting
}

// DefaultPolicy returns the standard call policy.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Client performs HTTP calls to one external service under a Policy.
type Client struct {
	service    string
	policy     Policy
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithPolicy replaces the default policy. Zero durations keep their defaults.
func WithPolicy(p Policy) Option {
	return func(c *Client) {
		if p.Timeout > 0 {
			c.policy.Timeout = p.Timeout
		}
		if p.MaxRetries >= 0 {
			c.policy.MaxRetries = p.MaxRetries
		}
		if p.BaseDelay > 0 {
			c.policy.BaseDelay = p.BaseDelay
		}
		if p.MaxDelay > 0 {
			c.policy.MaxDelay = p.MaxDelay
		}
		c.policy.RequestsPerSecond = p.RequestsPerSecond
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for retry and breaker events.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records every logical call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a client for the named service.
func New(service string, opts ...Option) *Client {
	c := &Client{
		service:    service,
		policy:     DefaultPolicy(),
		httpClient: &http.Client{},
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.policy.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(c.policy.RequestsPerSecond), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	log := c.logger.With("service", service)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
		IsSuccessful: countsAsHealthy,
	})
	return c
}

// Service returns the service name used in errors and metrics.
func (c *Client) Service() string {
	return c.service
}

// RequestFunc builds a fresh request for each attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Do runs build under the policy and returns the body of the first 2xx
// response. Any failure is an *ExternalCallError.
func (c *Client) Do(ctx context.Context, op string, build RequestFunc) ([]byte, error) {
	start := time.Now()
	body, err := c.do(ctx, op, build)
	c.metrics.ObserveExternal(c.service, op, err, time.Since(start))
	if err != nil {
		ext := &ExternalCallError{Service: c.service, Op: op, Err: err}
		var se *StatusError
		if errors.As(err, &se) {
			ext.StatusCode = se.StatusCode
		}
		return nil, ext
	}
	return body, nil
}

// PostJSON marshals in, POSTs it to url with headers and decodes the
// response into out.
func (c *Client) PostJSON(ctx context.Context, op, url string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &ExternalCallError{Service: c.service, Op: op, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	body, err := c.Do(ctx, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ExternalCallError{Service: c.service, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op string, build RequestFunc) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.delay(attempt-1, lastErr)); err != nil {
				return nil, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.attempt(ctx, build)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(ctx, err) || attempt == c.policy.MaxRetries {
			break
		}
		c.logger.Warn("retrying external call",
			"service", c.service, "op", op, "attempt", attempt+1, "error", err.Error())
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, build RequestFunc) ([]byte, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		actx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
		defer cancel()

		req, err := build(actx)
		if err != nil {
			return nil, &buildError{err: err}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{
				StatusCode: resp.StatusCode,
				Body:       truncate(data, maxErrorBody),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// delay returns the wait before retry n (0-based). A Retry-After header
// wins when present, capped at MaxDelay.
func (c *Client) delay(n int, lastErr error) time.Duration {
	var se *StatusError
	if errors.As(lastErr, &se) && se.RetryAfter > 0 {
		return min(se.RetryAfter, c.policy.MaxDelay)
	}
	return Backoff(c.policy.BaseDelay, c.policy.MaxDelay, n)
}

// Backoff returns base << n capped at ceiling.
func Backoff(base, ceiling time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 20 {
		return ceiling
	}
	d := base << n
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var be *buildError
	if errors.As(err, &be) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	// Network failures and per-attempt timeouts.
	return true
}

// countsAsHealthy keeps client-side mistakes from tripping the breaker.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	var be *buildError
	if errors.As(err, &be) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(bytes.TrimSpace(b))
	}
	return string(bytes.TrimSpace(b[:n])) + "..."
}

type buildError struct {
	err error
}

func (e *buildError) Error() string { return "building request: " + e.err.Error() }
func (e *buildError) Unwrap() error { return e.err }
