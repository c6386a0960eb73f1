package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-history-collector/internal/circuitbreaker"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
)

// Page sources, used as metric labels.
const (
	SourceHourlyMonth = "hourly_month"
	SourceHourlyDay   = "hourly_day"
	SourceDayLength   = "daylength"
)

const maxPageBytes = 8 << 20

// ClientConfig configures a PageClient. Zero values take defaults.
type ClientConfig struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	UserAgent      string
	// Limiter, when set, paces every request to the site.
	Limiter *rate.Limiter
	// Breaker, when set, guards every request to the site.
	Breaker *circuitbreaker.CircuitBreaker
}

// PageClient loads upstream pages over HTTP with per-call timeouts, bounded
// retries with exponential backoff, and optional pacing and circuit breaking.
type PageClient struct {
	client         *http.Client
	timeout        time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	userAgent      string
	limiter        *rate.Limiter
	breaker        *circuitbreaker.CircuitBreaker
}

// NewPageClient returns a client without cookies; use WithCookies for sessions.
func NewPageClient(cfg ClientConfig) *PageClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "weather-history-collector/1.0"
	}
	return &PageClient{
		client:         &http.Client{Timeout: cfg.Timeout},
		timeout:        cfg.Timeout,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		userAgent:      cfg.UserAgent,
		limiter:        cfg.Limiter,
		breaker:        cfg.Breaker,
	}
}

// WithCookies returns a copy of the client carrying its own cookie jar, so a
// session's navigation state stays isolated from other sessions.
func (c *PageClient) WithCookies() *PageClient {
	jar, _ := cookiejar.New(nil) // only errors on a bad PublicSuffixList
	cp := *c
	cp.client = &http.Client{
		Timeout:   c.client.Timeout,
		Transport: c.client.Transport,
		Jar:       jar,
	}
	return &cp
}

// CloseIdleConnections releases pooled connections.
func (c *PageClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// Get loads url and returns its body. Every error wraps ErrFetch.
func (c *PageClient) Get(ctx context.Context, source, url string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.PageFetchRetriesTotal.WithLabelValues(source).Inc()
			if err := Sleep(ctx, Backoff(c.retryBaseDelay, c.retryMaxDelay, attempt)); err != nil {
				return "", fmt.Errorf("%w: %s: %w", ErrFetch, url, err)
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("%w: %s: %w", ErrFetch, url, err)
			}
		}

		body, err := c.guarded(ctx, source, url)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			return "", fmt.Errorf("%w: %s: %w", ErrFetch, url, err)
		}
	}

	return "", fmt.Errorf("%w: %s: exhausted %d attempts: %w", ErrFetch, url, c.retryAttempts, lastErr)
}

func (c *PageClient) guarded(ctx context.Context, source, url string) (string, error) {
	if c.breaker == nil {
		return c.load(ctx, source, url)
	}
	var body string
	err := c.breaker.Call(ctx, func() error {
		var err error
		body, err = c.load(ctx, source, url)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return "", ErrCircuitOpen
	}
	return body, err
}

func (c *PageClient) load(ctx context.Context, source, url string) (string, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		observability.PageFetchesTotal.WithLabelValues(source, "error").Inc()
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		observability.PageFetchesTotal.WithLabelValues(source, "error").Inc()
		observability.PageFetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
			return "", fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	observability.PageFetchesTotal.WithLabelValues(source, statusLabel(resp.StatusCode)).Inc()
	observability.PageFetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	if err := statusError(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return string(body), nil
}

func statusError(code int) error {
	switch code {
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if code >= 500 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, code)
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, code)
	}
	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Backoff returns the exponential delay before retry attempt (1-based), capped
// at max, plus up to 10% jitter.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
