// Package metricsapi wraps the quota-constrained external monitoring API.
// The client is constructed once per process and shared by reference: quota
// state lives behind a single mutex and burst concurrency is capped by a
// counting semaphore, so concurrent callers can never bypass throttling.
package metricsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nimbusops/nimbus/internal/logger"
)

// Quota headers returned by the monitoring API.
const (
	headerQuotaRemaining = "X-Quota-Remaining"
	headerQuotaReset     = "X-Quota-Reset"
	headerRetryAfter     = "Retry-After"
)

// ErrThrottled is returned when the API keeps throttling after the maximum
// number of retry attempts.
var ErrThrottled = errors.New("metricsapi: throttled, retry attempts exhausted")

// ErrTransient is returned when network-level failures persist past the
// maximum number of retry attempts.
var ErrTransient = errors.New("metricsapi: transient failure, retry attempts exhausted")

// Request describes one call to the monitoring API.
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	Body   interface{}
}

// Response carries the raw result of a successful call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Config holds client configuration.
type Config struct {
	BaseURL       string
	APIKey        string
	MaxConcurrent int
	QuotaBuffer   int
	MaxRetries    int
	Timeout       time.Duration
	// Backoff overrides the default schedule (1s, 5s, 15s). Used by tests.
	Backoff []time.Duration
}

// Client is a shared, rate-limited monitoring API client. It holds no
// business knowledge; any module needing the monitoring API calls through it.
type Client struct {
	http        *resty.Client
	sem         chan struct{}
	quotaBuffer int
	maxRetries  int
	backoff     []time.Duration
	log         *logger.Logger

	mu             sync.Mutex
	remainingQuota int // -1 until the first response reports it
	quotaResetAt   time.Time
}

// New creates a monitoring API client.
// Parameters:
//   - cfg: client configuration; zero fields fall back to defaults.
//   - log: logger instance.
// Returns:
//   - *Client: initialized client.
func New(cfg *Config, log *logger.Logger) *Client {
	httpClient := resty.New()
	httpClient.SetBaseURL(cfg.BaseURL)
	httpClient.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	httpClient.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	} else {
		httpClient.SetTimeout(30 * time.Second)
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	quotaBuffer := cfg.QuotaBuffer
	if quotaBuffer <= 0 {
		quotaBuffer = 5
	}
	backoff := cfg.Backoff
	if len(backoff) == 0 {
		backoff = []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &Client{
		http:           httpClient,
		sem:            make(chan struct{}, maxConcurrent),
		quotaBuffer:    quotaBuffer,
		maxRetries:     maxRetries,
		backoff:        backoff,
		log:            log.WithField(logger.FieldComponent, "metricsapi"),
		remainingQuota: -1,
	}
}

// Call executes one request against the monitoring API, honoring the
// concurrency cap, the remaining-quota buffer, and the bounded retry policy.
// Throttling and transient network failures are retried on separate counters;
// exhausted retries surface as ErrThrottled or ErrTransient.
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	if err := c.waitForQuota(ctx); err != nil {
		return nil, err
	}

	throttleAttempts := 0
	transientAttempts := 0

	for {
		resp, err := c.execute(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			transientAttempts++
			if transientAttempts >= c.maxRetries {
				return nil, fmt.Errorf("%w: %v", ErrTransient, err)
			}
			c.log.WithError(err).Warnf("transient failure calling %s, attempt %d", req.Path, transientAttempts)
			if err := c.sleep(ctx, c.backoffFor(transientAttempts-1)); err != nil {
				return nil, err
			}
			continue
		}

		c.updateQuota(resp)

		if resp.StatusCode() == http.StatusTooManyRequests {
			throttleAttempts++
			if throttleAttempts >= c.maxRetries {
				return nil, ErrThrottled
			}
			wait := c.retryAfter(resp)
			if wait <= 0 {
				wait = c.backoffFor(throttleAttempts - 1)
			}
			c.log.Warnf("throttled calling %s, attempt %d, waiting %s", req.Path, throttleAttempts, wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		return &Response{
			StatusCode: resp.StatusCode(),
			Body:       resp.Body(),
		}, nil
	}
}

// RemainingQuota returns the last quota reading and its reset time.
func (c *Client) RemainingQuota() (int, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingQuota, c.quotaResetAt
}

func (c *Client) execute(ctx context.Context, req *Request) (*resty.Response, error) {
	r := c.http.R().SetContext(ctx)
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return r.Execute(method, req.Path)
}

// waitForQuota blocks until the quota window resets when the last reading is
// below the safety buffer. Unknown quota (before any response) never blocks.
func (c *Client) waitForQuota(ctx context.Context) error {
	c.mu.Lock()
	remaining := c.remainingQuota
	resetAt := c.quotaResetAt
	c.mu.Unlock()

	if remaining < 0 || remaining >= c.quotaBuffer {
		return nil
	}
	wait := time.Until(resetAt)
	if wait <= 0 {
		return nil
	}

	c.log.Warnf("quota low (%d remaining), waiting %s for reset", remaining, wait)
	if err := c.sleep(ctx, wait); err != nil {
		return err
	}

	// The window has rolled over; forget the stale reading.
	c.mu.Lock()
	if c.quotaResetAt.Equal(resetAt) {
		c.remainingQuota = -1
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) updateQuota(resp *resty.Response) {
	remaining, err := strconv.Atoi(resp.Header().Get(headerQuotaRemaining))
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.remainingQuota = remaining
	if reset := resp.Header().Get(headerQuotaReset); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			c.quotaResetAt = time.Unix(epoch, 0)
		}
	}
}

func (c *Client) retryAfter(resp *resty.Response) time.Duration {
	value := resp.Header().Get(headerRetryAfter)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func (c *Client) backoffFor(attempt int) time.Duration {
	if attempt >= len(c.backoff) {
		attempt = len(c.backoff) - 1
	}
	return c.backoff[attempt]
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
