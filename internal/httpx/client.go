// Package httpx wraps outbound JSON GET calls with per-endpoint pacing,
// a consecutive-throttle circuit breaker and bounded retries.
package httpx

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
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"puckbot/internal/metrics"
	logx "puckbot/pkg/logx"
)

// StatusError reports a non-retriable HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

var ErrRetriesExhausted = errors.New("retries exhausted")

// Config holds effective client settings.
//
// Rates maps a logical endpoint key to a requests-per-second cap; keys not
// present fall back to DefaultRate. The breaker counts consecutive 429
// responses per key and, once BreakerTrip is reached, opens for
// BreakerCooldown. Server errors (5xx) and transport errors retry with the
// same backoff but never trip the breaker.
type Config struct {
	Rates       map[string]float64
	DefaultRate float64

	MaxRetries      int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	BreakerTrip     int
	BreakerCooldown time.Duration

	Timeout time.Duration // per-attempt
}

func (c Config) withDefaults() Config {
	if c.DefaultRate <= 0 {
		c.DefaultRate = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 7
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Minute
	}
	if c.BreakerTrip <= 0 {
		c.BreakerTrip = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 3 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// breakerState tracks consecutive throttle responses for a single endpoint key.
//
// On a successful response the count resets and the circuit closes.
// On a 429 the count increments and, once it reaches the trip threshold,
// the circuit opens for a fixed cooldown. Callers that enter an open window
// sleep out the remainder before issuing the request.
type breakerState struct {
	consecutive int
	openUntil   time.Time
}

type Client struct {
	hc  *http.Client
	log logx.Logger
	met *metrics.Metrics
	cfg Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*breakerState
}

func New(cfg Config, log logx.Logger, met *metrics.Metrics) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		hc:       &http.Client{Timeout: cfg.Timeout},
		log:      log,
		met:      met,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		limiters: map[string]*rate.Limiter{},
		breakers: map[string]*breakerState{},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) limiter(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim := c.limiters[key]
	if lim == nil {
		rps := c.cfg.Rates[key]
		if rps <= 0 {
			rps = c.cfg.DefaultRate
		}
		lim = rate.NewLimiter(rate.Limit(rps), 1)
		c.limiters[key] = lim
	}
	return lim
}

func (c *Client) breaker(key string) *breakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.breakers[key]
	if st == nil {
		st = &breakerState{}
		c.breakers[key] = st
	}
	return st
}

// GetJSON fetches url (with optional query params) and decodes the JSON body
// into out. The key selects the pacing bucket and breaker for the endpoint.
//
// Behavior per attempt:
//   - 2xx: decode and return; closes the breaker.
//   - 429: counts toward the breaker; waits Retry-After when present,
//     otherwise jittered exponential backoff.
//   - 5xx or transport error: retried with backoff, breaker untouched.
//   - anything else: fails immediately with *StatusError.
func (c *Client) GetJSON(ctx context.Context, key, rawURL string, params url.Values, out any) error {
	full := rawURL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		full = rawURL + sep + params.Encode()
	}

	if err := c.limiter(key).Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.waitForBreaker(ctx, key); err != nil {
			return err
		}

		status, retryAfter, body, err := c.doOnce(ctx, full)
		if err != nil {
			lastErr = err
			c.met.ObserveProviderRequest(key, "error")
			c.log.Debug("request failed",
				logx.String("key", key), logx.Int("attempt", attempt), logx.Err(err))
			if attempt < c.cfg.MaxRetries {
				c.met.IncProviderRetry(key)
				if err := c.sleep(ctx, c.backoffDelay(attempt)); err != nil {
					return err
				}
			}
			continue
		}

		switch {
		case status >= 200 && status < 300:
			c.recordSuccess(key)
			c.met.ObserveProviderRequest(key, "ok")
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			return nil

		case status == http.StatusTooManyRequests:
			delay := c.recordThrottle(key, attempt, retryAfter)
			lastErr = &StatusError{Code: status, URL: full}
			c.met.ObserveProviderRequest(key, "throttled")
			c.log.Warn("throttled by provider",
				logx.String("key", key), logx.Int("attempt", attempt), logx.Duration("delay", delay))
			if attempt < c.cfg.MaxRetries {
				c.met.IncProviderRetry(key)
				if err := c.sleep(ctx, delay); err != nil {
					return err
				}
			}

		case status >= 500:
			lastErr = &StatusError{Code: status, URL: full}
			c.met.ObserveProviderRequest(key, "server_error")
			c.log.Debug("server error",
				logx.String("key", key), logx.Int("status", status), logx.Int("attempt", attempt))
			if attempt < c.cfg.MaxRetries {
				c.met.IncProviderRetry(key)
				if err := c.sleep(ctx, c.backoffDelay(attempt)); err != nil {
					return err
				}
			}

		default:
			c.met.ObserveProviderRequest(key, "error")
			return &StatusError{Code: status, URL: full}
		}
	}

	if lastErr == nil {
		lastErr = ErrRetriesExhausted
	}
	return fmt.Errorf("%s: %w", key, lastErr)
}

// doOnce issues one GET and returns the status, any Retry-After hint,
// and the (bounded) response body.
func (c *Client) doOnce(ctx context.Context, fullURL string) (int, time.Duration, []byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return 0, 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "puckbot")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, 0, nil, err
	}
	return resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), body, nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (c *Client) waitForBreaker(ctx context.Context, key string) error {
	st := c.breaker(key)
	c.mu.Lock()
	remain := st.openUntil.Sub(c.now())
	c.mu.Unlock()
	if remain <= 0 {
		return nil
	}
	c.log.Warn("breaker open; waiting",
		logx.String("key", key), logx.Duration("remaining", remain))
	return c.sleep(ctx, remain)
}

func (c *Client) recordSuccess(key string) {
	st := c.breaker(key)
	c.mu.Lock()
	st.consecutive = 0
	st.openUntil = time.Time{}
	c.mu.Unlock()
}

// recordThrottle registers one 429 and returns how long the caller should
// wait before retrying. Retry-After (capped at BackoffMax) wins over the
// computed backoff.
func (c *Client) recordThrottle(key string, attempt int, retryAfter time.Duration) time.Duration {
	st := c.breaker(key)

	c.mu.Lock()
	st.consecutive++
	tripped := st.consecutive >= c.cfg.BreakerTrip
	if tripped {
		st.openUntil = c.now().Add(c.cfg.BreakerCooldown)
		st.consecutive = 0
	}
	c.mu.Unlock()

	if tripped {
		c.met.IncBreakerOpen(key)
		c.log.Warn("breaker tripped",
			logx.String("key", key), logx.Duration("cooldown", c.cfg.BreakerCooldown))
	}

	if retryAfter > 0 {
		if retryAfter > c.cfg.BackoffMax {
			retryAfter = c.cfg.BackoffMax
		}
		return retryAfter
	}
	return c.backoffDelay(attempt)
}

// backoffDelay computes jittered exponential backoff for a 1-based attempt.
func (c *Client) backoffDelay(attempt int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.BackoffMax {
			d = c.cfg.BackoffMax
			break
		}
	}

	c.mu.Lock()
	factor := 0.7 + c.rng.Float64()*0.6
	c.mu.Unlock()

	d = time.Duration(float64(d) * factor)
	if d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}
	if d < 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	return d
}

// BreakerOpenUntil reports the open deadline for a key (zero when closed).
func (c *Client) BreakerOpenUntil(key string) time.Time {
	st := c.breaker(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.openUntil
}

// SetClocks overrides the time source and sleep function. Test hook.
func (c *Client) SetClocks(now func() time.Time, sleep func(context.Context, time.Duration) error) {
	if now != nil {
		c.now = now
	}
	if sleep != nil {
		c.sleep = sleep
	}
}
