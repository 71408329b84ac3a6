// Package external is the boundary between the billing domain and third-party
// vendor APIs. All outbound HTTP calls are routed through BaseClient, which
// enforces consistent resilience patterns: circuit breaking, retries with
// exponential backoff, request id propagation, and mapping of upstream
// failures to types.AppError.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"stowage/internal/types"
)

// RetryPolicy configures the retry behavior of a BaseClient. MaxRetries
// counts retries after the first attempt; waits between attempts stay in
// [MinWait, MaxWait].
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the policy used for payment-provider calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// BaseClient wraps an *http.Client and a circuit breaker to enforce
// consistent resilience patterns on all outbound HTTP calls. Provider
// clients such as StripeInvoiceDispatcher hold a BaseClient and inherit this
// behavior.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	wait        func(ctx context.Context, d time.Duration) error
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithWaitFunc replaces the wait between retries. Tests use it to avoid
// real delays.
func WithWaitFunc(fn func(ctx context.Context, d time.Duration) error) BaseClientOption {
	return func(c *BaseClient) {
		c.wait = fn
	}
}

// WithBreaker replaces the default circuit breaker. This is useful for tests
// or when several clients share one breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) {
		c.breaker = cb
	}
}

// NewBaseClient creates a BaseClient with the given http client, breaker
// name, retry policy and user agent.
//
// The breaker trips after more than five consecutive failures, stays open
// for 30 seconds and then lets a single probe request through (half-open).
// Failure counts reset every 60 seconds while closed.
func NewBaseClient(httpClient *http.Client, breakerName string, policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	bc := &BaseClient{
		client: httpClient,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		retryPolicy: policy,
		userAgent:   userAgent,
		wait:        sleepContext,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes the HTTP request with:
//  1. Request id injection (X-Request-Id from context)
//  2. User-Agent header injection
//  3. Circuit breaker wrapping
//  4. Retry on 429, 5xx and transport errors (respecting Retry-After)
//  5. Error mapping to types.AppError
//
// On success (2xx/3xx/4xx other than 429), Do returns the response as-is.
// The caller is responsible for closing the response body.
//
// On exhausted retries or an open circuit breaker, Do returns a
// types.AppError with the matching upstream error code.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if reqID := types.GetRequestID(req.Context()); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	var (
		lastResp *http.Response
		lastErr  error
	)
	attempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		if lastResp != nil {
			_ = lastResp.Body.Close()
		}
		lastResp, lastErr = resp, err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt == attempts-1 {
			break
		}
		if werr := c.wait(req.Context(), c.backoff(attempt, resp)); werr != nil {
			lastErr = werr
			break
		}
	}

	if lastResp != nil {
		_ = lastResp.Body.Close()
	}
	return nil, mapUpstreamError(lastResp, lastErr)
}

// backoff determines the wait before the next attempt. It honours the
// Retry-After header (seconds or HTTP date) when present, otherwise it uses
// exponential backoff with jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) backoff(attempt int, resp *http.Response) time.Duration {
	p := c.retryPolicy
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return min(time.Duration(secs)*time.Second, p.MaxWait)
			}
			if at, err := http.ParseTime(ra); err == nil {
				return max(min(time.Until(at), p.MaxWait), p.MinWait)
			}
		}
	}

	ceiling := math.Min(float64(p.MinWait)*math.Pow(2, float64(attempt)), float64(p.MaxWait))
	if ceiling <= float64(p.MinWait) {
		return p.MinWait
	}
	return time.Duration(float64(p.MinWait) + rand.Float64()*(ceiling-float64(p.MinWait)))
}

// mapUpstreamError translates HTTP-level failures into upstream AppErrors.
// A final 429 maps to upstream_rate_limited; an open breaker, an abandoned
// call and exhausted 5xx or transport retries map to upstream_unavailable.
func mapUpstreamError(resp *http.Response, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker is open", err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream call abandoned", err)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case resp != nil && resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}
