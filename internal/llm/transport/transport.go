// Package transport provides the HTTP plumbing shared by every Provider
// Adapter: a rate-limited, retrying client, request tracing, and a
// Server-Sent-Events frame decoder for providers that stream over raw HTTP
// rather than a vendor SDK's own transport.
package transport

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Config controls retry/backoff and rate limiting for a Client.
type Config struct {
	// MaxRetries is the number of retry attempts after the initial try.
	// Default: 3.
	MaxRetries int
	// BaseDelay is the starting backoff delay; each retry doubles it.
	// Default: 500ms.
	BaseDelay time.Duration
	// Timeout bounds a single request/stream, end to end. Zero means no
	// additional deadline beyond the caller's context.
	Timeout time.Duration
	// RequestsPerSecond rate-limits outbound requests ahead of retry, 0
	// disables limiting.
	RequestsPerSecond float64
	// HTTPClient is the underlying client to wrap; defaults to
	// http.DefaultClient's transport if nil.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

// Client is a provider-agnostic HTTP transport: retry with exponential
// backoff, an optional token-bucket rate limiter, and an OpenTelemetry span
// around each attempt.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	tracer  trace.Tracer
}

// New constructs a Client from cfg, applying sane defaults.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	if cfg.Timeout > 0 {
		hc := *cfg.HTTPClient
		hc.Timeout = cfg.Timeout
		cfg.HTTPClient = &hc
	}
	c := &Client{cfg: cfg, tracer: otel.Tracer("agentcore/llm/transport")}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// IsRetryable classifies transport-level errors as worth a retry. Provider
// adapters combine this with their own wire-level classification (rate
// limit bodies, 5xx status codes already surfaced as *StatusError).
type IsRetryable func(err error) bool

// StatusError wraps a non-2xx HTTP response so callers can inspect the
// status code without re-parsing the response.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected status %d", e.StatusCode)
}

// DefaultIsRetryable retries on 429 and 5xx responses (*StatusError) and
// returns false for any other error. Do retries network errors from the
// HTTP client on its own, without consulting it.
func DefaultIsRetryable(err error) bool {
	var statusErr *StatusError
	if asStatusError(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return false
}

func asStatusError(err error, target **StatusError) bool {
	se, ok := err.(*StatusError)
	if !ok {
		return false
	}
	*target = se
	return true
}

// Do executes build (which constructs a fresh *http.Request each attempt,
// since a request body reader cannot be replayed across retries), retrying
// per cfg.MaxRetries/BaseDelay with exponential backoff when retryable is
// true for the returned error. The first successful (2xx) response is
// returned unread; callers own closing resp.Body.
func (c *Client) Do(ctx context.Context, name string, retryable IsRetryable, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if retryable == nil {
		retryable = DefaultIsRetryable
	}

	ctx, span := c.tracer.Start(ctx, "llm."+name)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				span.SetStatus(codes.Error, ctx.Err().Error())
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}

		req, err := build(ctx)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("transport: build request: %w", err)
		}

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				span.SetStatus(codes.Error, ctx.Err().Error())
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
			return resp, nil
		}

		statusErr := newStatusError(resp)
		lastErr = statusErr
		if !retryable(statusErr) {
			span.SetStatus(codes.Error, statusErr.Error())
			return nil, statusErr
		}
	}

	span.SetStatus(codes.Error, "max retries exceeded")
	return nil, fmt.Errorf("transport: max retries exceeded: %w", lastErr)
}
