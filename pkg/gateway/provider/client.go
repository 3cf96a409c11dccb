// Package provider executes outbound HTTP calls to upstream LLM
// providers.
//
// The client owns connection pooling and the retry policy. It never
// fabricates upstream responses: after retries are exhausted the last
// response the provider actually produced is returned, whatever its
// status.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mercator-hq/gateway/pkg/gateway/headers"
)

// Hop-specific headers stripped before forwarding, in addition to the
// gateway's own vendor-prefixed surface.
var strippedHeaders = []string{"Content-Length", "Host", "Content-Encoding"}

// Statuses that indicate a transient upstream failure worth retrying.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusInternalServerError || status == 522
}

// Options configures the outbound HTTP client.
type Options struct {
	// Timeout is the per-call ceiling for normal requests.
	Timeout time.Duration

	// ExtendedTimeout is used when the request carries the
	// increase-timeout feature flag (deliberately slow completions).
	ExtendedTimeout time.Duration

	// Connection pool settings.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultOptions returns the client defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:             2 * time.Minute,
		ExtendedTimeout:     10 * time.Minute,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
}

// RetryOptions configures CallWithRetry's exponential backoff.
type RetryOptions struct {
	// Retries is the number of additional attempts after the first.
	Retries int

	// Factor multiplies the delay between consecutive attempts.
	Factor float64

	// MinTimeout and MaxTimeout bound the backoff delay.
	MinTimeout time.Duration
	MaxTimeout time.Duration
}

// CallProps describes one outbound call.
type CallProps struct {
	Method string
	URL    string

	// Headers are the inbound request headers; the gateway surface
	// and hop headers are stripped before forwarding.
	Headers http.Header

	// Body is the raw request body; nil for bodiless methods.
	Body []byte

	// IncreaseTimeout selects the extended-timeout client.
	IncreaseTimeout bool
}

// Client performs outbound provider calls.
type Client struct {
	standard *http.Client
	extended *http.Client
	logger   *slog.Logger
}

// NewClient creates a provider client with pooled transports.
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		standard: &http.Client{Transport: transport, Timeout: opts.Timeout},
		extended: &http.Client{Transport: transport, Timeout: opts.ExtendedTimeout},
		logger:   slog.Default().With("component", "provider"),
	}
}

// Call performs a single outbound call. The response body is returned
// unread so streaming pass-through adds no buffering.
func (c *Client) Call(ctx context.Context, props CallProps) (*http.Response, error) {
	var bodyReader io.Reader
	if props.Body != nil {
		bodyReader = bytes.NewReader(props.Body)
	}

	req, err := http.NewRequestWithContext(ctx, props.Method, props.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}
	req.Header = SanitizeHeaders(props.Headers)

	client := c.standard
	if props.IncreaseTimeout {
		client = c.extended
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider call failed: %w", err)
	}
	return resp, nil
}

// CallWithRetry performs the call, retrying transient upstream
// statuses (429, 500, 522) with exponential backoff. When retries are
// exhausted the last received response is returned rather than an
// error; an error is returned only when no response was ever obtained.
func (c *Client) CallWithRetry(ctx context.Context, props CallProps, retry *RetryOptions) (*http.Response, error) {
	if retry == nil {
		return c.Call(ctx, props)
	}

	delays := &backoff.ExponentialBackOff{
		InitialInterval:     retry.MinTimeout,
		RandomizationFactor: 0,
		Multiplier:          retry.Factor,
		MaxInterval:         retry.MaxTimeout,
	}
	delays.Reset()

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.Call(ctx, props)
		if err == nil {
			if !retryableStatus(resp.StatusCode) || attempt >= retry.Retries {
				return resp, nil
			}
			// Discard this attempt's body before retrying; the final
			// attempt's response is handed to the caller intact.
			io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
			resp.Body.Close()
			c.logger.Warn("retrying provider call",
				"url", props.URL,
				"status", resp.StatusCode,
				"attempt", attempt+1,
				"max_retries", retry.Retries,
			)
		} else {
			lastErr = err
			if attempt >= retry.Retries {
				return nil, lastErr
			}
			c.logger.Warn("provider call failed, retrying",
				"url", props.URL,
				"attempt", attempt+1,
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delays.NextBackOff()):
		}
	}
}

// SanitizeHeaders copies h, dropping every gateway vendor header (any
// casing) along with Content-Length, Host and Content-Encoding. The
// input is never modified.
func SanitizeHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if headers.IsGatewayHeader(name) {
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	for _, name := range strippedHeaders {
		out.Del(name)
	}
	return out
}

// NormalizeStatus clamps an upstream status into a writable range:
// 100 becomes 200, anything outside [200,600) becomes 500.
func NormalizeStatus(status int) int {
	if status == http.StatusContinue {
		return http.StatusOK
	}
	if status < 200 || status >= 600 {
		return http.StatusInternalServerError
	}
	return status
}
