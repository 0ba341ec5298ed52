// Package httpx is the shared HTTP client for upstream music services. It
// rate limits, retries retryable failures with exponential backoff, traces
// each call and classifies failures into discovery adapter errors.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/pkg/common"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 8 << 20

// Config describes one upstream.
type Config struct {
	// Name labels spans and errors, e.g. "lastfm".
	Name    string
	BaseURL string
	// UserAgent is sent on every request. MusicBrainz rejects anonymous
	// clients.
	UserAgent string
	Timeout   time.Duration
	RPS       float64
	Burst     int
	// MaxRetries bounds retries of transient failures.
	MaxRetries uint64
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBackoff sets the first retry interval and the overall retry budget.
func WithBackoff(initial, maxElapsed time.Duration) Option {
	return func(c *Client) {
		c.initialInterval = initial
		c.maxElapsed = maxElapsed
	}
}

// Client performs rate-limited, retried requests against one upstream.
type Client struct {
	name      string
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *common.RateLimiter

	maxRetries      uint64
	initialInterval time.Duration
	maxElapsed      time.Duration

	tracer trace.Tracer
}

// New creates a client for cfg.
func New(cfg Config, tracer trace.Tracer, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	c := &Client{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:         common.NewRateLimiter(cfg.RPS, cfg.Burst),
		maxRetries:      cfg.MaxRetries,
		initialInterval: 250 * time.Millisecond,
		maxElapsed:      15 * time.Second,
		tracer:          tracer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the upstream label.
func (c *Client) Name() string { return c.name }

// Limiter exposes the rate limiter so limits can be changed at runtime.
func (c *Client) Limiter() *common.RateLimiter { return c.limiter }

// Request is one upstream call. Path is joined to the base URL unless it is
// already absolute.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is encoded as JSON when non-nil.
	Body any
}

// Response is a fully read upstream response.
type Response struct {
	Status int
	Body   []byte
}

// DecodeJSON unmarshals the response body into out.
func (r *Response) DecodeJSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, body)
}

// retryable reports whether the upstream may succeed on a later attempt.
func (e *StatusError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type transportError struct {
	err          error
	connectivity bool
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// Do sends r, retrying transient failures. Errors are *discovery.AdapterError
// classified as connectivity (unreachable), transient (5xx, 429, timeouts) or
// permanent (other 4xx). For a non-2xx response the Response is returned
// alongside the error so callers can inspect the body.
func (c *Client) Do(ctx context.Context, op string, r Request) (*Response, error) {
	op = c.name + "." + op
	ctx, span := c.tracer.Start(ctx, "httpx.Client.Do",
		trace.WithAttributes(
			attribute.String("upstream", c.name),
			attribute.String("op", op),
			attribute.String("method", r.Method),
		))
	defer span.End()

	var (
		resp     *Response
		attempts int
	)
	operation := func() error {
		attempts++
		var err error
		resp, err = c.once(ctx, r)
		if err == nil {
			return nil
		}
		if isRetryable(ctx, err) {
			return err
		}
		return backoff.Permanent(err)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialInterval
	exp.MaxElapsedTime = c.maxElapsed
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(exp, c.maxRetries), ctx))

	span.SetAttributes(attribute.Int("attempts", attempts))
	if resp != nil {
		span.SetAttributes(attribute.Int("status_code", resp.Status))
	}
	if err != nil {
		err = classify(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream call failed")
		return resp, err
	}
	span.SetStatus(codes.Ok, "upstream call succeeded")
	return resp, nil
}

func (c *Client) once(ctx context.Context, r Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	target := r.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, &transportError{err: err, connectivity: isConnectivity(err)}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	resp := &Response{Status: httpResp.StatusCode, Body: data}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &StatusError{Status: httpResp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}

// GetJSON fetches path with query and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, op, path string, query url.Values, header http.Header, out any) error {
	resp, err := c.Do(ctx, op, Request{Method: http.MethodGet, Path: path, Query: query, Header: header})
	if err != nil {
		return err
	}
	if err := resp.DecodeJSON(out); err != nil {
		return discovery.NewTransientError(c.name+"."+op, err)
	}
	return nil
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	var te *transportError
	if errors.As(err, &te) {
		return !te.connectivity
	}
	return false
}

func isConnectivity(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

func classify(op string, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		if se.retryable() {
			return discovery.NewTransientError(op, err)
		}
		return discovery.NewPermanentError(op, err)
	}
	var te *transportError
	if errors.As(err, &te) && te.connectivity {
		return discovery.NewConnectivityError(op, err)
	}
	return discovery.NewTransientError(op, err)
}
