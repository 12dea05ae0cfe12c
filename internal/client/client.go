// Package client talks to the transmission server's REST surface. Identical
// GET requests share one in-flight call and transport failures are retried
// with exponential backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/micro-ha/transmission-sync/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 500 * time.Millisecond
	defaultTimeout     = 10 * time.Second
	maxBodyBytes       = 32 << 20
)

// Materialization selects how a successful body is handed back.
type Materialization int

const (
	AsJSON Materialization = iota
	AsBlob
)

// Options describes one request.
type Options struct {
	Method string
	Body   any
	As     Materialization
	// Idempotent marks a non-GET request as safe to retry.
	Idempotent bool
}

func (o Options) method() string {
	if o.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(o.Method)
}

func (o Options) retryable() bool {
	return o.method() == http.MethodGet || o.Idempotent
}

// Response is a successful answer. Body is shared between deduplicated
// callers and must not be modified.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals a JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Config tunes a Client.
type Config struct {
	BaseURL     string
	Tokens      TokenSource
	HTTPClient  *http.Client
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	// RateLimit caps outbound attempts per second. Zero disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	baseURL     string
	http        *http.Client
	tokens      TokenSource
	limiter     *rate.Limiter
	maxAttempts int
	retryBase   time.Duration
	logger      *slog.Logger
	onRetry     func(next time.Duration)

	flights singleflight.Group

	mu      sync.Mutex
	waiters map[string]int
}

// New builds a Client for the server at cfg.BaseURL.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	base := cfg.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        httpClient,
		tokens:      tokens,
		limiter:     limiter,
		maxAttempts: attempts,
		retryBase:   base,
		logger:      logger.With("component", "client"),
		waiters:     make(map[string]int),
	}
}

// BaseURL returns the server origin requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// Request performs one logical request. GET requests with the same endpoint
// and materialization share a single network call while one is in flight.
func (c *Client) Request(ctx context.Context, endpoint string, opts Options) (*Response, error) {
	method := opts.method()
	if method != http.MethodGet {
		resp, err := c.execute(ctx, method, endpoint, opts)
		if err != nil {
			return nil, err
		}
		return materialize(resp, opts.As)
	}

	key := flightKey(method, endpoint, opts.As)
	c.join(key)
	defer c.leave(key)

	// The flight outlives any single caller; per-attempt timeouts bound it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return c.execute(flightCtx, method, endpoint, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return materialize(res.Val.(*Response), opts.As)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending reports how many callers currently wait on the GET flight for
// endpoint.
func (c *Client) Pending(endpoint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters[flightKey(http.MethodGet, endpoint, AsJSON)]
}

// Blob and JSON reads negotiate different bodies, so they never share a flight.
func flightKey(method, endpoint string, as Materialization) string {
	if as == AsBlob {
		return method + " " + endpoint + " blob"
	}
	return method + " " + endpoint
}

func (c *Client) join(key string) {
	c.mu.Lock()
	c.waiters[key]++
	shared := c.waiters[key] > 1
	c.mu.Unlock()
	if shared {
		metrics.DedupHitsTotal.Inc()
	}
}

func (c *Client) leave(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters[key]--
	if c.waiters[key] <= 0 {
		delete(c.waiters, key)
	}
}

func (c *Client) execute(ctx context.Context, method, endpoint string, opts Options) (*Response, error) {
	var payload []byte
	if opts.Body != nil {
		encoded, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, endpoint, err)
		}
		payload = encoded
	}

	tries := 1
	if opts.retryable() {
		tries = c.maxAttempts
	}

	attempts := 0
	operation := func() (*Response, error) {
		attempts++
		resp, err := c.attempt(ctx, method, endpoint, payload, opts.As)
		if err == nil {
			return resp, nil
		}
		var business *BusinessError
		if errors.As(err, &business) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(retryPolicy(c.retryBase)),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if c.onRetry != nil {
				c.onRetry(next)
			}
			metrics.RequestRetriesTotal.WithLabelValues(method).Inc()
			c.logger.Warn("request failed, retrying",
				"method", method,
				"endpoint", endpoint,
				"attempt", attempts,
				"retry_in", next,
				"err", err,
			)
		}),
	)
	if err == nil {
		return resp, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	var business *BusinessError
	if errors.As(err, &business) {
		return nil, business
	}
	return nil, &TransportError{Method: method, Endpoint: endpoint, Attempts: attempts, Err: err}
}

// retryPolicy waits base * 2^n before retry n, without jitter.
func retryPolicy(base time.Duration) *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         base << 10,
	}
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, payload []byte, as Materialization) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if as == AsBlob {
		req.Header.Set("Accept", "*/*")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("acquire token: %w", err))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.RequestsTotal.WithLabelValues(method, "success").Inc()
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
	}

	classified := classifyStatus(method, endpoint, resp.StatusCode, data)
	var business *BusinessError
	if errors.As(classified, &business) {
		metrics.RequestsTotal.WithLabelValues(method, "rejected").Inc()
	} else {
		metrics.RequestsTotal.WithLabelValues(method, "server_error").Inc()
	}
	return nil, classified
}

func materialize(resp *Response, as Materialization) (*Response, error) {
	if as == AsJSON {
		trimmed := bytes.TrimSpace(resp.Body)
		if len(trimmed) > 0 && !json.Valid(trimmed) {
			return nil, ErrInvalidJSON
		}
	}
	return resp, nil
}
