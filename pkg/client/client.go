// Package client provides the single-request HTTP client for DRF-style APIs:
// locale-aware request composition, typed HTTP and network errors, per-request
// timeouts, optional throttle gating and an opt-in retry policy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/drf-client/pkg/locale"
	"github.com/Sternrassler/drf-client/pkg/ratelimit"
	"github.com/Sternrassler/drf-client/pkg/request"
)

// Prometheus metrics for client operations.
var (
	drfRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drf_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	drfRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drf_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	drfErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drf_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

const (
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes bounds how much of a response body is read.
	DefaultMaxBodyBytes int64 = 32 << 20

	// DefaultUserAgent is sent when Config.UserAgent is empty.
	DefaultUserAgent = "drf-client/0.1.0"
)

// Client executes single requests against the API.
type Client struct {
	http     *retryablehttp.Client
	config   Config
	resolver *locale.Resolver
	locale   locale.Tag
	throttle *ratelimit.Tracker
	logger   zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API base applied to every relative endpoint (REQUIRED).
	BaseURL string

	// Locale is the application locale; it is resolved through Resolver.
	Locale string

	// Resolver maps Locale to a canonical tag. Defaults to locale.Default().
	Resolver *locale.Resolver

	// Timeout applies to each request, never to a whole pagination walk.
	Timeout time.Duration

	// UserAgent header value.
	UserAgent string

	// Retry is the transport retry policy. Disabled by default.
	Retry RetryConfig

	// MaxBodyBytes bounds response body size.
	MaxBodyBytes int64

	// HTTPClient overrides the underlying HTTP client (tests, proxies).
	HTTPClient *http.Client

	// Throttle, when set, delays requests during a 429 Retry-After window.
	Throttle *ratelimit.Tracker

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		Locale:       string(locale.DefaultTag),
		Timeout:      DefaultTimeout,
		UserAgent:    DefaultUserAgent,
		Retry:        DefaultRetryConfig(),
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute url (got %q)", cfg.BaseURL)
	}

	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.Retry.MaxRetries)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Resolver == nil {
		cfg.Resolver = locale.Default()
	}

	logger := log.With().Str("component", "drf-client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		http:     newTransport(cfg, logger),
		config:   cfg,
		resolver: cfg.Resolver,
		locale:   cfg.Resolver.Resolve(cfg.Locale),
		throttle: cfg.Throttle,
		logger:   logger,
	}, nil
}

// WithLocale returns a client sharing this client's transport and throttle
// state but composing requests for raw, resolved through the configured
// resolver.
func (c *Client) WithLocale(raw any) *Client {
	cp := *c
	cp.locale = c.resolver.Resolve(raw)
	return &cp
}

// Locale returns the canonical locale tag requests are composed with.
func (c *Client) Locale() locale.Tag {
	return c.locale
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Compose builds a request for endpoint using the client's base URL and
// locale. base.BaseURL, when empty, defaults to the configured base URL.
func (c *Client) Compose(endpoint string, base request.BaseOptions, opts request.Options) (*request.Spec, error) {
	if base.BaseURL == "" {
		base.BaseURL = c.config.BaseURL
	}
	return request.Compose(endpoint, base, opts, c.locale)
}

// Get composes endpoint with opts and fetches it.
func (c *Client) Get(ctx context.Context, endpoint string, opts request.Options) ([]byte, error) {
	spec, err := c.Compose(endpoint, request.BaseOptions{}, opts)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, spec)
}

// FetchPage fetches one page of a paginated endpoint. Params are ignored by
// composition when endpoint is an absolute next link.
func (c *Client) FetchPage(ctx context.Context, endpoint string, params map[string]any) ([]byte, error) {
	return c.Get(ctx, endpoint, request.Options{Params: params})
}

// Fetch issues exactly one logical request for spec and returns the body
// of a 2xx response. Non-2xx responses yield *HTTPError; transport failures
// and timeouts yield *NetworkError.
func (c *Client) Fetch(ctx context.Context, spec *request.Spec) ([]byte, error) {
	if spec == nil || spec.URL == nil {
		return nil, fmt.Errorf("%w: nil request", request.ErrInvalidEndpoint)
	}

	endpoint := spec.URL.Path
	target := spec.URL.Redacted()

	if c.throttle != nil {
		if c.throttle.Throttled() {
			c.logger.Debug().Str("url", target).Msg("Holding request for throttle window")
		}
		if err := c.throttle.Wait(ctx); err != nil {
			drfErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return nil, &NetworkError{Method: spec.Method, URL: target, Cause: err}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := c.newRequest(reqCtx, spec)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	defer func() {
		drfRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("method", spec.Method).
		Str("url", target).
		Str("locale", req.Header.Get(request.HeaderAcceptLanguage)).
		Msg("Executing request")

	resp, err := c.http.Do(req)
	if err != nil {
		drfErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		drfRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("url", target).Msg("Request failed")
		return nil, &NetworkError{Method: spec.Method, URL: target, Cause: unwrapTransport(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
	if err != nil {
		drfErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &NetworkError{Method: spec.Method, URL: target, Cause: fmt.Errorf("read body: %w", err)}
	}

	drfRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if c.throttle != nil {
		c.throttle.UpdateFromResponse(resp.StatusCode, resp.Header)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		drfErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("url", target).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Request error")
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Class:      class,
			Method:     spec.Method,
			URL:        target,
		}
	}

	return body, nil
}

// newRequest converts a composed spec into a retryable request.
func (c *Client) newRequest(ctx context.Context, spec *request.Spec) (*retryablehttp.Request, error) {
	var body []byte
	if spec.Body != nil {
		var err error
		if body, err = json.Marshal(spec.Body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var rawBody interface{}
	if body != nil {
		rawBody = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, spec.Method, spec.URL.String(), rawBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", request.ErrInvalidEndpoint, err)
	}

	req.Header = spec.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	if body != nil && req.Header.Get(request.HeaderContentType) == "" {
		req.Header.Set(request.HeaderContentType, "application/json")
	}

	return req, nil
}

// unwrapTransport strips the *url.Error wrapper so callers can match the
// underlying cause (context.DeadlineExceeded, net.Error, ...).
func unwrapTransport(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}

// Decode decodes a JSON body into T. An empty body yields the zero value.
func Decode[T any](body []byte) (T, error) {
	var v T
	if len(bytes.TrimSpace(body)) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}

// FetchInto fetches spec and decodes the body into T.
func FetchInto[T any](ctx context.Context, c *Client, spec *request.Spec) (T, error) {
	body, err := c.Fetch(ctx, spec)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](body)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.HTTPClient.CloseIdleConnections()
	return nil
}
