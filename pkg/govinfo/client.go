// Package govinfo provides the rate-limited gateway to the remote data
// source. All outbound requests pass through a shared pacing limiter, a
// pooled set of HTTP sessions, and a retry loop with exponential
// backoff for transient failures.
package govinfo

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/opendiscourse/legisync/pkg/errors"
	"github.com/opendiscourse/legisync/pkg/metrics"
	"github.com/opendiscourse/legisync/pkg/pool"
	"github.com/opendiscourse/legisync/pkg/ratelimit"
)

// maxPageSize is the largest page the remote API accepts.
const maxPageSize = 1000

// Config configures the gateway client.
type Config struct {
	BaseURL            string
	APIKey             string
	UserAgent          string
	RequestTimeout     time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
	MinInterval        time.Duration
	MaxRequestsPerHour int
	SessionPoolMin     int
	SessionPoolMax     int
}

// DefaultConfig returns production defaults for the public API.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.govinfo.gov",
		UserAgent:          "legisync/1.0",
		RequestTimeout:     30 * time.Second,
		MaxRetries:         3,
		RetryBaseDelay:     time.Second,
		MinInterval:        100 * time.Millisecond,
		MaxRequestsPerHour: 1000,
		SessionPoolMin:     2,
		SessionPoolMax:     10,
	}
}

// Client is the rate-limited gateway. One instance is shared by all
// workers of a run; the limiter and session pool are the only mutable
// state and both are concurrency-safe.
type Client struct {
	config   Config
	logger   *zap.Logger
	limiter  *ratelimit.Limiter
	sessions *pool.Pool[*http.Client]

	totalRequests  int64
	failedRequests int64
}

// Stats is a point-in-time view of gateway usage.
type Stats struct {
	TotalRequests  int64           `json:"total_requests"`
	FailedRequests int64           `json:"failed_requests"`
	RateLimit      ratelimit.Stats `json:"rate_limit"`
	Sessions       pool.Stats      `json:"sessions"`
}

// NewClient creates a gateway client and warms its session pool.
func NewClient(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "base URL is required")
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}

	c := &Client{
		config:  config,
		logger:  logger.With(zap.String("component", "govinfo_client")),
		limiter: ratelimit.New(config.MinInterval, config.MaxRequestsPerHour),
	}

	sessions, err := pool.New(ctx, pool.Config[*http.Client]{
		MinSize: config.SessionPoolMin,
		MaxSize: config.SessionPoolMax,
		Factory: func(ctx context.Context) (*http.Client, error) {
			return c.newSession()
		},
		Close: func(s *http.Client) {
			s.CloseIdleConnections()
		},
	})
	if err != nil {
		return nil, err
	}
	c.sessions = sessions

	return c, nil
}

// newSession builds one pooled HTTP session with a tuned transport.
func (c *Client) newSession() (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: c.config.RequestTimeout,
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		c.logger.Warn("failed to configure HTTP/2", zap.Error(err))
	}

	return &http.Client{
		Transport: transport,
		Timeout:   c.config.RequestTimeout,
	}, nil
}

// Collections fetches the remote collection catalog.
func (c *Client) Collections(ctx context.Context) ([]CollectionInfo, error) {
	var resp collectionsResponse
	if err := c.get(ctx, "collections", "/collections", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Collections, nil
}

// CollectionPackages fetches one page of packages from a collection.
// The page size is clamped to the API maximum.
func (c *Client) CollectionPackages(ctx context.Context, req PackagesRequest) (*PackagesPage, error) {
	if req.Code == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "collection code is required")
	}

	pageSize := req.PageSize
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	params := url.Values{}
	params.Set("offset", strconv.Itoa(req.Offset))
	params.Set("pageSize", strconv.Itoa(pageSize))
	if req.StartDate != "" {
		params.Set("startDate", req.StartDate)
	}
	if req.EndDate != "" {
		params.Set("endDate", req.EndDate)
	}

	var page PackagesPage
	if err := c.get(ctx, "collection_packages", "/collections/"+url.PathEscape(req.Code), params, &page); err != nil {
		return nil, err
	}

	page.Offset = req.Offset
	page.Limit = pageSize
	return &page, nil
}

// PackageDetails fetches detailed metadata for a single package.
func (c *Client) PackageDetails(ctx context.Context, packageID string) (*RawPackage, error) {
	if packageID == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "package ID is required")
	}

	var pkg RawPackage
	if err := c.get(ctx, "package_details", "/packages/"+url.PathEscape(packageID), nil, &pkg); err != nil {
		return nil, err
	}
	if pkg.PackageID == "" {
		pkg.PackageID = packageID
	}
	return &pkg, nil
}

// get performs one logical GET with pacing, pooled sessions, and retry.
// Transient failures (transport errors, timeouts, 429, 5xx) are retried
// with exponential backoff; other non-2xx statuses surface immediately.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	target := c.config.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryBaseDelay * (1 << (attempt - 1))
			c.logger.Debug("retrying request",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay))
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "request cancelled during backoff")
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "request cancelled while rate limited")
		}

		err := c.doOnce(ctx, endpoint, target, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !errors.IsRetryable(err) {
			atomic.AddInt64(&c.failedRequests, 1)
			return err
		}
		metrics.APIRequests.WithLabelValues(endpoint, "retry").Inc()
	}

	atomic.AddInt64(&c.failedRequests, 1)
	return errors.Wrap(lastErr, errors.ErrorTypeConnection,
		fmt.Sprintf("request failed after %d attempts", c.config.MaxRetries)).
		WithDetail("endpoint", endpoint).
		WithDetail("url", target)
}

// doOnce performs a single attempt against the remote source.
func (c *Client) doOnce(ctx context.Context, endpoint, target string, out interface{}) error {
	handle, err := c.sessions.Acquire(ctx)
	if err != nil {
		return err
	}
	defer handle.Release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	req.Header.Set("X-Api-Key", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()
	resp, err := handle.Value.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveRequest(endpoint, "error", duration)
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
		}
		handle.Discard()
		return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ObserveRequest(endpoint, "error", duration)
		return c.statusError(resp, target)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ObserveRequest(endpoint, "error", duration)
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response")
	}

	metrics.ObserveRequest(endpoint, "success", duration)
	return nil
}

// statusError maps a non-2xx response to a typed error. 429 and 5xx are
// retryable; every other status is permanent.
func (c *Client) statusError(resp *http.Response, target string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	var errType errors.ErrorType
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		errType = errors.ErrorTypeRateLimit
	case resp.StatusCode >= 500:
		errType = errors.ErrorTypeConnection
	case resp.StatusCode == http.StatusNotFound:
		errType = errors.ErrorTypeNotFound
	default:
		errType = errors.ErrorTypeData
	}

	return errors.Newf(errType, "unexpected status %d", resp.StatusCode).
		WithDetail("url", target).
		WithDetail("body", string(snippet))
}

// Stats returns gateway usage statistics for external polling.
func (c *Client) Stats() Stats {
	return Stats{
		TotalRequests:  atomic.LoadInt64(&c.totalRequests),
		FailedRequests: atomic.LoadInt64(&c.failedRequests),
		RateLimit:      c.limiter.Stats(),
		Sessions:       c.sessions.Stats(),
	}
}

// Close releases the session pool.
func (c *Client) Close() {
	c.sessions.Close()
}
