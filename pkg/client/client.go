// Package client provides the fleet-management API client with global
// admission control, per-request timeouts and retry on rate limiting.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fleet API operations.
var (
	fleetRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_requests_total",
		Help: "Total fleet API requests by resource and status",
	}, []string{"resource", "status"})

	fleetRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_request_duration_seconds",
		Help:    "Fleet API request duration in seconds by resource",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"resource"})

	fleetErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_errors_total",
		Help: "Total fleet API errors by class",
	}, []string{"class"})
)

// Upstream resource paths.
const (
	DevicesPath      = "/api/v2/devices.json"
	AvailabilityPath = "/api/v1/reports/device_availabilities.json"

	resourceDevices      = "devices"
	resourceAvailability = "availability"

	maxBodyBytes = 32 << 20

	// DefaultMaxTotalPages bounds the page count a report may announce.
	DefaultMaxTotalPages = 10000
)

// ErrorClass represents a classification of upstream errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors other than 504.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassTimeout represents 504 Gateway Timeout and request timeouts.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassNetwork represents transport errors that are not timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents response bodies that cannot be decoded.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassCancelled represents caller cancellation.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// Client is the fleet API client. A single Client (and its Gate) should be
// shared by every pipeline in the process.
type Client struct {
	httpClient *http.Client
	gate       *ratelimit.Gate
	config     Config
	logger     zerolog.Logger
	sleep      sleepFunc
}

// Config holds the client configuration.
type Config struct {
	// Gate is the process-wide admission gate (REQUIRED).
	Gate *ratelimit.Gate

	// UserAgent header sent with every request.
	UserAgent string

	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration

	// Retry policy for rate-limit and timeout failures.
	Retry RetryConfig

	// MaxTotalPages is the largest total_pages accepted from the report.
	// A larger value fails the page as a decode error.
	MaxTotalPages int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(gate *ratelimit.Gate) Config {
	return Config{
		Gate:           gate,
		UserAgent:      "fleet-activity-sync/0.1.0",
		RequestTimeout: 30 * time.Second,
		Retry:          DefaultRetryConfig(),
		MaxTotalPages:  DefaultMaxTotalPages,
	}
}

// New creates a new fleet API client.
func New(cfg Config) (*Client, error) {
	if cfg.Gate == nil {
		return nil, fmt.Errorf("admission gate is required")
	}

	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request_timeout must be > 0 (got %s)", cfg.RequestTimeout)
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	if cfg.Retry.BackoffMultiplier < 1 {
		return nil, fmt.Errorf("backoff_multiplier must be >= 1 (got %v)", cfg.Retry.BackoffMultiplier)
	}

	if cfg.MaxTotalPages <= 0 {
		cfg.MaxTotalPages = DefaultMaxTotalPages
	}

	logger := log.With().Str("component", "fleet-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		gate:   cfg.Gate,
		config: cfg,
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

// FetchDevicesPage fetches one cursor page of the device inventory. An empty
// cursor requests the first page.
func (c *Client) FetchDevicesPage(ctx context.Context, target Target, cursor string) (*DevicesPage, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if target.DeviceGroupID != "" {
		query.Set("device_group_id", target.DeviceGroupID)
	}

	var page DevicesPage
	ref := requestRef{resource: resourceDevices, cursor: cursor}
	if err := c.get(ctx, target, DevicesPath, query, ref, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchAvailabilityPage fetches one page (1-based) of the availability report
// for the given window.
func (c *Client) FetchAvailabilityPage(ctx context.Context, target Target, window DateRange, page int) (*AvailabilityPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1 (got %d)", page)
	}

	query := url.Values{}
	query.Set("from_date", window.From.Format(DateLayout))
	query.Set("to_date", window.To.Format(DateLayout))
	query.Set("page", strconv.Itoa(page))
	if target.DeviceGroupID != "" {
		query.Set("device_group_id", target.DeviceGroupID)
	}

	var out AvailabilityPage
	ref := requestRef{resource: resourceAvailability, page: page}
	if err := c.get(ctx, target, AvailabilityPath, query, ref, &out); err != nil {
		return nil, err
	}

	if out.TotalPages > FlexInt(c.config.MaxTotalPages) {
		fleetErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		upstream := ref.fail(ErrorClassDecode, http.StatusOK,
			fmt.Errorf("total_pages %d exceeds limit %d", out.TotalPages, c.config.MaxTotalPages))
		upstream.Attempts = 1
		c.logger.Error().
			Err(upstream).
			Str("project", target.Key).
			Int("page", page).
			Msg("Fleet API report rejected")
		return nil, upstream
	}
	if out.Malformed > 0 {
		c.logger.Warn().
			Str("project", target.Key).
			Int("page", page).
			Int("malformed", out.Malformed).
			Msg("Dropped malformed availability records")
	}
	return &out, nil
}

type requestRef struct {
	resource string
	page     int
	cursor   string
}

func (r requestRef) fail(class ErrorClass, status int, err error) *UpstreamError {
	return &UpstreamError{
		Resource:   r.resource,
		Page:       r.page,
		Cursor:     r.cursor,
		StatusCode: status,
		ErrorClass: class,
		Err:        err,
	}
}

// get performs a GET with admission control and retry, decoding the JSON body
// into out.
func (c *Client) get(ctx context.Context, target Target, path string, query url.Values, ref requestRef, out any) error {
	endpoint := strings.TrimRight(target.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	attempts, err := retryWithBackoff(ctx, c.config.Retry, c.sleep, func(attempt int) error {
		return c.attempt(ctx, target, endpoint, ref, attempt, out)
	})
	if err == nil {
		return nil
	}

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		upstream = ref.fail(ErrorClassCancelled, 0, err)
	}
	upstream.Attempts = attempts
	upstream.Exhausted = errors.Is(err, ErrRetryExhausted)

	c.logger.Error().
		Err(upstream).
		Str("project", target.Key).
		Str("resource", ref.resource).
		Int("page", ref.page).
		Int("attempts", attempts).
		Msg("Fleet API request failed")

	return upstream
}

// attempt performs a single request while holding an admission slot.
func (c *Client) attempt(ctx context.Context, target Target, endpoint string, ref requestRef, attempt int, out any) error {
	if err := c.gate.Acquire(ctx); err != nil {
		return ref.fail(ErrorClassCancelled, 0, err)
	}
	defer c.gate.Release()

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ref.fail(ErrorClassClient, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Token "+target.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("project", target.Key).
		Str("resource", ref.resource).
		Int("page", ref.page).
		Int("attempt", attempt).
		Msg("Executing fleet API request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		fleetRequestDuration.WithLabelValues(ref.resource).Observe(time.Since(start).Seconds())
		class := classifyTransportError(ctx, attemptCtx, err)
		fleetErrorsTotal.WithLabelValues(string(class)).Inc()
		fleetRequestsTotal.WithLabelValues(ref.resource, string(class)).Inc()
		c.logger.Warn().
			Err(err).
			Str("project", target.Key).
			Str("resource", ref.resource).
			Int("page", ref.page).
			Str("error_class", string(class)).
			Msg("Fleet API transport error")
		return ref.fail(class, 0, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	fleetRequestDuration.WithLabelValues(ref.resource).Observe(time.Since(start).Seconds())
	fleetRequestsTotal.WithLabelValues(ref.resource, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		fleetErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("project", target.Key).
			Str("resource", ref.resource).
			Int("page", ref.page).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Fleet API request error")
		return ref.fail(class, resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, snippet(body)))
	}

	if readErr != nil {
		class := classifyTransportError(ctx, attemptCtx, readErr)
		fleetErrorsTotal.WithLabelValues(string(class)).Inc()
		return ref.fail(class, resp.StatusCode, fmt.Errorf("read body: %w", readErr))
	}

	if err := json.Unmarshal(body, out); err != nil {
		fleetErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return ref.fail(ErrorClassDecode, resp.StatusCode, fmt.Errorf("decode body: %w", err))
	}

	return nil
}

// classifyStatus categorizes an HTTP error status.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusGatewayTimeout:
		return ErrorClassTimeout
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classifyTransportError separates per-attempt timeouts from caller
// cancellation and other transport failures.
func classifyTransportError(parent, attemptCtx context.Context, err error) ErrorClass {
	if parent.Err() != nil {
		return ErrorClassCancelled
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
