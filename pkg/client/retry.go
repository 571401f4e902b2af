package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	fleetRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	fleetRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	fleetRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Jitter of up to half
	// of it is added to every delay.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential part of the delay.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// backoff returns the delay before the attempt following attempt n (1-based).
func (c RetryConfig) backoff(n int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 1; i < n; i++ {
		d *= c.BackoffMultiplier
	}
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}

	var jitter time.Duration
	if half := int64(c.InitialBackoff / 2); half > 0 {
		jitter = time.Duration(rand.Int64N(half))
	}
	return time.Duration(d) + jitter
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff executes fn until it succeeds, fails with a non-retryable
// error, or MaxAttempts is reached. It returns the number of attempts made.
func retryWithBackoff(ctx context.Context, config RetryConfig, sleep sleepFunc, fn func(attempt int) error) (int, error) {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	var errorClass ErrorClass

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return attempt, nil
		}

		lastErr = err
		errorClass = classOf(err)

		if !shouldRetry(errorClass) {
			return attempt, lastErr
		}

		if attempt >= config.MaxAttempts {
			break
		}

		fleetRetriesTotal.WithLabelValues(string(errorClass)).Inc()

		delay := config.backoff(attempt)
		fleetRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(delay.Seconds())

		log.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := sleep(ctx, delay); err != nil {
			log.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return attempt, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	fleetRetryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	log.Warn().
		Str("error_class", string(errorClass)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return config.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, config.MaxAttempts, lastErr)
}

// classOf extracts the error class from an UpstreamError chain.
func classOf(err error) ErrorClass {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.ErrorClass
	}
	return ""
}
