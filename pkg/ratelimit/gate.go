package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for admission control.
var (
	gateInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_admission_in_flight",
		Help: "Number of upstream requests currently holding an admission slot",
	})

	gateQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_admission_queued",
		Help: "Number of upstream requests waiting for an admission slot",
	})

	gateWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_admission_wait_seconds",
		Help:    "Time spent waiting for an admission slot",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
	})
)

// Gate bounds the number of outstanding requests and admits waiters in
// submission order.
type Gate struct {
	sem          *semaphore.Weighted
	max          int
	releaseDelay time.Duration
	logger       zerolog.Logger

	mu     sync.Mutex
	active int
	queued int
}

// NewGate creates a gate with maxConcurrent slots. Freed slots are handed on
// after releaseDelay.
func NewGate(maxConcurrent int, releaseDelay time.Duration, logger zerolog.Logger) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if releaseDelay < 0 {
		releaseDelay = 0
	}
	return &Gate{
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
		max:          maxConcurrent,
		releaseDelay: releaseDelay,
		logger:       logger,
	}
}

// Acquire blocks until a slot is available or ctx is done. Every successful
// Acquire must be paired with exactly one Release.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if g.sem.TryAcquire(1) {
		g.admitted()
		return nil
	}

	g.mu.Lock()
	g.queued++
	position := g.queued
	gateQueued.Set(float64(g.queued))
	g.mu.Unlock()

	g.logger.Debug().Int("position", position).Msg("Waiting for admission slot")

	start := time.Now()
	err := g.sem.Acquire(ctx, 1)

	g.mu.Lock()
	g.queued--
	gateQueued.Set(float64(g.queued))
	g.mu.Unlock()

	if err != nil {
		return err
	}
	gateWaitSeconds.Observe(time.Since(start).Seconds())
	g.admitted()
	return nil
}

func (g *Gate) admitted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active++
	gateInFlight.Set(float64(g.active))
}

// Release frees a slot. The slot becomes available to the next waiter after
// the configured release delay.
func (g *Gate) Release() {
	if g.releaseDelay == 0 {
		g.free()
		return
	}
	time.AfterFunc(g.releaseDelay, g.free)
}

func (g *Gate) free() {
	g.mu.Lock()
	if g.active > 0 {
		g.active--
	}
	gateInFlight.Set(float64(g.active))
	g.mu.Unlock()

	g.sem.Release(1)
}

// Do runs fn while holding a slot.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

// State returns the current gate occupancy.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		InFlight:      g.active,
		Queued:        g.queued,
		MaxConcurrent: g.max,
	}
}
