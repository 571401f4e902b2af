package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_batches_total",
		Help: "Page batches processed by outcome",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_batch_duration_seconds",
		Help:    "Time to resolve one page batch",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// Config holds batch fetcher configuration
type Config struct {
	// BatchSize is the number of pages fetched concurrently per batch.
	BatchSize int
	// BatchPause is the wait between consecutive batches (not after the last).
	BatchPause time.Duration
	// PageTimeout bounds each page fetch including its retries. Zero disables it.
	PageTimeout time.Duration
}

// DefaultConfig returns the default batching configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:  5,
		BatchPause: 2 * time.Second,
	}
}

// PageFetcher fetches and consumes a single page. It returns the total page
// count the upstream reported with that page.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) (totalPages int, err error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, page int) (int, error)

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, page int) (int, error) {
	return f(ctx, page)
}

// Result summarizes a completed fetch.
type Result struct {
	TotalPages int
	Batches    int
	Duration   time.Duration
}

// BatchFetcher drives a PageFetcher over every page of a report.
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.BatchPause < 0 {
		config.BatchPause = 0
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
		sleep:   pause,
	}
}

// Plan splits pages 2..total into consecutive batches of size pages.
func Plan(total, size int) [][]int {
	if size <= 0 {
		size = 1
	}

	var batches [][]int
	for start := 2; start <= total; start += size {
		end := min(start+size-1, total)
		batch := make([]int, 0, end-start+1)
		for p := start; p <= end; p++ {
			batch = append(batch, p)
		}
		batches = append(batches, batch)
	}
	return batches
}

// FetchAllPages fetches page 1, then every remaining page batch by batch.
// The first error stops the fetch.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context) (Result, error) {
	start := time.Now()

	totalPages, err := bf.fetchOne(ctx, 1)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch first page: %w", err)
	}
	if totalPages < 1 {
		totalPages = 1
	}

	batches := Plan(totalPages, bf.config.BatchSize)

	log.Info().
		Int("total_pages", totalPages).
		Int("batches", len(batches)).
		Int("batch_size", bf.config.BatchSize).
		Msg("Starting batched page fetch")

	for i, batch := range batches {
		if i > 0 && bf.config.BatchPause > 0 {
			if err := bf.sleep(ctx, bf.config.BatchPause); err != nil {
				return Result{TotalPages: totalPages, Batches: i}, fmt.Errorf("paused before batch %d: %w", i+1, err)
			}
		}

		if err := bf.fetchBatch(ctx, batch); err != nil {
			log.Warn().
				Err(err).
				Int("batch", i+1).
				Int("first_page", batch[0]).
				Int("last_page", batch[len(batch)-1]).
				Msg("Batch failed - aborting fetch")
			return Result{TotalPages: totalPages, Batches: i + 1},
				fmt.Errorf("batch %d (pages %d-%d): %w", i+1, batch[0], batch[len(batch)-1], err)
		}
	}

	result := Result{
		TotalPages: totalPages,
		Batches:    len(batches),
		Duration:   time.Since(start),
	}

	log.Info().
		Int("pages", totalPages).
		Int("batches", result.Batches).
		Dur("duration", result.Duration).
		Msg("Fetch complete")

	return result, nil
}

// fetchBatch fetches every page of the batch concurrently and waits for all
// of them to resolve.
func (bf *BatchFetcher) fetchBatch(ctx context.Context, pages []int) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	for _, page := range pages {
		g.Go(func() error {
			_, err := bf.fetchOne(gctx, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			return nil
		})
	}

	err := g.Wait()
	batchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		batchesTotal.WithLabelValues("failed").Inc()
		return err
	}
	batchesTotal.WithLabelValues("ok").Inc()
	return nil
}

func (bf *BatchFetcher) fetchOne(ctx context.Context, page int) (int, error) {
	if bf.config.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bf.config.PageTimeout)
		defer cancel()
	}
	return bf.fetcher.FetchPage(ctx, page)
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
