// Package ingest runs the activity pipeline for a project: fetch every page
// of the availability report, aggregate per device, reconcile against the
// stored devices and persist the activity columns.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/internal/aggregate"
	"github.com/Sternrassler/fleet-activity-sync/internal/config"
	"github.com/Sternrassler/fleet-activity-sync/internal/progress"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/Sternrassler/fleet-activity-sync/pkg/client"
	"github.com/Sternrassler/fleet-activity-sync/pkg/logging"
	"github.com/Sternrassler/fleet-activity-sync/pkg/pagination"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrInvalidWindow is returned for date windows whose start is after the end.
var ErrInvalidWindow = errors.New("invalid date window")

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_runs_total",
		Help: "Activity runs by project and outcome",
	}, []string{"project", "outcome"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_run_duration_seconds",
		Help:    "Activity run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"project"})
)

// AvailabilityFetcher fetches availability report pages.
type AvailabilityFetcher interface {
	FetchAvailabilityPage(ctx context.Context, target client.Target, window client.DateRange, page int) (*client.AvailabilityPage, error)
}

// Service runs activity pipelines.
type Service struct {
	fetcher  AvailabilityFetcher
	store    storage.Store
	progress *progress.Registry
	batch    pagination.Config
	logger   zerolog.Logger

	// OnPersisted is called after a run's activity rows were written.
	OnPersisted func(ctx context.Context, project string)
}

// NewService creates a Service.
func NewService(fetcher AvailabilityFetcher, store storage.Store, registry *progress.Registry, batch pagination.Config) *Service {
	return &Service{
		fetcher:  fetcher,
		store:    store,
		progress: registry,
		batch:    batch,
		logger:   logging.NewLogger("ingest"),
	}
}

// Progress returns the progress registry.
func (s *Service) Progress() *progress.Registry {
	return s.progress
}

// Summary describes a completed run.
type Summary struct {
	RunID           string        `json:"runId"`
	Project         string        `json:"project"`
	TotalPages      int           `json:"totalPages"`
	ActiveDevices   int           `json:"activeDevices"`
	InactiveDevices int           `json:"inactiveDevices"`
	ObservedDevices int           `json:"observedDevices"`
	Duration        time.Duration `json:"-"`
}

// Run is the state of one pipeline invocation.
type Run struct {
	ID      string
	Project *config.Project
	Window  client.DateRange

	acc     *aggregate.Accumulator
	tracker *progress.Tracker
	fetcher AvailabilityFetcher
}

// fetchPage fetches and folds one page, advancing progress.
func (r *Run) fetchPage(ctx context.Context, page int) (int, error) {
	resp, err := r.fetcher.FetchAvailabilityPage(ctx, r.Project.Target(), r.Window, page)
	if err != nil {
		return 0, err
	}

	r.acc.FoldPage(resp)
	if page == 1 {
		r.tracker.Start(resp.Pages())
	} else {
		r.tracker.Advance()
	}
	return resp.Pages(), nil
}

// Run executes the pipeline for p over window. It returns
// progress.ErrRunInProgress when a run for p is already fetching.
func (s *Service) Run(ctx context.Context, p *config.Project, window client.DateRange) (Summary, error) {
	if !window.Valid() {
		return Summary{}, fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}

	run := &Run{
		ID:      uuid.NewString(),
		Project: p,
		Window:  window,
		acc:     aggregate.New(),
		tracker: s.progress.Tracker(p.ID),
		fetcher: s.fetcher,
	}
	if err := run.tracker.Begin(run.ID); err != nil {
		return Summary{}, err
	}

	logger := logging.ForRun(s.logger, p.ID, run.ID).With().
		Str("window", window.String()).
		Logger()
	logger.Info().Msg("Activity run started")

	start := time.Now()
	summary, err := s.execute(ctx, run)
	runDuration.WithLabelValues(p.ID).Observe(time.Since(start).Seconds())
	if err != nil {
		run.tracker.Fail(err)
		runsTotal.WithLabelValues(p.ID, "failed").Inc()
		var chunkErr *storage.ChunkError
		if errors.As(err, &chunkErr) && chunkErr.Applied > 0 && s.OnPersisted != nil {
			s.OnPersisted(ctx, p.ID)
		}
		logger.Error().
			Err(err).
			Int("completed_pages", run.tracker.Snapshot().CompletedPages).
			Msg("Activity run failed")
		return Summary{}, fmt.Errorf("activity run %s for project %s: %w", run.ID, p.ID, err)
	}

	run.tracker.Finish()
	runsTotal.WithLabelValues(p.ID, "ok").Inc()
	summary.Duration = time.Since(start)

	if s.OnPersisted != nil {
		s.OnPersisted(ctx, p.ID)
	}

	logger.Info().
		Int("pages", summary.TotalPages).
		Int("active", summary.ActiveDevices).
		Int("inactive", summary.InactiveDevices).
		Dur("duration", summary.Duration).
		Msg("Activity run complete")

	return summary, nil
}

func (s *Service) execute(ctx context.Context, run *Run) (Summary, error) {
	fetcher := pagination.NewBatchFetcher(pagination.PageFetcherFunc(run.fetchPage), s.batch)
	result, err := fetcher.FetchAllPages(ctx)
	if err != nil {
		return Summary{}, err
	}

	table := run.Project.Table()
	persisted, err := s.store.DeviceIDs(ctx, table)
	if err != nil {
		return Summary{}, fmt.Errorf("read persisted devices: %w", err)
	}

	entries := run.acc.Entries()
	updates, inactive := BuildUpdates(entries, persisted, run.acc.Observed)

	if err := s.store.UpsertActivity(ctx, table, updates); err != nil {
		var chunkErr *storage.ChunkError
		if errors.As(err, &chunkErr) {
			// Earlier chunks are already written; the next run overwrites them.
			s.logger.Warn().
				Str("project", run.Project.ID).
				Int("chunk", chunkErr.Chunk).
				Int("applied", chunkErr.Applied).
				Int("rows", len(updates)).
				Msg("Activity persisted partially")
		}
		return Summary{}, fmt.Errorf("persist activity: %w", err)
	}

	return Summary{
		RunID:           run.ID,
		Project:         run.Project.ID,
		TotalPages:      result.TotalPages,
		ActiveDevices:   len(entries),
		InactiveDevices: inactive,
		ObservedDevices: run.acc.ObservedCount(),
	}, nil
}
