package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/fleet-activity-sync/internal/config"
	"github.com/robfig/cron/v3"
)

// Scheduler runs inventory sync for every project on a cron schedule.
type Scheduler struct {
	syncer   *Syncer
	projects []*config.Project
	spec     string
	cron     *cron.Cron
}

// NewScheduler creates a scheduler. spec is a robfig/cron spec such as
// "@every 5m".
func NewScheduler(syncer *Syncer, projects []*config.Project, spec string) *Scheduler {
	return &Scheduler{
		syncer:   syncer,
		projects: projects,
		spec:     spec,
		cron:     cron.New(),
	}
}

// Start registers one job per project, runs every project once immediately
// and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, p := range s.projects {
		if _, err := s.cron.AddFunc(s.spec, func() { s.run(ctx, p) }); err != nil {
			return fmt.Errorf("invalid inventory schedule %q: %w", s.spec, err)
		}
	}

	s.syncer.logger.Info().
		Str("schedule", s.spec).
		Int("projects", len(s.projects)).
		Msg("Starting inventory scheduler")

	for _, p := range s.projects {
		go s.run(ctx, p)
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron loop and returns a context that is done when running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) run(ctx context.Context, p *config.Project) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.syncer.Sync(ctx, p)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		s.syncer.logger.Debug().Str("project", p.ID).Msg("Inventory sync still running - skipping tick")
	default:
		s.syncer.logger.Error().Err(err).Str("project", p.ID).Msg("Inventory sync failed")
	}
}
