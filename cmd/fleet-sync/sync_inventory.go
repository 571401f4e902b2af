package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSyncInventoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-inventory [project-id...]",
		Short: "Run one inventory sync cycle (all projects when none are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			projects, err := selectProjects(opts.cfg, args, a.projects())
			if err != nil {
				return err
			}

			var errs []error
			for _, p := range projects {
				result, err := a.syncer.Sync(ctx, p)
				if err != nil {
					errs = append(errs, fmt.Errorf("project %s: %w", p.ID, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d pages\t%d devices\t%s\n", p.ID, result.Pages, result.Devices, result.Duration.Round(time.Millisecond))
			}
			if len(errs) > 0 {
				log.Error().Int("failed", len(errs)).Int("projects", len(projects)).Msg("Inventory sync finished with errors")
			}
			return errors.Join(errs...)
		},
	}
}

// selectProjects resolves ids, or returns all projects when ids is empty.
func selectProjects(cfg *config.Config, ids []string, all []*config.Project) ([]*config.Project, error) {
	if len(ids) == 0 {
		return all, nil
	}
	out := make([]*config.Project, 0, len(ids))
	for _, id := range ids {
		p, err := cfg.Project(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
