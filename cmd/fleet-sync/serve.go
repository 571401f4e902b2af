package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/internal/api"
	"github.com/Sternrassler/fleet-activity-sync/internal/inventory"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		flagPort            string
		flagShutdownTimeout time.Duration
		flagNoInventory     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API and sync inventory on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if flagPort != "" {
				cfg.Port = flagPort
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			server := api.NewServer(cfg, a.store, a.service, a.service.Progress(), a.cache)
			server.Gate = a.gate
			a.service.OnPersisted = server.InvalidateProject
			a.syncer.OnSynced = server.InvalidateProject

			if len(cfg.Projects) == 0 {
				log.Warn().Str("dir", cfg.ProjectsDir).Msg("No projects configured")
			}

			var scheduler *inventory.Scheduler
			if !flagNoInventory {
				scheduler = inventory.NewScheduler(a.syncer, a.projects(), cfg.InventorySchedule())
				if err := scheduler.Start(ctx); err != nil {
					return err
				}
			}

			httpServer := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info().
					Str("addr", httpServer.Addr).
					Strs("projects", cfg.ProjectIDs()).
					Str("inventory_schedule", cfg.InventorySchedule()).
					Msg("Starting fleet-sync server")
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info().Msg("Shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), flagShutdownTimeout)
				defer cancel()
				err := httpServer.Shutdown(shutdownCtx)
				if scheduler != nil {
					select {
					case <-scheduler.Stop().Done():
					case <-shutdownCtx.Done():
						log.Warn().Msg("Inventory sync still running at shutdown")
					}
				}
				return err
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&flagPort, "port", "", "HTTP port (default from PORT)")
	cmd.Flags().DurationVar(&flagShutdownTimeout, "shutdown-timeout", 15*time.Second, "Grace period for in-flight requests on shutdown")
	cmd.Flags().BoolVar(&flagNoInventory, "no-inventory", false, "Disable the scheduled inventory sync")

	return cmd
}
