package main

import (
	"os"

	"github.com/Sternrassler/fleet-activity-sync/internal/config"
	"github.com/Sternrassler/fleet-activity-sync/pkg/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	logLevel    string
	logPretty   bool
	projectsDir string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fleet-sync",
		Short: "Sync fleet device inventory and activity into a device table",
		Long: `fleet-sync pulls device inventory and availability reports from the fleet
management API, aggregates per-device activity over a date window and serves
the results to the dashboard.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from LOG_LEVEL)")
	cmd.PersistentFlags().BoolVar(&opts.logPretty, "log-pretty", false, "Human-readable console logs (default from LOG_PRETTY)")
	cmd.PersistentFlags().StringVar(&opts.projectsDir, "projects-dir", "", "Directory of project YAML files (default from PROJECTS_DIR)")

	cmd.AddCommand(
		newServeCmd(opts),
		newSyncInventoryCmd(opts),
		newFetchActivityCmd(opts),
	)
	return cmd
}

// load reads the configuration and sets up logging. Flags override the
// environment.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.projectsDir != "" {
		cfg.ProjectsDir = o.projectsDir
		if cfg.Projects, err = config.LoadProjects(o.projectsDir); err != nil {
			return err
		}
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if cmd.Flags().Changed("log-pretty") {
		cfg.LogPretty = o.logPretty
	}

	log.Logger = logging.Setup(logging.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Output:  os.Stderr,
		Service: "fleet-sync",
	})
	o.cfg = cfg
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("fleet-sync command failed")
	}
}
