package main

import (
	"encoding/json"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/pkg/client"
	"github.com/spf13/cobra"
)

func newFetchActivityCmd(opts *rootOptions) *cobra.Command {
	var flagFrom, flagTo string

	cmd := &cobra.Command{
		Use:   "fetch-activity <project-id>",
		Short: "Run the activity pipeline for one project over a date window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.cfg.Project(args[0])
			if err != nil {
				return err
			}

			today := time.Now().Format(client.DateLayout)
			window, err := client.ParseDateRange(firstNonEmpty(flagFrom, today), firstNonEmpty(flagTo, today))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.service.Run(ctx, p, window)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVar(&flagFrom, "from", "", "Window start, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&flagTo, "to", "", "Window end, YYYY-MM-DD (default today)")

	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
