package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"graphsync/application/engine"
	"graphsync/infrastructure/config"
	"graphsync/infrastructure/di"
)

// withEngine wires the container for a one-shot command. The engine is not
// started, so no poll loop runs.
func withEngine(ctx context.Context, fn func(ctx context.Context, e *engine.Engine) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() { _ = container.Logger.Sync() }()
	return fn(ctx, container.Engine)
}

func newMigrateTimestampsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-timestamps",
		Short: "Stamp entities and relations that have no creation time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ents, rels, err := e.MigrateTimestamps(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stamped %d entities and %d relations\n", ents, rels)
				return nil
			})
		},
	}
}

func newTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Inspect the graph history",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "bounds",
		Short: "Print the earliest and latest relation timestamps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				w, err := e.TimelineBounds(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "earliest: %s\n", w.Earliest.Format(time.RFC3339))
				fmt.Fprintf(out, "latest:   %s\n", w.Latest.Format(time.RFC3339))
				if w.Fallback {
					fmt.Fprintln(out, "(no timestamped relations; showing the fallback window)")
				}
				return nil
			})
		},
	})
	return cmd
}
