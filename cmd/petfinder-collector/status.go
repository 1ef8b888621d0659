package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/petfinder-collector/pkg/config"
	"github.com/Sternrassler/petfinder-collector/pkg/progress"
	"github.com/Sternrassler/petfinder-collector/pkg/sink"
	"github.com/spf13/cobra"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored progress of every partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			parts, err := a.cfg.Partitions()
			if err != nil {
				return err
			}
			store, err := progress.Open(ctx, a.cfg.ProgressOptions(a.logger))
			if err != nil {
				return err
			}
			defer store.Close()
			if err := printStatus(ctx, a.stdout, store, a.cfg.RunKey(), parts); err != nil {
				return err
			}

			// A memory tracker only knows about its own process.
			if a.cfg.QuotaBackend != config.QuotaRedis {
				return nil
			}
			tracker, closeTracker, err := newTracker(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer closeTracker()
			fmt.Fprintln(a.stdout)
			return printQuota(ctx, a.stdout, tracker, time.Now())
		},
	}
}

func (a *app) resetCmd() *cobra.Command {
	var ids []string
	var allFailed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Move failed partitions back to in_progress so the next collect retries them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 && !allFailed {
				return errors.New("name partitions with --partition or pass --all-failed")
			}
			if len(ids) > 0 && allFailed {
				return errors.New("--partition and --all-failed are mutually exclusive")
			}
			for i, id := range ids {
				ids[i] = strings.ToUpper(strings.TrimSpace(id))
			}

			ctx := cmdContext(cmd)
			store, err := progress.Open(ctx, a.cfg.ProgressOptions(a.logger))
			if err != nil {
				return err
			}
			defer store.Close()

			reset, err := progress.Reset(ctx, store, a.cfg.RunKey(), ids)
			if err != nil {
				return err
			}
			if len(reset) == 0 {
				fmt.Fprintln(a.stdout, "No failed partitions")
				return nil
			}
			a.logger.Info().Strs("partitions", reset).Str("run_key", a.cfg.RunKey()).Msg("Partitions reset")
			fmt.Fprintf(a.stdout, "Reset %d partition(s): %s\n", len(reset), strings.Join(reset, ", "))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&ids, "partition", nil, "Failed partition to reset (repeatable)")
	cmd.Flags().BoolVar(&allFailed, "all-failed", false, "Reset every failed partition of the run")
	return cmd
}

func (a *app) combineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "combine",
		Short: "Merge partition files into all_<status>_<type>s.csv, dropping duplicate ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := sink.Combine(a.cfg.OutputDir, a.cfg.RunKey(), a.logger)
			if err != nil {
				return err
			}
			printCombine(a.stdout, stats)
			return nil
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
