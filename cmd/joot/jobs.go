package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and maintain the background job queue",
	}

	cmd.AddCommand(jobsStatusCmd())
	cmd.AddCommand(jobsSweepCmd())
	cmd.AddCommand(jobsProcessCmd())
	return cmd
}

func jobsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show one job, or queue-wide counts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					slog.Error("Failed to close storage", "error", closeErr)
				}
			}()

			ctx := cmd.Context()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			svc := buildServices(store)

			if len(args) == 1 {
				job, err := svc.jobs.GetStatus(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Printf("Job %s\n  type:    %s\n  state:   %s\n  retries: %d/%d\n",
					job.ID, job.Type, job.State, job.RetryCount, job.MaxRetries)
				if job.LastError != "" {
					cmd.Printf("  error:   %s\n", job.LastError)
				}
				return nil
			}

			stats, err := svc.jobs.Stats(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Queue: %d pending, %d active, %d completed, %d failed\n",
				stats.Pending, stats.Active, stats.Completed, stats.Failed)
			return nil
		},
	}
}

func jobsSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Force-fail stale active jobs and stuck sync cursors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					slog.Error("Failed to close storage", "error", closeErr)
				}
			}()

			ctx := cmd.Context()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			svc := buildServices(store)

			jobsSwept, err := svc.jobs.SweepStale(ctx)
			if err != nil {
				return fmt.Errorf("stale job sweep failed: %w", err)
			}
			cursorsSwept, err := svc.sync.SweepStuckCursors(ctx)
			if err != nil {
				return fmt.Errorf("stuck cursor sweep failed: %w", err)
			}

			cmd.Printf("Swept %d stale jobs and %d stuck cursors\n", jobsSwept, cursorsSwept)
			return nil
		},
	}
}

func jobsProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Process queued jobs until the queue is empty",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStorage()
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					slog.Error("Failed to close storage", "error", closeErr)
				}
			}()

			ctx := cmd.Context()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			svc := buildServices(store)

			if err := drainQueue(ctx, svc); err != nil {
				return fmt.Errorf("failed to process queued jobs: %w", err)
			}
			cmd.Println("Queue drained")
			return nil
		},
	}
}
