package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dsil-design/joot-reconcile/internal/reconcile"
	"github.com/dsil-design/joot-reconcile/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and watchdog sweeps",
		RunE:  runServe,
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().Int("workers", 0, "job worker count (0 = default)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("queue.workers", cmd.Flags().Lookup("workers"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
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
	srv := server.New(store, svc.jobs, svc.matcher, reconcile.New(store))

	httpServer := &http.Server{
		Addr:              viper.GetString("server.addr"),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Scheduled maintenance: force-fail stale active jobs and stuck sync
	// cursors so crashed runs never wedge a folder or leak workers.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		if swept, sweepErr := svc.jobs.SweepStale(context.Background()); sweepErr != nil {
			slog.Error("Stale job sweep failed", "error", sweepErr)
		} else if swept > 0 {
			slog.Warn("Force-failed stale jobs", "count", swept)
		}
		if _, sweepErr := svc.sync.SweepStuckCursors(context.Background()); sweepErr != nil {
			slog.Error("Stuck cursor sweep failed", "error", sweepErr)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule watchdog sweeps: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.pool.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Error("HTTP server shutdown failed", "error", shutdownErr)
		}
	}()

	slog.Info("Server listening",
		"addr", httpServer.Addr,
		"workers", viper.GetInt("queue.workers"))

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	wg.Wait()
	return nil
}
