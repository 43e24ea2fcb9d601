package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/dsil-design/joot-reconcile/internal/extract"
	"github.com/dsil-design/joot-reconcile/internal/mailsync"
	"github.com/dsil-design/joot-reconcile/internal/match"
	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/queue"
	"github.com/dsil-design/joot-reconcile/internal/storage"
)

// defaultDBPath returns the database location when none is configured.
func defaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "joot", "joot.db"), nil
}

// openStorage opens the configured database and applies pending migrations.
func openStorage() (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		var err error
		dbPath, err = defaultDBPath()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func queueConfig() queue.Config {
	cfg := queue.DefaultConfig()
	if v := viper.GetInt("queue.workers"); v > 0 {
		cfg.Workers = v
	}
	if v := viper.GetInt("queue.max_retries"); v > 0 {
		cfg.MaxRetries = v
	}
	if v := viper.GetDuration("queue.poll_interval"); v > 0 {
		cfg.PollInterval = v
	}
	if v := viper.GetDuration("queue.attempt_timeout"); v > 0 {
		cfg.AttemptTimeout = v
	}
	if v := viper.GetDuration("queue.initial_backoff"); v > 0 {
		cfg.InitialBackoff = v
	}
	if v := viper.GetDuration("queue.max_backoff"); v > 0 {
		cfg.MaxBackoff = v
	}
	if v := viper.GetDuration("queue.stale_window"); v > 0 {
		cfg.StaleWindow = v
	}
	return cfg
}

func syncConfig() mailsync.Config {
	cfg := mailsync.DefaultConfig()
	if v := viper.GetInt("sync.batch_size"); v > 0 {
		cfg.BatchSize = v
	}
	if v := viper.GetInt("sync.detection_threshold"); v > 0 {
		cfg.DetectionThreshold = v
	}
	if v := viper.GetDuration("sync.stuck_timeout"); v > 0 {
		cfg.StuckTimeout = v
	}
	return cfg
}

func matchConfig() match.Config {
	cfg := match.DefaultConfig()
	if v := viper.GetInt("match.date_tolerance_days"); v > 0 {
		cfg.DateToleranceDays = v
	}
	if v := viper.GetFloat64("match.min_score"); v > 0 {
		cfg.MinScore = v
	}
	if v := viper.GetFloat64("match.auto_approve_threshold"); v > 0 {
		cfg.AutoApproveThreshold = v
	}
	if v := viper.GetFloat64("match.ambiguity_threshold"); v > 0 {
		cfg.AmbiguityThreshold = v
	}
	if v := viper.GetFloat64("match.weights.amount"); v > 0 {
		cfg.Weights.Amount = v
	}
	if v := viper.GetFloat64("match.weights.date"); v > 0 {
		cfg.Weights.Date = v
	}
	if v := viper.GetFloat64("match.weights.vendor"); v > 0 {
		cfg.Weights.Vendor = v
	}
	return cfg
}

// services bundles the wired application stack behind one constructor so
// serve and the one-shot commands build it the same way.
type services struct {
	storage *storage.SQLiteStorage
	jobs    *queue.Queue
	pool    *queue.Pool
	sync    *mailsync.Engine
	matcher *match.Engine
}

func buildServices(store *storage.SQLiteStorage) *services {
	jobs := queue.New(store, queueConfig())

	mail := mailsync.NewHTTPMailSource(
		viper.GetString("mail.base_url"),
		viper.GetString("mail.api_token"))
	syncEngine := mailsync.New(store, mail, jobs, syncConfig())

	rates := match.NewStorageRateSource(store)
	matcher := match.NewWithConfig(store, rates, matchConfig())

	extractor := extract.NewHTTPExtractor(
		viper.GetString("extractor.base_url"),
		viper.GetString("extractor.api_token"))

	jobs.RegisterHandler(model.JobTypeSync, mailsync.NewJobHandler(syncEngine))
	jobs.RegisterHandler(model.JobTypeExtract, extract.NewJobHandler(store, extractor, jobs))
	jobs.RegisterHandler(model.JobTypeMatch, match.NewJobHandler(matcher))

	return &services{
		storage: store,
		jobs:    jobs,
		pool:    queue.NewPool(jobs),
		sync:    syncEngine,
		matcher: matcher,
	}
}

// drainQueue processes jobs until the queue is empty. One-shot commands use
// it so their enqueued work finishes before the process exits.
func drainQueue(ctx context.Context, svc *services) error {
	for {
		processed, err := svc.pool.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
}
