package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

// staleFailureReason marks jobs force-failed by the watchdog sweep,
// distinguishing them from genuine handler failures.
const staleFailureReason = "marked failed by cleanup: job stuck in active past staleness window"

// EnqueueJob persists a new job in created state.
func (s *SQLiteStorage) EnqueueJob(ctx context.Context, job *model.Job) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(job.ID, "job.ID"); err != nil {
		return err
	}
	if err := validateString(string(job.Type), "job.Type"); err != nil {
		return err
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = now
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	job.State = model.JobStateCreated

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload, state, retry_count, max_retries, created_at, available_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, string(job.Type), job.Payload, string(job.State),
		job.RetryCount, job.MaxRetries, job.CreatedAt, job.AvailableAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// ClaimNextJob atomically claims the oldest eligible job and transitions it
// to active. The claim is exclusive: the conditional update guarantees two
// workers never execute the same job. Returns (nil, nil) when no job is
// eligible.
func (s *SQLiteStorage) ClaimNextJob(ctx context.Context) (*model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var job *model.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM jobs
			WHERE state IN ('created', 'retrying') AND available_at <= ?
			ORDER BY created_at
			LIMIT 1
		`, now).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select claimable job: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET state = 'active', started_at = ?
			WHERE id = ? AND state IN ('created', 'retrying')
		`, now, id)
		if err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			// Lost the claim to a concurrent worker.
			return nil
		}

		job, err = s.getJobTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteJob transitions an active job to completed.
func (s *SQLiteStorage) CompleteJob(ctx context.Context, id string) error {
	return s.finishJob(ctx, id, `
		UPDATE jobs SET state = 'completed', completed_at = ?, last_error = ''
		WHERE id = ? AND state = 'active'
	`, time.Now().UTC())
}

// RetryJob transitions an active job back to retrying, incrementing the
// retry count and delaying re-eligibility until availableAt.
func (s *SQLiteStorage) RetryJob(ctx context.Context, id string, availableAt time.Time, lastError string) error {
	return s.finishJob(ctx, id, `
		UPDATE jobs SET state = 'retrying', retry_count = retry_count + 1,
			available_at = ?, last_error = ?
		WHERE id = ? AND state = 'active'
	`, availableAt, lastError)
}

// FailJob transitions an active job to the terminal failed state.
func (s *SQLiteStorage) FailJob(ctx context.Context, id string, lastError string) error {
	return s.finishJob(ctx, id, `
		UPDATE jobs SET state = 'failed', completed_at = ?, last_error = ?
		WHERE id = ? AND state = 'active'
	`, time.Now().UTC(), lastError)
}

func (s *SQLiteStorage) finishJob(ctx context.Context, id, query string, args ...any) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, append(args, id)...)
	if err != nil {
		return fmt.Errorf("failed to transition job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getJobTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getJobTx(ctx context.Context, q queryable, id string) (*model.Job, error) {
	var job model.Job
	var jobType, state string
	var startedAt, completedAt sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT id, type, payload, state, retry_count, max_retries,
		       created_at, available_at, started_at, completed_at, last_error
		FROM jobs WHERE id = ?
	`, id).Scan(
		&job.ID,
		&jobType,
		&job.Payload,
		&state,
		&job.RetryCount,
		&job.MaxRetries,
		&job.CreatedAt,
		&job.AvailableAt,
		&startedAt,
		&completedAt,
		&job.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Type = model.JobType(jobType)
	job.State = model.JobState(state)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// GetQueueStats returns a queue-wide snapshot grouped by state.
func (s *SQLiteStorage) GetQueueStats(ctx context.Context) (*service.QueueStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &service.QueueStats{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch model.JobState(state) {
		case model.JobStateCreated, model.JobStateRetrying:
			stats.Pending += count
		case model.JobStateActive:
			stats.Active += count
		case model.JobStateCompleted:
			stats.Completed += count
		case model.JobStateFailed:
			stats.Failed += count
		}
	}
	return stats, rows.Err()
}

// SweepStaleJobs force-fails jobs stuck in active past the staleness window.
// Idempotent; the recorded reason distinguishes cleanup from handler failure.
func (s *SQLiteStorage) SweepStaleJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'failed', completed_at = ?, last_error = ?
		WHERE state = 'active' AND started_at < ?
	`, time.Now().UTC(), staleFailureReason, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}
