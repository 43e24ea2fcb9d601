package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
)

// cleanupFailureReason marks cursors force-failed by the watchdog sweep,
// distinguishing them from genuine sync failures.
const cleanupFailureReason = "marked failed by cleanup: run exceeded stuck timeout"

// GetSyncCursor retrieves the cursor for one (account, folder) pair.
func (s *SQLiteStorage) GetSyncCursor(ctx context.Context, accountID, folder string) (*model.SyncCursor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}
	if err := validateString(folder, "folder"); err != nil {
		return nil, err
	}

	var cursor model.SyncCursor
	var status string
	var lastSyncAt, startedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, folder, last_uid_seen, last_sync_at, status, started_at, last_error
		FROM sync_cursors
		WHERE account_id = ? AND folder = ?
	`, accountID, folder).Scan(
		&cursor.AccountID,
		&cursor.Folder,
		&cursor.LastUIDSeen,
		&lastSyncAt,
		&status,
		&startedAt,
		&cursor.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync cursor: %w", err)
	}

	cursor.Status = model.SyncStatus(status)
	cursor.LastSyncAt = scanTime(lastSyncAt)
	cursor.StartedAt = scanTime(startedAt)
	return &cursor, nil
}

// ClaimSyncCursor atomically transitions the cursor to running. The claim
// succeeds only if no run is currently in flight for the pair; a concurrent
// claim gets common.ErrSyncAlreadyRunning. The cursor row is created on first
// use.
func (s *SQLiteStorage) ClaimSyncCursor(ctx context.Context, accountID, folder string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return err
	}
	if err := validateString(folder, "folder"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_cursors (account_id, folder, status)
			VALUES (?, ?, 'idle')
			ON CONFLICT(account_id, folder) DO NOTHING
		`, accountID, folder)
		if err != nil {
			return fmt.Errorf("failed to ensure sync cursor: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sync_cursors
			SET status = 'running', started_at = ?, last_error = ''
			WHERE account_id = ? AND folder = ? AND status != 'running'
		`, time.Now().UTC(), accountID, folder)
		if err != nil {
			return fmt.Errorf("failed to claim sync cursor: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return common.ErrSyncAlreadyRunning
		}
		return nil
	})
}

// AdvanceSyncCursor moves last_uid_seen forward to uid. The cursor never
// moves backwards; callers advance it only after items up to uid are durably
// recorded.
func (s *SQLiteStorage) AdvanceSyncCursor(ctx context.Context, accountID, folder string, uid int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_cursors
		SET last_uid_seen = CASE WHEN ? > last_uid_seen THEN ? ELSE last_uid_seen END
		WHERE account_id = ? AND folder = ?
	`, uid, uid, accountID, folder)
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
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

// ReleaseSyncCursor finishes a run, recording the outcome and sync time.
func (s *SQLiteStorage) ReleaseSyncCursor(ctx context.Context, accountID, folder string, status model.SyncStatus, lastError string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_cursors
		SET status = ?, last_sync_at = ?, last_error = ?
		WHERE account_id = ? AND folder = ?
	`, string(status), time.Now().UTC(), lastError, accountID, folder)
	if err != nil {
		return fmt.Errorf("failed to release sync cursor: %w", err)
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

// SweepStuckCursors force-fails any cursor left running longer than
// olderThan. Idempotent and safe to run repeatedly; a subsequent sync claim
// on a swept folder succeeds.
func (s *SQLiteStorage) SweepStuckCursors(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_cursors
		SET status = 'failed', last_error = ?
		WHERE status = 'running' AND started_at < ?
	`, cleanupFailureReason, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stuck cursors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}
