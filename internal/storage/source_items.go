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

// UpsertSourceItems inserts items, ignoring any already indexed for the same
// (account, folder, external_uid). Re-delivered items are no-ops, which makes
// at-least-once sync re-delivery safe. Returns the number actually inserted.
func (s *SQLiteStorage) UpsertSourceItems(ctx context.Context, items []model.SourceItem) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO source_items (
				id, user_id, account_id, folder, external_uid, hash, received_at,
				raw_ref, subject, sender, detection_score, status, last_error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, item := range items {
			if item.Status == "" {
				item.Status = model.SourceStatusIndexed
			}
			res, err := stmt.ExecContext(ctx,
				item.ID,
				item.UserID,
				item.AccountID,
				item.Folder,
				item.ExternalUID,
				item.GenerateHash(),
				item.ReceivedAt,
				item.RawRef,
				item.Subject,
				item.Sender,
				item.DetectionScore,
				string(item.Status),
				item.LastError,
			)
			if err != nil {
				return fmt.Errorf("failed to insert source item %s: %w", item.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetSourceItem retrieves a source item by id.
func (s *SQLiteStorage) GetSourceItem(ctx context.Context, id string) (*model.SourceItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getSourceItemTx(ctx, s.db, `WHERE id = ?`, id)
}

// GetSourceItemByUID retrieves a source item by its provider identity.
func (s *SQLiteStorage) GetSourceItemByUID(ctx context.Context, accountID, folder string, uid int64) (*model.SourceItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getSourceItemTx(ctx, s.db,
		`WHERE account_id = ? AND folder = ? AND external_uid = ?`, accountID, folder, uid)
}

func (s *SQLiteStorage) getSourceItemTx(ctx context.Context, q queryable, where string, args ...any) (*model.SourceItem, error) {
	var item model.SourceItem
	var status string
	var receivedAt sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, account_id, folder, external_uid, received_at, raw_ref,
		       subject, sender, detection_score, status, last_error,
		       review_notes, created_at
		FROM source_items `+where, args...,
	).Scan(
		&item.ID,
		&item.UserID,
		&item.AccountID,
		&item.Folder,
		&item.ExternalUID,
		&receivedAt,
		&item.RawRef,
		&item.Subject,
		&item.Sender,
		&item.DetectionScore,
		&status,
		&item.LastError,
		&item.ReviewNotes,
		&item.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source item: %w", err)
	}

	if receivedAt.Valid {
		item.ReceivedAt = receivedAt.Time
	}
	item.Status = model.SourceItemStatus(status)
	return &item, nil
}

// SetSourceItemStatus updates the status and review notes of a source item.
// Status is the only mutable field once an item is indexed.
func (s *SQLiteStorage) SetSourceItemStatus(ctx context.Context, id string, status model.SourceItemStatus, notes string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE source_items SET status = ?, review_notes = ? WHERE id = ?
	`, string(status), notes, id)
	if err != nil {
		return fmt.Errorf("failed to update source item status: %w", err)
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

// DeleteSourceItem removes a source item together with its extraction and any
// unapproved matches. An approved match blocks deletion; it must be unmatched
// explicitly first.
func (s *SQLiteStorage) DeleteSourceItem(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var approved int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM matches WHERE source_item_id = ? AND state = 'approved'
		`, id).Scan(&approved)
		if err != nil {
			return fmt.Errorf("failed to check approved matches: %w", err)
		}
		if approved > 0 {
			return common.ErrApprovedMatchExists
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE source_item_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete matches: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM extractions WHERE source_item_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete extraction: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM source_items WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete source item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return common.ErrNotFound
		}
		return nil
	})
}

// ListUnmatchedSourceItems returns a user's indexed source items that have
// an extraction but no approved match yet: the auto-match work set.
func (s *SQLiteStorage) ListUnmatchedSourceItems(ctx context.Context, userID string) ([]model.SourceItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT si.id, si.user_id, si.account_id, si.folder, si.external_uid,
		       si.received_at, si.raw_ref, si.subject, si.sender,
		       si.detection_score, si.status, si.last_error, si.review_notes,
		       si.created_at
		FROM source_items si
		JOIN extractions e ON e.source_item_id = si.id
		WHERE si.user_id = ? AND si.status = 'indexed'
		  AND NOT EXISTS (
			SELECT 1 FROM matches m
			WHERE m.source_item_id = si.id AND m.state = 'approved'
		  )
		ORDER BY si.received_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmatched source items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.SourceItem
	for rows.Next() {
		var item model.SourceItem
		var status string
		var receivedAt sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.AccountID,
			&item.Folder,
			&item.ExternalUID,
			&receivedAt,
			&item.RawRef,
			&item.Subject,
			&item.Sender,
			&item.DetectionScore,
			&status,
			&item.LastError,
			&item.ReviewNotes,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan source item: %w", err)
		}
		item.ReceivedAt = scanTime(receivedAt)
		item.Status = model.SourceItemStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// scanTime converts a nullable DATETIME column.
func scanTime(t sql.NullTime) time.Time {
	if t.Valid {
		return t.Time
	}
	return time.Time{}
}
