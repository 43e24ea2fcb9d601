package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
)

// ReplaceUnapprovedMatches atomically replaces all non-approved matches for a
// source item with the freshly generated set. Approved matches are left
// untouched, which makes candidate regeneration idempotent: no duplicate
// (source_item_id, transaction_id) pairs can be created.
func (s *SQLiteStorage) ReplaceUnapprovedMatches(ctx context.Context, sourceItemID string, matches []model.Match) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(sourceItemID, "sourceItemID"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM matches WHERE source_item_id = ? AND state != 'approved'
		`, sourceItemID); err != nil {
			return fmt.Errorf("failed to clear unapproved matches: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO matches (
				id, source_item_id, transaction_id, confidence_score,
				match_type, state, reasons, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, m := range matches {
			reasonsJSON := ""
			if len(m.Reasons) > 0 {
				if b, marshalErr := json.Marshal(m.Reasons); marshalErr == nil {
					reasonsJSON = string(b)
				}
			}
			if m.CreatedAt.IsZero() {
				m.CreatedAt = time.Now().UTC()
			}
			if _, err := stmt.ExecContext(ctx,
				m.ID,
				m.SourceItemID,
				m.TransactionID,
				m.ConfidenceScore,
				string(m.Type),
				string(m.State),
				reasonsJSON,
				m.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert match %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

// GetMatch retrieves a match by id.
func (s *SQLiteStorage) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	matches, err := s.queryMatches(ctx, `WHERE m.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, common.ErrNotFound
	}
	return &matches[0], nil
}

// GetMatchesForSourceItem retrieves all matches for a source item, best
// score first.
func (s *SQLiteStorage) GetMatchesForSourceItem(ctx context.Context, sourceItemID string) ([]model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sourceItemID, "sourceItemID"); err != nil {
		return nil, err
	}
	return s.queryMatches(ctx,
		`WHERE m.source_item_id = ? ORDER BY m.confidence_score DESC`, sourceItemID)
}

// ListSuggestedMatches retrieves all suggested matches for a user's
// transactions, for the review queue.
func (s *SQLiteStorage) ListSuggestedMatches(ctx context.Context, userID string) ([]model.Match, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	return s.queryMatches(ctx, `
		JOIN transactions t ON t.id = m.transaction_id
		WHERE m.state = 'suggested' AND t.user_id = ?
		ORDER BY m.confidence_score DESC`, userID)
}

func (s *SQLiteStorage) queryMatches(ctx context.Context, clause string, args ...any) ([]model.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.source_item_id, m.transaction_id, m.confidence_score,
		       m.match_type, m.state, m.reasons, m.approved_at, m.approved_by,
		       m.reject_reason, m.created_at
		FROM matches m `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []model.Match
	for rows.Next() {
		var m model.Match
		var matchType, state, reasonsJSON string
		var approvedAt sql.NullTime
		if err := rows.Scan(
			&m.ID,
			&m.SourceItemID,
			&m.TransactionID,
			&m.ConfidenceScore,
			&matchType,
			&state,
			&reasonsJSON,
			&approvedAt,
			&m.ApprovedBy,
			&m.RejectReason,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.Type = model.MatchType(matchType)
		m.State = model.MatchState(state)
		if approvedAt.Valid {
			t := approvedAt.Time
			m.ApprovedAt = &t
		}
		if reasonsJSON != "" {
			_ = json.Unmarshal([]byte(reasonsJSON), &m.Reasons)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ApproveMatch transitions a suggested match to approved and writes the
// transaction's back-reference. The write is optimistic: it succeeds only if
// no other approved match exists for either the transaction or the source
// item, rejecting on conflict rather than blocking.
func (s *SQLiteStorage) ApproveMatch(ctx context.Context, id, actor string, matchType model.MatchType) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if err := validateString(actor, "actor"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE matches
			SET state = 'approved', approved_at = ?, approved_by = ?, match_type = ?
			WHERE id = ? AND state = 'suggested'
			  AND NOT EXISTS (
				SELECT 1 FROM matches other
				WHERE other.id != matches.id
				  AND other.state = 'approved'
				  AND (other.transaction_id = matches.transaction_id
				       OR other.source_item_id = matches.source_item_id)
			  )
		`, time.Now().UTC(), actor, string(matchType), id)
		if err != nil {
			return fmt.Errorf("failed to approve match: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return s.approveConflict(ctx, tx, id)
		}

		var sourceItemID, transactionID string
		if err := tx.QueryRowContext(ctx, `
			SELECT source_item_id, transaction_id FROM matches WHERE id = ?
		`, id).Scan(&sourceItemID, &transactionID); err != nil {
			return fmt.Errorf("failed to read approved match: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET matched_source_item_id = ? WHERE id = ?
		`, sourceItemID, transactionID); err != nil {
			return fmt.Errorf("failed to set transaction back-reference: %w", err)
		}
		return nil
	})
}

// approveConflict distinguishes why the conditional approval write matched
// no rows.
func (s *SQLiteStorage) approveConflict(ctx context.Context, tx *sql.Tx, id string) error {
	var state string
	err := tx.QueryRowContext(ctx, `SELECT state FROM matches WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect match state: %w", err)
	}
	if model.MatchState(state) != model.MatchStateSuggested {
		return common.ErrMatchNotSuggested
	}
	return common.ErrApprovedMatchExists
}

// RejectMatch transitions a suggested match to terminal rejected. A rejected
// pair may still be regenerated later if underlying data changes.
func (s *SQLiteStorage) RejectMatch(ctx context.Context, id, actor, reason string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE matches
		SET state = 'rejected', match_type = 'manual', approved_by = ?, reject_reason = ?
		WHERE id = ? AND state = 'suggested'
	`, actor, reason, id)
	if err != nil {
		return fmt.Errorf("failed to reject match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetMatch(ctx, id); getErr != nil {
			return getErr
		}
		return common.ErrMatchNotSuggested
	}
	return nil
}

// UnmatchMatch reverses an approval: clears the transaction back-reference
// and returns the match to suggested. Fails unless the match is currently
// approved.
func (s *SQLiteStorage) UnmatchMatch(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var sourceItemID, transactionID string
		err := tx.QueryRowContext(ctx, `
			SELECT source_item_id, transaction_id FROM matches WHERE id = ?
		`, id).Scan(&sourceItemID, &transactionID)
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read match: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE matches
			SET state = 'suggested', approved_at = NULL, approved_by = ''
			WHERE id = ? AND state = 'approved'
		`, id)
		if err != nil {
			return fmt.Errorf("failed to unmatch: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return common.ErrMatchNotApproved
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET matched_source_item_id = '' WHERE id = ?
		`, transactionID); err != nil {
			return fmt.Errorf("failed to clear transaction back-reference: %w", err)
		}
		return nil
	})
}
