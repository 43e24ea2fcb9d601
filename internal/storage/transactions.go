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

// SaveTransactions saves ledger transactions. Duplicates (by hash) are
// ignored so statement re-imports are no-ops.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO transactions (
				id, user_id, vendor_id, vendor_name, amount, currency, date, hash
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, txn := range transactions {
			if txn.Hash == "" {
				txn.Hash = txn.GenerateHash()
			}
			_, err = stmt.ExecContext(ctx,
				txn.ID,
				txn.UserID,
				txn.VendorID,
				txn.VendorName,
				txn.Amount,
				txn.Currency,
				txn.Date,
				txn.Hash,
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
			}
		}
		return nil
	})
}

// GetTransactionByID retrieves a single ledger transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var txn model.Transaction
	var vendorID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, vendor_id, vendor_name, amount, currency, date,
		       matched_source_item_id, hash, created_at
		FROM transactions WHERE id = ?
	`, id).Scan(
		&txn.ID,
		&txn.UserID,
		&vendorID,
		&txn.VendorName,
		&txn.Amount,
		&txn.Currency,
		&txn.Date,
		&txn.MatchedSourceItemID,
		&txn.Hash,
		&txn.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	txn.VendorID = vendorID.String
	return &txn, nil
}

// GetCandidateTransactions retrieves a user's ledger transactions within a
// date window, including already-matched ones; callers mark or exclude those
// depending on whether the listing is for auto-match or manual review.
func (s *SQLiteStorage) GetCandidateTransactions(ctx context.Context, userID string, from, to time.Time) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %v is before %v", ErrInvalidDateRange, to, from)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, vendor_id, vendor_name, amount, currency, date,
		       matched_source_item_id, hash, created_at
		FROM transactions
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date DESC
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		var txn model.Transaction
		var vendorID sql.NullString
		if err := rows.Scan(
			&txn.ID,
			&txn.UserID,
			&vendorID,
			&txn.VendorName,
			&txn.Amount,
			&txn.Currency,
			&txn.Date,
			&txn.MatchedSourceItemID,
			&txn.Hash,
			&txn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.VendorID = vendorID.String
		transactions = append(transactions, txn)
	}
	return transactions, rows.Err()
}
