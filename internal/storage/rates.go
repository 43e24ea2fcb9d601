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

// GetExchangeRate looks up the externally-maintained rate table for a date
// and currency pair. A missing row is reported as common.ErrRateNotFound; it
// is a soft miss, not a failure.
func (s *SQLiteStorage) GetExchangeRate(ctx context.Context, date time.Time, from, to string) (float64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if from == to {
		return 1, nil
	}

	day := date.UTC().Truncate(24 * time.Hour)
	var rate float64
	err := s.db.QueryRowContext(ctx, `
		SELECT rate FROM exchange_rates
		WHERE date = ? AND from_currency = ? AND to_currency = ?
	`, day, from, to).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		// Try the inverse pair before giving up.
		err = s.db.QueryRowContext(ctx, `
			SELECT rate FROM exchange_rates
			WHERE date = ? AND from_currency = ? AND to_currency = ?
		`, day, to, from).Scan(&rate)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrRateNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("failed to get exchange rate: %w", err)
		}
		if rate == 0 {
			return 0, common.ErrRateNotFound
		}
		return 1 / rate, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get exchange rate: %w", err)
	}
	return rate, nil
}

// SaveExchangeRates loads rows into the rate lookup table. Used by the
// external rate sync and by tests.
func (s *SQLiteStorage) SaveExchangeRates(ctx context.Context, rates []model.ExchangeRate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO exchange_rates (date, from_currency, to_currency, rate)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, r := range rates {
			day := r.Date.UTC().Truncate(24 * time.Hour)
			if _, err := stmt.ExecContext(ctx, day, r.FromCurrency, r.ToCurrency, r.Rate); err != nil {
				return fmt.Errorf("failed to insert exchange rate: %w", err)
			}
		}
		return nil
	})
}
