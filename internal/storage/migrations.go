package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS source_items (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					account_id TEXT NOT NULL,
					folder TEXT NOT NULL,
					external_uid INTEGER NOT NULL,
					hash TEXT UNIQUE NOT NULL,
					received_at DATETIME,
					raw_ref TEXT,
					subject TEXT,
					sender TEXT,
					detection_score INTEGER DEFAULT 0,
					status TEXT NOT NULL,
					last_error TEXT DEFAULT '',
					review_notes TEXT DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(account_id, folder, external_uid)
				)`,
				`CREATE INDEX idx_source_items_folder ON source_items(account_id, folder)`,

				`CREATE TABLE IF NOT EXISTS sync_cursors (
					account_id TEXT NOT NULL,
					folder TEXT NOT NULL,
					last_uid_seen INTEGER NOT NULL DEFAULT 0,
					last_sync_at DATETIME,
					status TEXT NOT NULL DEFAULT 'idle',
					started_at DATETIME,
					last_error TEXT DEFAULT '',
					PRIMARY KEY (account_id, folder)
				)`,

				`CREATE TABLE IF NOT EXISTS jobs (
					id TEXT PRIMARY KEY,
					type TEXT NOT NULL,
					payload BLOB,
					state TEXT NOT NULL,
					retry_count INTEGER NOT NULL DEFAULT 0,
					max_retries INTEGER NOT NULL DEFAULT 3,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					available_at DATETIME,
					started_at DATETIME,
					completed_at DATETIME,
					last_error TEXT DEFAULT ''
				)`,

				`CREATE TABLE IF NOT EXISTS extractions (
					id TEXT PRIMARY KEY,
					source_item_id TEXT UNIQUE NOT NULL,
					vendor_name TEXT NOT NULL,
					amount REAL NOT NULL,
					currency TEXT NOT NULL,
					transaction_date DATETIME NOT NULL,
					confidence INTEGER DEFAULT 0,
					extracted_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (source_item_id) REFERENCES source_items(id)
				)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					vendor_id TEXT,
					vendor_name TEXT NOT NULL,
					amount REAL NOT NULL,
					currency TEXT NOT NULL,
					date DATETIME NOT NULL,
					matched_source_item_id TEXT DEFAULT '',
					hash TEXT UNIQUE NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_user_date ON transactions(user_id, date)`,

				`CREATE TABLE IF NOT EXISTS matches (
					id TEXT PRIMARY KEY,
					source_item_id TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					confidence_score REAL NOT NULL DEFAULT 0,
					match_type TEXT NOT NULL,
					state TEXT NOT NULL,
					reasons TEXT DEFAULT '',
					approved_at DATETIME,
					approved_by TEXT DEFAULT '',
					reject_reason TEXT DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(source_item_id, transaction_id),
					FOREIGN KEY (source_item_id) REFERENCES source_items(id),
					FOREIGN KEY (transaction_id) REFERENCES transactions(id)
				)`,
				`CREATE INDEX idx_matches_source_item ON matches(source_item_id)`,
				`CREATE INDEX idx_matches_transaction ON matches(transaction_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Add exchange rate lookup table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS exchange_rates (
					date DATETIME NOT NULL,
					from_currency TEXT NOT NULL,
					to_currency TEXT NOT NULL,
					rate REAL NOT NULL,
					PRIMARY KEY (date, from_currency, to_currency)
				)
			`)
			return err
		},
	},
	{
		Version:     3,
		Description: "Enforce one approved match per side and index job claims",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				// Backstop for the conditional write at approval time.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_approved_transaction
					ON matches(transaction_id) WHERE state = 'approved'`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_approved_source_item
					ON matches(source_item_id) WHERE state = 'approved'`,
				`CREATE INDEX IF NOT EXISTS idx_jobs_claimable
					ON jobs(state, available_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies any pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
