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

// SaveExtraction persists the structured fields for a source item. An
// extraction is written once; re-running the extract job for the same item
// overwrites nothing.
func (s *SQLiteStorage) SaveExtraction(ctx context.Context, extraction *model.Extraction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(extraction.SourceItemID, "extraction.SourceItemID"); err != nil {
		return err
	}
	if extraction.ExtractedAt.IsZero() {
		extraction.ExtractedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO extractions (
			id, source_item_id, vendor_name, amount, currency,
			transaction_date, confidence, extracted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, extraction.ID, extraction.SourceItemID, extraction.VendorName,
		extraction.Amount, extraction.Currency, extraction.TransactionDate,
		extraction.Confidence, extraction.ExtractedAt)
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

// GetExtractionBySourceItem retrieves the extraction for a source item.
func (s *SQLiteStorage) GetExtractionBySourceItem(ctx context.Context, sourceItemID string) (*model.Extraction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sourceItemID, "sourceItemID"); err != nil {
		return nil, err
	}

	var extraction model.Extraction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_item_id, vendor_name, amount, currency,
		       transaction_date, confidence, extracted_at
		FROM extractions WHERE source_item_id = ?
	`, sourceItemID).Scan(
		&extraction.ID,
		&extraction.SourceItemID,
		&extraction.VendorName,
		&extraction.Amount,
		&extraction.Currency,
		&extraction.TransactionDate,
		&extraction.Confidence,
		&extraction.ExtractedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNoExtraction
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}
	return &extraction, nil
}
