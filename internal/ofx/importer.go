package ofx

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/queue"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

// UploadsFolder is the synthetic folder name for statement uploads. Upload
// items share the dedup and pipeline machinery with mail items.
const UploadsFolder = "uploads"

// ImportResult summarizes one statement import.
type ImportResult struct {
	Indexed int
	Skipped int
}

// Importer turns uploaded statements into source items with inline
// extractions.
type Importer struct {
	storage service.Storage
	jobs    *queue.Queue
	parser  *Parser
}

// NewImporter creates a statement importer.
func NewImporter(storage service.Storage, jobs *queue.Queue) *Importer {
	return &Importer{
		storage: storage,
		jobs:    jobs,
		parser:  NewParser(),
	}
}

// Import parses an uploaded statement and indexes each entry as a source
// item for the given user. The statement data is already structured, so the
// extraction is written inline and only a match job is queued. Re-uploading
// the same statement is a no-op for entries already indexed.
func (i *Importer) Import(ctx context.Context, userID string, reader io.Reader) (*ImportResult, error) {
	entries, err := i.parser.ParseFile(ctx, reader)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	now := time.Now().UTC()

	for _, entry := range entries {
		item := model.SourceItem{
			ID:          uuid.NewString(),
			UserID:      userID,
			AccountID:   entry.AccountID,
			Folder:      UploadsFolder,
			ExternalUID: uploadUID(entry.FiTID),
			ReceivedAt:  now,
			RawRef:      fmt.Sprintf("ofx:%s:%s", entry.AccountID, entry.FiTID),
			Subject:     entry.VendorName,
			Status:      model.SourceStatusIndexed,
		}

		inserted, err := i.storage.UpsertSourceItems(ctx, []model.SourceItem{item})
		if err != nil {
			return result, fmt.Errorf("failed to index statement entry %s: %w", entry.FiTID, err)
		}
		if inserted == 0 {
			result.Skipped++
			continue
		}
		result.Indexed++

		extraction := &model.Extraction{
			ID:              uuid.NewString(),
			SourceItemID:    item.ID,
			VendorName:      entry.VendorName,
			Amount:          entry.Amount,
			Currency:        entry.Currency,
			TransactionDate: entry.Date,
			Confidence:      100,
			ExtractedAt:     now,
		}
		if err := i.storage.SaveExtraction(ctx, extraction); err != nil && !errors.Is(err, common.ErrDuplicateEntry) {
			return result, fmt.Errorf("failed to save statement extraction: %w", err)
		}

		if i.jobs != nil {
			if _, err := i.jobs.Enqueue(ctx, model.JobTypeMatch, queue.MatchPayload{SourceItemID: item.ID}); err != nil {
				return result, fmt.Errorf("failed to enqueue match job: %w", err)
			}
		}
	}

	slog.Info("Imported statement",
		"user_id", userID,
		"indexed", result.Indexed,
		"skipped", result.Skipped)
	return result, nil
}

// uploadUID derives a stable provider-style UID from the statement's FITID
// so re-uploads dedupe through the same unique constraint as mail items.
func uploadUID(fitID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(fitID))
	uid := int64(h.Sum64() & (1<<63 - 1))
	if uid == 0 {
		uid = 1
	}
	return uid
}
