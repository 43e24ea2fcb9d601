// Package mailsync implements incremental folder synchronization against the
// external mail provider: cursor claims, batch indexing, receipt detection,
// and the stuck-run watchdog.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/queue"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

// Config holds tunables for the sync engine.
type Config struct {
	// BatchSize is how many fetched items are persisted per cursor advance.
	BatchSize int
	// DetectionThreshold is the minimum receipt-likelihood score that makes
	// an indexed item an extraction candidate.
	DetectionThreshold int
	// StuckTimeout is how long a cursor may stay running before the watchdog
	// force-fails it.
	StuckTimeout time.Duration
}

// DefaultConfig returns the default sync configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:          50,
		DetectionThreshold: 40,
		StuckTimeout:       10 * time.Minute,
	}
}

// Engine orchestrates folder sync runs.
type Engine struct {
	storage service.Storage
	mail    service.MailSource
	jobs    *queue.Queue
	cfg     Config
}

// New creates a sync engine.
func New(storage service.Storage, mail service.MailSource, jobs *queue.Queue, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = DefaultConfig().StuckTimeout
	}
	return &Engine{
		storage: storage,
		mail:    mail,
		jobs:    jobs,
		cfg:     cfg,
	}
}

// SyncFolder runs one sync pass over a single (account, folder) pair. It
// claims the folder's cursor, fetches items past the high-water mark, indexes
// them in batches, advances the cursor only past durably recorded items, and
// releases the cursor with the run outcome. A second concurrent run on the
// same pair fails fast with common.ErrSyncAlreadyRunning.
func (e *Engine) SyncFolder(ctx context.Context, userID, accountID, folder string, mode queue.SyncMode) (*service.SyncResult, error) {
	if err := e.storage.ClaimSyncCursor(ctx, accountID, folder); err != nil {
		if errors.Is(err, common.ErrSyncAlreadyRunning) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to claim sync cursor: %w", err)
	}

	result, runErr := e.runClaimed(ctx, userID, accountID, folder, mode)

	status := model.SyncStatusCompleted
	lastError := ""
	if runErr != nil {
		status = model.SyncStatusFailed
		lastError = runErr.Error()
	}
	if releaseErr := e.storage.ReleaseSyncCursor(ctx, accountID, folder, status, lastError); releaseErr != nil {
		slog.Error("Failed to release sync cursor",
			"account_id", accountID,
			"folder", folder,
			"error", releaseErr)
		if runErr == nil {
			runErr = fmt.Errorf("failed to release sync cursor: %w", releaseErr)
		}
	}

	if runErr != nil {
		return result, runErr
	}
	slog.Info("Folder sync completed",
		"account_id", accountID,
		"folder", folder,
		"indexed", result.Indexed,
		"errored", result.Errored,
		"skipped", result.Skipped)
	return result, nil
}

// runClaimed does the fetch-and-index work under an already-claimed cursor.
func (e *Engine) runClaimed(ctx context.Context, userID, accountID, folder string, mode queue.SyncMode) (*service.SyncResult, error) {
	result := &service.SyncResult{AccountID: accountID, Folder: folder}

	var sinceUID int64
	if mode != queue.SyncModeFull {
		cursor, err := e.storage.GetSyncCursor(ctx, accountID, folder)
		if err != nil {
			return result, fmt.Errorf("failed to load sync cursor: %w", err)
		}
		sinceUID = cursor.LastUIDSeen
	}

	items, err := e.mail.FetchSince(ctx, accountID, folder, sinceUID)
	if err != nil {
		return result, fmt.Errorf("failed to fetch folder %s: %w", folder, err)
	}
	if len(items) == 0 {
		return result, nil
	}

	for start := 0; start < len(items); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		records := make([]model.SourceItem, 0, len(batch))
		errRecords := make([]model.SourceItem, 0)
		var batchMax int64
		for _, mi := range batch {
			item := e.buildSourceItem(userID, accountID, folder, mi)
			if mi.ParseError != "" {
				errRecords = append(errRecords, item)
				result.Errors = append(result.Errors,
					fmt.Sprintf("uid %d: %s", mi.UID, mi.ParseError))
			} else {
				records = append(records, item)
			}
			if mi.UID > batchMax {
				batchMax = mi.UID
			}
		}

		inserted, err := e.storage.UpsertSourceItems(ctx, records)
		if err != nil {
			return result, fmt.Errorf("failed to index batch: %w", err)
		}
		insertedErr, err := e.storage.UpsertSourceItems(ctx, errRecords)
		if err != nil {
			return result, fmt.Errorf("failed to record unparseable items: %w", err)
		}
		result.Indexed += inserted
		result.Errored += insertedErr
		result.Skipped += len(batch) - inserted - insertedErr

		// The cursor only moves past items that are durably recorded, so a
		// crash mid-run re-delivers at most one batch and the upsert makes
		// re-delivery a no-op.
		if err := e.storage.AdvanceSyncCursor(ctx, accountID, folder, batchMax); err != nil {
			return result, fmt.Errorf("failed to advance sync cursor: %w", err)
		}

		if err := e.enqueueExtractions(ctx, records); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	return result, nil
}

// buildSourceItem converts one fetched mail item into its persisted form. A
// per-item parse failure is recorded on the row instead of aborting the run.
func (e *Engine) buildSourceItem(userID, accountID, folder string, mi service.MailItem) model.SourceItem {
	item := model.SourceItem{
		ID:          uuid.NewString(),
		UserID:      userID,
		AccountID:   accountID,
		Folder:      folder,
		ExternalUID: mi.UID,
		ReceivedAt:  mi.ReceivedAt,
		RawRef:      mi.RawRef,
		Subject:     mi.Subject,
		Sender:      mi.Sender,
		Status:      model.SourceStatusIndexed,
	}

	if mi.ParseError != "" {
		item.Status = model.SourceStatusError
		item.LastError = mi.ParseError
		return item
	}

	item.DetectionScore = DetectionScore(mi.Subject, mi.Sender, mi.Body)
	if item.DetectionScore < e.cfg.DetectionThreshold {
		item.Status = model.SourceStatusSkipped
	}
	return item
}

// enqueueExtractions queues extract jobs for the batch's receipt candidates.
// Duplicate rows skipped by the upsert still get a job; the extraction layer
// is write-once, so re-processing is harmless.
func (e *Engine) enqueueExtractions(ctx context.Context, records []model.SourceItem) error {
	if e.jobs == nil {
		return nil
	}
	for _, rec := range records {
		if rec.Status != model.SourceStatusIndexed {
			continue
		}
		// Re-deliveries keep their original row id; look it up so the job
		// references the persisted item.
		stored, err := e.storage.GetSourceItemByUID(ctx, rec.AccountID, rec.Folder, rec.ExternalUID)
		if err != nil {
			return fmt.Errorf("failed to resolve indexed item uid %d: %w", rec.ExternalUID, err)
		}
		if _, err := e.jobs.Enqueue(ctx, model.JobTypeExtract, queue.ExtractPayload{SourceItemID: stored.ID}); err != nil {
			return fmt.Errorf("failed to enqueue extraction for %s: %w", stored.ID, err)
		}
	}
	return nil
}
