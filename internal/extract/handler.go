package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/queue"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

// NewJobHandler returns the queue handler for extract jobs: call the
// extraction model, persist the write-once result, and hand the item to the
// match pipeline.
func NewJobHandler(storage service.Storage, extractor service.Extractor, jobs *queue.Queue) queue.Handler {
	return func(ctx context.Context, payload []byte) error {
		p, err := queue.DecodePayload[queue.ExtractPayload](payload)
		if err != nil {
			return err
		}
		if p.SourceItemID == "" {
			return errors.New("extract payload missing source item id")
		}

		item, err := storage.GetSourceItem(ctx, p.SourceItemID)
		if err != nil {
			return fmt.Errorf("failed to load source item: %w", err)
		}

		// An earlier attempt may have extracted and crashed before
		// completing the job; the extraction is write-once, so just move on
		// to matching.
		if _, err := storage.GetExtractionBySourceItem(ctx, item.ID); err == nil {
			return enqueueMatch(ctx, jobs, item.ID)
		} else if !errors.Is(err, common.ErrNoExtraction) {
			return fmt.Errorf("failed to check for existing extraction: %w", err)
		}

		extraction, err := extractor.Extract(ctx, item)
		if err != nil {
			return fmt.Errorf("extraction failed for %s: %w", item.ID, err)
		}

		if err := storage.SaveExtraction(ctx, extraction); err != nil {
			return fmt.Errorf("failed to save extraction: %w", err)
		}

		slog.Info("Extracted source item",
			"source_item_id", item.ID,
			"vendor", extraction.VendorName,
			"amount", extraction.Amount,
			"currency", extraction.Currency,
			"confidence", extraction.Confidence)

		return enqueueMatch(ctx, jobs, item.ID)
	}
}

func enqueueMatch(ctx context.Context, jobs *queue.Queue, sourceItemID string) error {
	if jobs == nil {
		return nil
	}
	if _, err := jobs.Enqueue(ctx, model.JobTypeMatch, queue.MatchPayload{SourceItemID: sourceItemID}); err != nil {
		return fmt.Errorf("failed to enqueue match job: %w", err)
	}
	return nil
}
