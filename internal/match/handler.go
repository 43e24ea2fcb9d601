package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/queue"
)

// NewJobHandler returns the queue handler for match jobs: generate candidates
// for the source item and apply the auto-match policy.
func NewJobHandler(engine *Engine) queue.Handler {
	return func(ctx context.Context, payload []byte) error {
		p, err := queue.DecodePayload[queue.MatchPayload](payload)
		if err != nil {
			return err
		}
		if p.SourceItemID == "" {
			return errors.New("match payload missing source item id")
		}

		_, err = engine.AutoMatchItem(ctx, p.SourceItemID)
		if errors.Is(err, common.ErrNoExtraction) {
			// Extraction hasn't landed; the extract handler re-enqueues
			// matching when it does.
			return fmt.Errorf("source item %s has no extraction yet: %w", p.SourceItemID, err)
		}
		return err
	}
}
