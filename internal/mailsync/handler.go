package mailsync

import (
	"context"
	"errors"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/queue"
)

// NewJobHandler returns the queue handler for sync jobs.
func NewJobHandler(engine *Engine) queue.Handler {
	return func(ctx context.Context, payload []byte) error {
		p, err := queue.DecodePayload[queue.SyncPayload](payload)
		if err != nil {
			return err
		}
		if p.AccountID == "" || p.Folder == "" {
			return errors.New("sync payload missing account id or folder")
		}

		_, err = engine.SyncFolder(ctx, p.UserID, p.AccountID, p.Folder, p.Mode)
		if errors.Is(err, common.ErrSyncAlreadyRunning) {
			// Another run holds the cursor; this attempt is redundant, not
			// failed.
			return nil
		}
		return err
	}
}
