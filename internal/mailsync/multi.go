package mailsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dsil-design/joot-reconcile/internal/queue"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

// SyncFolders runs independent sync passes over several folders of one
// account. Folders are isolated: a failure in one is recorded in the
// aggregate and the remaining folders still run.
func (e *Engine) SyncFolders(ctx context.Context, userID, accountID string, folders []string, mode queue.SyncMode) (*service.MultiFolderSyncResult, error) {
	aggregate := &service.MultiFolderSyncResult{}

	for _, folder := range folders {
		result, err := e.SyncFolder(ctx, userID, accountID, folder, mode)
		if err != nil {
			slog.Warn("Folder sync failed",
				"account_id", accountID,
				"folder", folder,
				"error", err)
			aggregate.Errors = append(aggregate.Errors,
				fmt.Sprintf("%s: %v", folder, err))
			aggregate.Folders = append(aggregate.Folders, service.SyncResult{
				AccountID: accountID,
				Folder:    folder,
				Errors:    []string{err.Error()},
			})
			continue
		}

		aggregate.Folders = append(aggregate.Folders, *result)
		aggregate.TotalIndexed += result.Indexed
		aggregate.TotalErrored += result.Errored
		aggregate.TotalSkipped += result.Skipped
		aggregate.Errors = append(aggregate.Errors, result.Errors...)
	}

	return aggregate, nil
}
