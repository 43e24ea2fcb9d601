package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dsil-design/joot-reconcile/internal/common"
	"github.com/dsil-design/joot-reconcile/internal/queue"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync mail folders and index new source items",
		RunE:  runSync,
	}

	cmd.Flags().String("user", "", "owner user id (required)")
	cmd.Flags().String("account", "", "mail account id (required)")
	cmd.Flags().StringSlice("folders", []string{"INBOX"}, "folders to sync")
	cmd.Flags().Bool("full", false, "ignore cursors and rescan the folders")
	cmd.Flags().Bool("process", true, "process queued extraction and match jobs before exiting")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")
	accountID, _ := cmd.Flags().GetString("account")
	folders, _ := cmd.Flags().GetStringSlice("folders")
	full, _ := cmd.Flags().GetBool("full")
	process, _ := cmd.Flags().GetBool("process")

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close storage", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	svc := buildServices(store)

	mode := queue.SyncModeIncremental
	if full {
		mode = queue.SyncModeFull
	}

	bar := progressbar.NewOptions(len(folders),
		progressbar.OptionSetDescription("Syncing folders"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish())

	aggregate := &service.MultiFolderSyncResult{}
	for _, folder := range folders {
		result, syncErr := svc.sync.SyncFolder(ctx, userID, accountID, folder, mode)
		if syncErr != nil {
			if errors.Is(syncErr, common.ErrSyncAlreadyRunning) {
				aggregate.Errors = append(aggregate.Errors,
					fmt.Sprintf("%s: sync already running", folder))
				_ = bar.Add(1)
				continue
			}
			aggregate.Errors = append(aggregate.Errors, fmt.Sprintf("%s: %v", folder, syncErr))
			_ = bar.Add(1)
			continue
		}
		aggregate.TotalIndexed += result.Indexed
		aggregate.TotalErrored += result.Errored
		aggregate.TotalSkipped += result.Skipped
		aggregate.Errors = append(aggregate.Errors, result.Errors...)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	cmd.Printf("Indexed %d new items, %d unparseable, skipped %d already-known\n",
		aggregate.TotalIndexed, aggregate.TotalErrored, aggregate.TotalSkipped)
	for _, e := range aggregate.Errors {
		cmd.Printf("  warning: %s\n", e)
	}

	if process {
		if err := drainQueue(ctx, svc); err != nil {
			return fmt.Errorf("failed to process queued jobs: %w", err)
		}
	}
	return nil
}
