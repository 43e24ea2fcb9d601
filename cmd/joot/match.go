package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Generate candidates and auto-approve confident matches",
		RunE:  runMatch,
	}

	cmd.Flags().String("user", "", "owner user id (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runMatch(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")

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
	result, err := svc.matcher.AutoMatch(ctx, userID)
	if err != nil {
		return fmt.Errorf("auto-match failed: %w", err)
	}

	cmd.Printf("Auto-approved %d matches, %d items left for review\n",
		result.Matched, result.Skipped)
	return nil
}
