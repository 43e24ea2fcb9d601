package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dsil-design/joot-reconcile/internal/ofx"
)

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-ofx <file>...",
		Short: "Import OFX/QFX statement files as source items",
		Long: `Parses uploaded bank or credit card statements and indexes each entry as
a source item in the "uploads" folder. Statement data is already structured,
so extractions are written inline and the entries flow straight into the
match pipeline. Re-importing a statement skips entries already indexed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().String("user", "", "owner user id (required)")
	cmd.Flags().Bool("process", true, "process queued match jobs before exiting")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
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
	importer := ofx.NewImporter(store, svc.jobs)

	totalIndexed, totalSkipped := 0, 0
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}

		result, importErr := importer.Import(ctx, userID, f)
		closeErr := f.Close()
		if importErr != nil {
			return fmt.Errorf("failed to import %s: %w", path, importErr)
		}
		if closeErr != nil {
			return fmt.Errorf("failed to close %s: %w", path, closeErr)
		}

		cmd.Printf("%s: %d indexed, %d skipped\n", path, result.Indexed, result.Skipped)
		totalIndexed += result.Indexed
		totalSkipped += result.Skipped
	}

	cmd.Printf("Imported %d entries (%d already known)\n", totalIndexed, totalSkipped)

	if process {
		if err := drainQueue(ctx, svc); err != nil {
			return fmt.Errorf("failed to process queued jobs: %w", err)
		}
	}
	return nil
}
