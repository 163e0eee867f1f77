package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/ofx"
)

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-ofx [files...]",
		Short: "Import bank transactions from OFX/QFX files",
		Long: `Import bank transactions from OFX or QFX (Quicken) files exported from your
bank. Duplicate transactions are skipped by content hash, so re-importing
overlapping statements is safe.

Examples:
  # Import a single file
  ledger import-ofx ~/Downloads/chase_jan_2024.qfx

  # Import everything in a directory
  ledger import-ofx ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	ctx := cmd.Context()

	// Expand globs and collect all files
	var allFiles []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			// If no glob matches, check if it's a direct file
			if _, err := os.Stat(pattern); err == nil {
				allFiles = append(allFiles, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
		} else {
			allFiles = append(allFiles, matches...)
		}
	}

	if len(allFiles) == 0 {
		return fmt.Errorf("no files found to import")
	}

	slog.Info("Importing OFX files",
		"file_count", len(allFiles),
		"dry_run", dryRun)

	parser := ofx.NewParser()
	seen := make(map[string]bool)
	var transactions []model.BankTransaction

	for _, path := range allFiles {
		f, err := os.Open(path) // #nosec G304
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}

		parsed, perr := parser.ParseFile(ctx, f)
		_ = f.Close()
		if perr != nil {
			slog.Warn("Skipping unparseable file", "file", path, "error", perr)
			continue
		}

		fileNew := 0
		for _, txn := range parsed {
			if seen[txn.Hash] {
				continue
			}
			seen[txn.Hash] = true
			transactions = append(transactions, txn)
			fileNew++
		}

		slog.Info("Parsed file",
			"file", filepath.Base(path),
			"transactions", len(parsed),
			"new", fileNew)
	}

	if dryRun {
		slog.Info("Dry run complete, nothing saved", "transactions", len(transactions))
		return nil
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveBankTransactions(ctx, transactions); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}

	slog.Info("Import complete", "transactions", len(transactions))
	return nil
}
