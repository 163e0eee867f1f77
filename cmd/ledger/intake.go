package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/the-ledger-must-flow/internal/intake"
	"github.com/Veraticus/the-ledger-must-flow/internal/lifecycle"
)

func intakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intake [files...]",
		Short: "Ingest expense-report JSON files and process the new expenses",
		Long: `Ingest one or more expense-report JSON payloads from disk, as delivered by
the expense system's webhook. Each newly created expense is processed
immediately; redelivered reports are acknowledged without reprocessing.

Examples:
  # Ingest a single report
  ledger intake ~/Downloads/report-2024-03.json

  # Ingest several at once
  ledger intake reports/*.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIntake,
	}

	cmd.Flags().Bool("no-process", false, "Ingest only; leave expenses pending")

	return cmd
}

func runIntake(cmd *cobra.Command, args []string) error {
	noProcess, _ := cmd.Flags().GetBool("no-process")
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	normalizer := intake.New(store)
	dispatcher := buildDispatcher(buildController(store))
	defer dispatcher.Close()

	var created []string
	counts := map[intake.Disposition]int{}

	for _, path := range args {
		data, rerr := os.ReadFile(path) // #nosec G304
		if rerr != nil {
			return fmt.Errorf("failed to read %s: %w", path, rerr)
		}

		report, perr := intake.ParseReport(data)
		if perr != nil {
			return fmt.Errorf("failed to parse %s: %w", path, perr)
		}

		results, ierr := normalizer.Ingest(ctx, report)
		if ierr != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, ierr)
		}

		for _, result := range results {
			counts[result.Disposition]++
			if result.Disposition == intake.DispositionCreated {
				created = append(created, result.ExpenseID)
			}
		}
	}

	slog.Info("Intake complete",
		"created", counts[intake.DispositionCreated],
		"refreshed", counts[intake.DispositionRefreshed],
		"already_processed", counts[intake.DispositionAlreadyProcessed],
		"unchanged", counts[intake.DispositionUnchanged],
		"skipped", counts[intake.DispositionSkipped])

	if noProcess || len(created) == 0 {
		return nil
	}

	bar := progressbar.NewOptions(len(created),
		progressbar.OptionSetDescription("Processing expenses"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var posted, flagged, deferred int
	for _, id := range created {
		outcome, derr := dispatcher.OnExpenseReady(ctx, id)
		if derr != nil {
			deferred++
		} else {
			switch outcome.Decision {
			case lifecycle.DecisionPosted:
				posted++
			case lifecycle.DecisionFlagged:
				flagged++
			}
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	slog.Info("Processing complete",
		"posted", posted,
		"flagged", flagged,
		"deferred", deferred)

	return nil
}
