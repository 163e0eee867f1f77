package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
)

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <expense-id>",
		Short: "Reset a flagged expense to pending",
		Long: `Move a flagged expense back to pending so it can be reprocessed. This is
the only path out of the flagged state; fix the underlying data first.`,
		Args: cobra.ExactArgs(1),
		RunE: runReset,
	}

	cmd.Flags().Bool("process", false, "Immediately reprocess after resetting")

	return cmd
}

func runReset(cmd *cobra.Command, args []string) error {
	process, _ := cmd.Flags().GetBool("process")
	ctx := cmd.Context()
	id := args[0]

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	controller := buildController(store)

	reset, err := controller.Reset(ctx, id)
	if err != nil {
		return err
	}
	if !reset {
		return common.NewUserError(
			fmt.Sprintf("expense %s is not flagged; only flagged expenses can be reset", id), nil)
	}

	if !process {
		return nil
	}

	dispatcher := buildDispatcher(controller)
	defer dispatcher.Close()

	outcome, err := dispatcher.OnExpenseReady(ctx, id)
	if err != nil {
		return err
	}

	slog.Info("Reprocessed expense",
		"expense_id", id,
		"decision", string(outcome.Decision),
		"status", string(outcome.Status),
		"score", outcome.Score)

	return nil
}
