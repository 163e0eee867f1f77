package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
)

func recoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover expenses stuck in processing",
		Long: `Sweep expenses that have sat in processing longer than the threshold.
Expenses with retry budget left return to pending; exhausted ones are
flagged for review.`,
		RunE: runRecover,
	}

	cmd.Flags().Duration("older-than", 15*time.Minute, "How long an expense must be stuck before recovery")
	cmd.Flags().Int("max-attempts", 3, "Attempts before a stuck expense is flagged instead of retried")

	return cmd
}

func runRecover(cmd *cobra.Command, _ []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.RecoverStuckExpenses(ctx, time.Now().Add(-olderThan), maxAttempts)
	if err != nil {
		return err
	}

	common.LogInfo("Recovery sweep complete", common.Fields{
		"recovered": stats.Recovered,
		"flagged":   stats.Flagged,
	})

	return nil
}
