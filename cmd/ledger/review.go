package main

import (
	"github.com/spf13/cobra"

	"github.com/Veraticus/the-ledger-must-flow/internal/tui"
)

func reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Browse the flagged-expense queue interactively",
		Long: `Open an interactive terminal view of flagged expenses. Selected expenses
can be reset to pending for reprocessing after their data has been fixed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			return tui.Run(ctx, store, buildController(store))
		},
	}
}
