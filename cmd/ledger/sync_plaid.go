package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-ledger-must-flow/internal/plaid"
)

func syncPlaidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-plaid",
		Short: "Sync bank transactions from Plaid",
		Long: `Fetch recent bank transactions from Plaid and store them locally as
matching candidates. Duplicates are skipped by content hash.`,
		RunE: runSyncPlaid,
	}

	cmd.Flags().Int("days", 30, "How many days back to fetch")

	return cmd
}

func runSyncPlaid(cmd *cobra.Command, _ []string) error {
	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		return fmt.Errorf("days must be positive")
	}
	ctx := cmd.Context()

	client, err := plaid.NewClient(plaid.Config{
		ClientID:    viper.GetString("plaid.client_id"),
		Secret:      viper.GetString("plaid.secret"),
		Environment: viper.GetString("plaid.environment"),
		AccessToken: viper.GetString("plaid.access_token"),
	})
	if err != nil {
		return err
	}

	endDate := time.Now()
	startDate := endDate.AddDate(0, 0, -days)

	transactions, err := client.GetTransactions(ctx, startDate, endDate)
	if err != nil {
		return fmt.Errorf("failed to fetch transactions: %w", err)
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveBankTransactions(ctx, transactions); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}

	slog.Info("Plaid sync complete",
		"transactions", len(transactions),
		"start_date", startDate.Format("2006-01-02"),
		"end_date", endDate.Format("2006-01-02"))

	return nil
}
