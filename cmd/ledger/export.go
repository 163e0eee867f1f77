package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appconfig "github.com/Veraticus/the-ledger-must-flow/internal/config"
	"github.com/Veraticus/the-ledger-must-flow/internal/sheets"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the review queue to Google Sheets",
		Long: `Publish the current flagged-expense queue to a Google Sheets spreadsheet
for review outside the terminal.`,
		RunE: runExport,
	}

	cmd.Flags().Bool("authorize", false, "Run the interactive OAuth2 flow and save a token")

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	authorize, _ := cmd.Flags().GetBool("authorize")
	ctx := cmd.Context()

	if authorize {
		tokenFile := appconfig.ExpandPath(viper.GetString("sheets.token_file"))
		if tokenFile == "" {
			tokenFile = appconfig.ExpandPath("$HOME/.config/ledger/sheets-token.json")
		}

		_, err := sheets.GetOrCreateToken(ctx, sheets.OAuth2Config{
			ClientID:     viper.GetString("sheets.client_id"),
			ClientSecret: viper.GetString("sheets.client_secret"),
			TokenFile:    tokenFile,
		})
		if err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}
		slog.Info("Authorization complete", "token_file", tokenFile)
		return nil
	}

	sheetsConfig, err := appconfig.LoadSheetsConfig()
	if err != nil {
		return err
	}

	writer, err := sheets.NewWriter(ctx, *sheetsConfig, slog.Default().With("component", "sheets"))
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	expenses, err := store.GetFlaggedExpenses(ctx)
	if err != nil {
		return err
	}

	if err := writer.Export(ctx, expenses); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	slog.Info("Export complete", "flagged", len(expenses))
	return nil
}
