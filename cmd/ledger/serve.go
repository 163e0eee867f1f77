package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-ledger-must-flow/internal/intake"
	"github.com/Veraticus/the-ledger-must-flow/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and review HTTP server",
		Long: `Start the HTTP server that receives expense-report webhooks, serves the
review queue, and accepts human reset actions.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (default :8080)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	receiptStore, err := buildReceiptStore(ctx)
	if err != nil {
		return err
	}

	controller := buildController(store)
	dispatcher := buildDispatcher(controller)
	defer dispatcher.Close()

	addr := viper.GetString("server.addr")
	if addr == "" {
		addr = ":8080"
	}

	srv := server.New(
		server.Config{
			Addr:           addr,
			AllowedOrigins: viper.GetStringSlice("server.allowed_origins"),
		},
		store,
		receiptStore,
		intake.New(store),
		dispatcher,
		controller,
	)

	return srv.Run()
}
