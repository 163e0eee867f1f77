package main

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
	"github.com/Veraticus/the-ledger-must-flow/internal/config"
	"github.com/Veraticus/the-ledger-must-flow/internal/dispatch"
	"github.com/Veraticus/the-ledger-must-flow/internal/gateway"
	"github.com/Veraticus/the-ledger-must-flow/internal/lifecycle"
	"github.com/Veraticus/the-ledger-must-flow/internal/matcher"
	"github.com/Veraticus/the-ledger-must-flow/internal/receipts"
	"github.com/Veraticus/the-ledger-must-flow/internal/scorer"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
	"github.com/Veraticus/the-ledger-must-flow/internal/storage"
)

// defaultAmountTolerance is the matching tolerance in dollars when the config
// does not set one.
const defaultAmountTolerance = 0.50

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/ledger/ledger.db"
	}

	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// buildMatcher constructs the bank matcher from config.
func buildMatcher() *matcher.Matcher {
	tolerance := viper.GetFloat64("matcher.amount_tolerance")
	if tolerance <= 0 {
		tolerance = defaultAmountTolerance
	}

	windowDays := viper.GetInt("matcher.date_window_days")
	if windowDays <= 0 {
		windowDays = matcher.DefaultDateWindowDays
	}

	return matcher.New(matcher.Config{
		AmountToleranceCents: int64(math.Round(tolerance * 100)),
		DateWindowDays:       windowDays,
	})
}

// buildController wires the lifecycle controller over storage.
func buildController(store service.Storage) *lifecycle.Controller {
	threshold := viper.GetInt("lifecycle.auto_post_threshold")
	if threshold <= 0 {
		threshold = scorer.DefaultThreshold
	}

	return lifecycle.New(store, gateway.New(store), buildMatcher(), lifecycle.Config{
		AutoPostThreshold: threshold,
	})
}

// buildDispatcher wires the dispatcher over a lifecycle controller.
func buildDispatcher(controller *lifecycle.Controller) *dispatch.Dispatcher {
	perMinute := viper.GetInt("dispatch.invocations_per_minute")
	if perMinute <= 0 {
		perMinute = 60
	}

	return dispatch.New(controller, dispatch.Config{
		InvocationsPerMinute: perMinute,
	})
}

// buildReceiptStore constructs the configured receipt store backend.
func buildReceiptStore(ctx context.Context) (service.ReceiptStore, error) {
	backend := viper.GetString("receipts.backend")
	if backend == "" {
		backend = "fs"
	}

	switch backend {
	case "fs":
		root := viper.GetString("receipts.path")
		if root == "" {
			root = "$HOME/.local/share/ledger/receipts"
		}
		return receipts.NewFSStore(config.ExpandPath(root))
	case "gcs":
		bucket := viper.GetString("receipts.bucket")
		if bucket == "" {
			return nil, fmt.Errorf("%w: receipts.bucket is required for the gcs backend", common.ErrMissingConfig)
		}
		prefix := viper.GetString("receipts.prefix")
		return receipts.NewGCSStore(ctx, bucket, prefix)
	default:
		return nil, fmt.Errorf("unknown receipt store backend: %s", backend)
	}
}
