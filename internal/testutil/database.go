// Package testutil provides shared helpers for exercising the pipeline
// against a real in-memory database.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
	"github.com/Veraticus/the-ledger-must-flow/internal/storage"
)

// TestDB wraps an in-memory storage with seeding helpers.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database. It automatically runs
// migrations and registers cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// SeedExpense inserts a pending expense and returns it with its generated ID.
func (db *TestDB) SeedExpense(expense model.Expense) model.Expense {
	db.t.Helper()

	if expense.ID == "" {
		expense.ID = uuid.NewString()
	}
	if expense.ExternalID == "" {
		expense.ExternalID = "ext-" + expense.ID
	}
	if expense.Date.IsZero() {
		expense.Date = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	}

	if err := db.Storage.CreateExpense(context.Background(), &expense); err != nil {
		db.t.Fatalf("failed to seed expense %s: %v", expense.ExternalID, err)
	}
	return expense
}

// SeedBankTransaction inserts a bank transaction and returns it.
func (db *TestDB) SeedBankTransaction(txn model.BankTransaction) model.BankTransaction {
	db.t.Helper()

	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.Date.IsZero() {
		txn.Date = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	}
	if txn.Source == "" {
		txn.Source = "test"
	}
	if txn.Hash == "" {
		txn.Hash = txn.GenerateHash()
	}

	if err := db.Storage.SaveBankTransactions(context.Background(), []model.BankTransaction{txn}); err != nil {
		db.t.Fatalf("failed to seed bank transaction %s: %v", txn.ID, err)
	}
	return txn
}

// SeedCategoryMapping inserts a category mapping.
func (db *TestDB) SeedCategoryMapping(mapping model.CategoryMapping) model.CategoryMapping {
	db.t.Helper()

	mapping.Resolved = true
	if err := db.Storage.SaveCategoryMapping(context.Background(), &mapping); err != nil {
		db.t.Fatalf("failed to seed category mapping %q: %v", mapping.Name, err)
	}
	return mapping
}

// SeedReceiptValidation inserts a receipt validation record.
func (db *TestDB) SeedReceiptValidation(validation model.ReceiptValidation) model.ReceiptValidation {
	db.t.Helper()

	if err := db.Storage.SaveReceiptValidation(context.Background(), &validation); err != nil {
		db.t.Fatalf("failed to seed receipt validation for %s: %v", validation.ExpenseID, err)
	}
	return validation
}

// MustGetExpense fetches an expense or fails the test.
func (db *TestDB) MustGetExpense(id string) *model.Expense {
	db.t.Helper()

	expense, err := db.Storage.GetExpense(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to get expense %s: %v", id, err)
	}
	return expense
}
