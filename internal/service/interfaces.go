// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-ledger-must-flow/internal/model"
)

// RetryOptions configures retry behavior for operations against external
// systems.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// RecoveryStats summarizes a stuck-expense recovery sweep.
type RecoveryStats struct {
	Recovered int
	Flagged   int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Expense operations.
	CreateExpense(ctx context.Context, expense *model.Expense) error
	RefreshPendingExpense(ctx context.Context, expense *model.Expense) error
	GetExpense(ctx context.Context, id string) (*model.Expense, error)
	GetExpenseByExternalID(ctx context.Context, externalID string) (*model.Expense, error)

	// TransitionStatus performs a compare-and-set on the status column.
	// It returns false (without error) when the expense was not in the
	// expected from status; the caller treats that as a benign no-op.
	TransitionStatus(ctx context.Context, id string, from, to model.ExpenseStatus) (bool, error)

	// FinalizePosted moves processing→posted and records the link and score.
	FinalizePosted(ctx context.Context, id, bankTransactionID string, score int) (bool, error)
	// FinalizeFlagged moves processing→flagged and records the score and reason.
	FinalizeFlagged(ctx context.Context, id string, score int, reason string) (bool, error)
	// ResetExpense moves flagged→pending, clearing stale match and score data.
	// This is only ever triggered by an explicit human action.
	ResetExpense(ctx context.Context, id string) (bool, error)

	// AttachReceipt records the stored location of a receipt binary.
	AttachReceipt(ctx context.Context, id, path, contentType string) error

	GetFlaggedExpenses(ctx context.Context) ([]model.Expense, error)
	RecoverStuckExpenses(ctx context.Context, olderThan time.Time, maxAttempts int) (RecoveryStats, error)

	// Bank transaction operations.
	SaveBankTransactions(ctx context.Context, transactions []model.BankTransaction) error
	GetBankTransactionsInWindow(ctx context.Context, from, to time.Time) ([]model.BankTransaction, error)
	GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error)
	// ClaimBankTransaction links a bank transaction to an expense if and only
	// if it is unclaimed or already claimed by that same expense.
	ClaimBankTransaction(ctx context.Context, id, expenseID string) (bool, error)
	ReleaseBankTransaction(ctx context.Context, id, expenseID string) error

	// Reference data operations.
	SaveReceiptValidation(ctx context.Context, validation *model.ReceiptValidation) error
	GetReceiptValidation(ctx context.Context, expenseID string) (*model.ReceiptValidation, error)
	SaveCategoryMapping(ctx context.Context, mapping *model.CategoryMapping) error
	GetCategoryMapping(ctx context.Context, name string) (*model.CategoryMapping, error)

	// Database management.
	Migrate(ctx context.Context) error
	Close() error
}

// ReferenceData supplies bank transactions, category mappings, and receipt
// validation results to the pipeline. Implementations must surface transient
// unreachability as common.ErrTransientGateway so the lifecycle controller
// can revert to pending instead of flagging.
type ReferenceData interface {
	BankTransactionsInWindow(ctx context.Context, from, to time.Time) ([]model.BankTransaction, error)
	CategoryMapping(ctx context.Context, name string) (model.CategoryMapping, error)
	// ReceiptValidation returns nil (no error) when no validation record
	// exists for the expense; absence is an expected outcome.
	ReceiptValidation(ctx context.Context, expenseID string) (*model.ReceiptValidation, error)
}

// ReceiptStore persists receipt binaries. The pipeline itself never reads
// them back; it only records the returned path.
type ReceiptStore interface {
	Store(ctx context.Context, data []byte, contentType string) (string, error)
}

// BankFeed fetches bank transactions from an external provider for a window.
type BankFeed interface {
	GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.BankTransaction, error)
}

// ReviewExporter publishes the flagged-expense queue for human review.
type ReviewExporter interface {
	Export(ctx context.Context, expenses []model.Expense) error
}
