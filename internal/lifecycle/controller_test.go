package lifecycle_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
	"github.com/Veraticus/the-ledger-must-flow/internal/gateway"
	"github.com/Veraticus/the-ledger-must-flow/internal/lifecycle"
	"github.com/Veraticus/the-ledger-must-flow/internal/matcher"
	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
	"github.com/Veraticus/the-ledger-must-flow/internal/testutil"
)

var testDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newController(db *testutil.TestDB) *lifecycle.Controller {
	return lifecycle.New(
		db.Storage,
		gateway.New(db.Storage),
		matcher.New(matcher.Config{AmountToleranceCents: 50, DateWindowDays: 3}),
		lifecycle.Config{AutoPostThreshold: 95},
	)
}

// seedCleanExpense sets up an expense with everything auto-posting requires:
// a resolved category, a passing receipt validation, and a matching bank
// transaction within tolerance.
func seedCleanExpense(t *testing.T, db *testutil.TestDB) (model.Expense, model.BankTransaction) {
	t.Helper()

	db.SeedCategoryMapping(model.CategoryMapping{
		Name:        "Office Supplies",
		AccountCode: "6100",
	})
	expense := db.SeedExpense(model.Expense{
		Merchant:    "Office Depot",
		Category:    "Office Supplies",
		Date:        testDate,
		AmountCents: 4250,
		Status:      model.StatusPending,
	})
	db.SeedReceiptValidation(model.ReceiptValidation{
		ExpenseID:     expense.ID,
		Merchant:      "Office Depot",
		AmountCents:   4250,
		Confidence:    95,
		AmountsMatch:  true,
		MerchantMatch: true,
	})
	txn := db.SeedBankTransaction(model.BankTransaction{
		Date:        testDate,
		AmountCents: 4250,
		Description: "OFFICE DEPOT",
	})
	return expense, txn
}

func TestProcessPostsCleanExpense(t *testing.T) {
	db := testutil.SetupTestDB(t)
	expense, txn := seedCleanExpense(t, db)
	controller := newController(db)
	ctx := context.Background()

	outcome, err := controller.Process(ctx, expense.ID)
	require.NoError(t, err)

	assert.Equal(t, lifecycle.DecisionPosted, outcome.Decision)
	assert.Equal(t, model.StatusPosted, outcome.Status)
	assert.Equal(t, 100, outcome.Score)
	assert.Empty(t, outcome.Reasons)

	stored := db.MustGetExpense(expense.ID)
	assert.Equal(t, model.StatusPosted, stored.Status)
	assert.Equal(t, txn.ID, stored.BankTransactionID)
	require.NotNil(t, stored.Confidence)
	assert.Equal(t, 100, *stored.Confidence)
	require.NotNil(t, stored.ProcessedAt)

	claimed, err := db.Storage.GetBankTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, expense.ID, claimed.MatchedExpenseID)
}

func TestProcessFlagsWithoutBankMatch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedCategoryMapping(model.CategoryMapping{Name: "Office Supplies", AccountCode: "6100"})
	expense := db.SeedExpense(model.Expense{
		Merchant:    "Office Depot",
		Category:    "Office Supplies",
		Date:        testDate,
		AmountCents: 4250,
		Status:      model.StatusPending,
	})
	db.SeedReceiptValidation(model.ReceiptValidation{
		ExpenseID:  expense.ID,
		Confidence: 95,
	})
	controller := newController(db)

	outcome, err := controller.Process(context.Background(), expense.ID)
	require.NoError(t, err)

	assert.Equal(t, lifecycle.DecisionFlagged, outcome.Decision)
	assert.Equal(t, model.StatusFlagged, outcome.Status)
	assert.Equal(t, 60, outcome.Score)
	require.Len(t, outcome.Reasons, 1)
	assert.Contains(t, outcome.Reasons[0], "no bank transaction match")

	stored := db.MustGetExpense(expense.ID)
	assert.Equal(t, model.StatusFlagged, stored.Status)
	assert.Contains(t, stored.FlagReason, "no bank transaction match")
}

func TestProcessFlagsUnresolvedCategory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	expense := db.SeedExpense(model.Expense{
		Merchant:    "Mystery Vendor",
		Category:    "Consulting Gadgets",
		Date:        testDate,
		AmountCents: 4250,
		Status:      model.StatusPending,
	})
	db.SeedReceiptValidation(model.ReceiptValidation{ExpenseID: expense.ID, Confidence: 95})
	db.SeedBankTransaction(model.BankTransaction{
		Date:        testDate,
		AmountCents: 4250,
		Description: "MYSTERY VENDOR",
	})
	controller := newController(db)

	outcome, err := controller.Process(context.Background(), expense.ID)
	require.NoError(t, err)

	// An unresolved category can never auto-post regardless of score.
	assert.Equal(t, lifecycle.DecisionFlagged, outcome.Decision)
	assert.Equal(t, 85, outcome.Score)
}

func TestProcessNoOpOutsidePending(t *testing.T) {
	tests := []struct {
		name    string
		advance func(t *testing.T, db *testutil.TestDB, id string)
		status  model.ExpenseStatus
	}{
		{
			name: "processing",
			advance: func(t *testing.T, db *testutil.TestDB, id string) {
				ok, err := db.Storage.TransitionStatus(context.Background(), id, model.StatusPending, model.StatusProcessing)
				require.NoError(t, err)
				require.True(t, ok)
			},
			status: model.StatusProcessing,
		},
		{
			name: "posted",
			advance: func(t *testing.T, db *testutil.TestDB, id string) {
				ctx := context.Background()
				_, err := db.Storage.TransitionStatus(ctx, id, model.StatusPending, model.StatusProcessing)
				require.NoError(t, err)
				_, err = db.Storage.FinalizePosted(ctx, id, "txn-posted", 100)
				require.NoError(t, err)
			},
			status: model.StatusPosted,
		},
		{
			name: "flagged",
			advance: func(t *testing.T, db *testutil.TestDB, id string) {
				ctx := context.Background()
				_, err := db.Storage.TransitionStatus(ctx, id, model.StatusPending, model.StatusProcessing)
				require.NoError(t, err)
				_, err = db.Storage.FinalizeFlagged(ctx, id, 60, "no bank transaction match (-40)")
				require.NoError(t, err)
			},
			status: model.StatusFlagged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.SetupTestDB(t)
			expense, _ := seedCleanExpense(t, db)
			tt.advance(t, db, expense.ID)
			controller := newController(db)

			outcome, err := controller.Process(context.Background(), expense.ID)
			require.NoError(t, err)
			assert.Equal(t, lifecycle.DecisionNoOp, outcome.Decision)
			assert.Equal(t, tt.status, outcome.Status)

			stored := db.MustGetExpense(expense.ID)
			assert.Equal(t, tt.status, stored.Status)
		})
	}
}

// failingRefData simulates an unreachable reference data source.
type failingRefData struct{}

func (failingRefData) BankTransactionsInWindow(context.Context, time.Time, time.Time) ([]model.BankTransaction, error) {
	return nil, fmt.Errorf("%w: bank transactions: connection refused", common.ErrTransientGateway)
}

func (failingRefData) CategoryMapping(_ context.Context, name string) (model.CategoryMapping, error) {
	return model.CategoryMapping{Name: name}, fmt.Errorf("%w: category mapping: connection refused", common.ErrTransientGateway)
}

func (failingRefData) ReceiptValidation(context.Context, string) (*model.ReceiptValidation, error) {
	return nil, fmt.Errorf("%w: receipt validation: connection refused", common.ErrTransientGateway)
}

var _ service.ReferenceData = failingRefData{}

func TestProcessDefersOnTransientGatewayFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	expense, _ := seedCleanExpense(t, db)
	controller := lifecycle.New(
		db.Storage,
		failingRefData{},
		matcher.New(matcher.Config{AmountToleranceCents: 50, DateWindowDays: 3}),
		lifecycle.Config{},
	)

	outcome, err := controller.Process(context.Background(), expense.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTransientGateway)
	assert.Equal(t, lifecycle.DecisionDeferred, outcome.Decision)
	assert.Equal(t, model.StatusPending, outcome.Status)

	// The expense must be back in the pending pool, never flagged.
	stored := db.MustGetExpense(expense.ID)
	assert.Equal(t, model.StatusPending, stored.Status)
}

// rateLimitedRefData simulates a reference data source answering with a
// retryable throttle error.
type rateLimitedRefData struct{}

func (rateLimitedRefData) BankTransactionsInWindow(context.Context, time.Time, time.Time) ([]model.BankTransaction, error) {
	return nil, &common.RetryableError{Err: fmt.Errorf("bank transactions: throttled"), Retryable: true}
}

func (rateLimitedRefData) CategoryMapping(_ context.Context, name string) (model.CategoryMapping, error) {
	return model.CategoryMapping{Name: name}, &common.RetryableError{Err: fmt.Errorf("category mapping: throttled"), Retryable: true}
}

func (rateLimitedRefData) ReceiptValidation(context.Context, string) (*model.ReceiptValidation, error) {
	return nil, &common.RetryableError{Err: fmt.Errorf("receipt validation: throttled"), Retryable: true}
}

var _ service.ReferenceData = rateLimitedRefData{}

func TestProcessDefersOnRetryableFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	expense, _ := seedCleanExpense(t, db)
	controller := lifecycle.New(
		db.Storage,
		rateLimitedRefData{},
		matcher.New(matcher.Config{AmountToleranceCents: 50, DateWindowDays: 3}),
		lifecycle.Config{},
	)

	outcome, err := controller.Process(context.Background(), expense.ID)
	require.Error(t, err)
	assert.True(t, common.IsRetryable(err))
	assert.Equal(t, lifecycle.DecisionDeferred, outcome.Decision)

	stored := db.MustGetExpense(expense.ID)
	assert.Equal(t, model.StatusPending, stored.Status)
}

func TestProcessRevalidatesLinkAtCommit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	expense, txn := seedCleanExpense(t, db)
	ctx := context.Background()

	// Another expense claims the candidate before this dispatch commits.
	other := db.SeedExpense(model.Expense{
		Merchant:    "Office Depot",
		Category:    "Office Supplies",
		Date:        testDate,
		AmountCents: 4250,
		Status:      model.StatusPending,
	})
	claimed, err := db.Storage.ClaimBankTransaction(ctx, txn.ID, other.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	controller := newController(db)
	outcome, err := controller.Process(ctx, expense.ID)
	require.NoError(t, err)

	// The advisory link failed commit-time validation, so the expense is
	// re-scored as unmatched and routed to review.
	assert.Equal(t, lifecycle.DecisionFlagged, outcome.Decision)
	assert.Equal(t, 60, outcome.Score)
	require.NotEmpty(t, outcome.Reasons)
	assert.Contains(t, outcome.Reasons[0], "no bank transaction match")

	// The other expense keeps its claim.
	current, err := db.Storage.GetBankTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, current.MatchedExpenseID)
}

func TestProcessConcurrentDispatchesPostOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	expense, _ := seedCleanExpense(t, db)
	controller := newController(db)
	ctx := context.Background()

	first, err := controller.Process(ctx, expense.ID)
	require.NoError(t, err)
	second, err := controller.Process(ctx, expense.ID)
	require.NoError(t, err)

	assert.Equal(t, lifecycle.DecisionPosted, first.Decision)
	assert.Equal(t, lifecycle.DecisionNoOp, second.Decision)
	assert.Equal(t, model.StatusPosted, second.Status)
	assert.Equal(t, 100, second.Score)
}

func TestResetFlaggedExpense(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.SeedCategoryMapping(model.CategoryMapping{Name: "Office Supplies", AccountCode: "6100"})
	expense := db.SeedExpense(model.Expense{
		Merchant:    "Office Depot",
		Category:    "Office Supplies",
		Date:        testDate,
		AmountCents: 4250,
		Status:      model.StatusPending,
	})
	controller := newController(db)
	ctx := context.Background()

	outcome, err := controller.Process(ctx, expense.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.DecisionFlagged, outcome.Decision)

	reset, err := controller.Reset(ctx, expense.ID)
	require.NoError(t, err)
	assert.True(t, reset)

	stored := db.MustGetExpense(expense.ID)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Empty(t, stored.FlagReason)
	assert.Empty(t, stored.BankTransactionID)
	assert.Nil(t, stored.Confidence)

	// After fixing the data, reprocessing can succeed.
	db.SeedReceiptValidation(model.ReceiptValidation{ExpenseID: expense.ID, Confidence: 95})
	db.SeedBankTransaction(model.BankTransaction{
		Date:        testDate,
		AmountCents: 4250,
		Description: "OFFICE DEPOT",
	})

	outcome, err = controller.Process(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.DecisionPosted, outcome.Decision)
}

func TestResetRefusesNonFlagged(t *testing.T) {
	db := testutil.SetupTestDB(t)
	expense, _ := seedCleanExpense(t, db)
	controller := newController(db)
	ctx := context.Background()

	reset, err := controller.Reset(ctx, expense.ID)
	require.NoError(t, err)
	assert.False(t, reset)

	outcome, err := controller.Process(ctx, expense.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.DecisionPosted, outcome.Decision)

	reset, err = controller.Reset(ctx, expense.ID)
	require.NoError(t, err)
	assert.False(t, reset, "posted is terminal")
}
