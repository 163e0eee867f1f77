package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
	"github.com/Veraticus/the-ledger-must-flow/internal/gateway"
	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/testutil"
)

func TestBankTransactionsInWindow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	g := gateway.New(db.Storage)

	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	db.SeedBankTransaction(model.BankTransaction{
		Date:        date,
		AmountCents: 4250,
		Description: "OFFICE DEPOT",
	})

	transactions, err := g.BankTransactionsInWindow(context.Background(),
		date.AddDate(0, 0, -3), date.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Len(t, transactions, 1)
}

func TestCategoryMappingUnknownIsNotAnError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	g := gateway.New(db.Storage)

	mapping, err := g.CategoryMapping(context.Background(), "Never Heard Of It")
	require.NoError(t, err)
	assert.False(t, mapping.Resolved)
	assert.Equal(t, "Never Heard Of It", mapping.Name)
}

func TestReceiptValidationAbsenceIsNil(t *testing.T) {
	db := testutil.SetupTestDB(t)
	g := gateway.New(db.Storage)

	validation, err := g.ReceiptValidation(context.Background(), "exp-unvalidated")
	require.NoError(t, err)
	assert.Nil(t, validation)

	db.SeedReceiptValidation(model.ReceiptValidation{ExpenseID: "exp-1", Confidence: 90})
	validation, err = g.ReceiptValidation(context.Background(), "exp-1")
	require.NoError(t, err)
	require.NotNil(t, validation)
	assert.Equal(t, 90, validation.Confidence)
}

func TestStorageFailuresClassifiedTransient(t *testing.T) {
	db := testutil.SetupTestDB(t)
	g := gateway.New(db.Storage)
	ctx := context.Background()

	// A closed database stands in for an unreachable reference data source.
	require.NoError(t, db.Storage.Close())

	_, err := g.BankTransactionsInWindow(ctx, time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, common.ErrTransientGateway)

	_, err = g.CategoryMapping(ctx, "Office Supplies")
	assert.ErrorIs(t, err, common.ErrTransientGateway)

	_, err = g.ReceiptValidation(ctx, "exp-1")
	assert.ErrorIs(t, err, common.ErrTransientGateway)
}
