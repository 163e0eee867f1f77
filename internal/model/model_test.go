package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpenseStatusValid(t *testing.T) {
	for _, status := range []ExpenseStatus{StatusPending, StatusProcessing, StatusPosted, StatusFlagged} {
		assert.True(t, status.Valid(), "%s", status)
	}
	assert.False(t, ExpenseStatus("archived").Valid())
	assert.False(t, ExpenseStatus("").Valid())
}

func TestExpenseStatusTerminal(t *testing.T) {
	assert.True(t, StatusPosted.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusFlagged.Terminal(), "flagged still allows a human reset")
}

func TestHasEventRef(t *testing.T) {
	tests := []struct {
		name     string
		tags     []string
		expected bool
	}{
		{"no tags", nil, false},
		{"unrelated tags", []string{"reimbursable", "travel"}, false},
		{"event tag", []string{"event:offsite-q3"}, true},
		{"event tag uppercase", []string{"EVENT:offsite-q3"}, true},
		{"event tag among others", []string{"travel", "event:summit"}, true},
		{"prefix must anchor", []string{"non-event:thing"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Expense{Tags: tt.tags}
			assert.Equal(t, tt.expected, e.HasEventRef())
		})
	}
}

func TestHasBankMatch(t *testing.T) {
	e := Expense{}
	assert.False(t, e.HasBankMatch())
	e.BankTransactionID = "txn-1"
	assert.True(t, e.HasBankMatch())
}

func TestGenerateHash(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	base := BankTransaction{
		Date:        date,
		AmountCents: 4250,
		Description: "OFFICE DEPOT",
		Source:      "ofx:1234",
	}

	same := base
	same.ID = "different-provider-id"
	assert.Equal(t, base.GenerateHash(), same.GenerateHash(),
		"provider IDs must not affect the content hash")

	differentAmount := base
	differentAmount.AmountCents = 4251
	assert.NotEqual(t, base.GenerateHash(), differentAmount.GenerateHash())

	differentDay := base
	differentDay.Date = date.AddDate(0, 0, 1)
	assert.NotEqual(t, base.GenerateHash(), differentDay.GenerateHash())

	sameDayLaterTime := base
	sameDayLaterTime.Date = date.Add(5 * time.Hour)
	assert.Equal(t, base.GenerateHash(), sameDayLaterTime.GenerateHash(),
		"time of day is not part of the hash")
}

func TestLinked(t *testing.T) {
	txn := BankTransaction{}
	assert.False(t, txn.Linked())
	txn.MatchedExpenseID = "exp-1"
	assert.True(t, txn.Linked())
}
