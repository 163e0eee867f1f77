package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/the-ledger-must-flow/internal/model"
)

// ErrInvalidInput indicates a caller passed invalid arguments to storage.
type ErrInvalidInput struct {
	Field  string
	Reason string
}

func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return &ErrInvalidInput{Field: "ctx", Reason: "cannot be nil"}
	}
	return nil
}

func validateString(value, field string) error {
	if value == "" {
		return &ErrInvalidInput{Field: field, Reason: "cannot be empty"}
	}
	return nil
}

func validateExpense(expense *model.Expense) error {
	if expense == nil {
		return &ErrInvalidInput{Field: "expense", Reason: "cannot be nil"}
	}
	if expense.ID == "" {
		return &ErrInvalidInput{Field: "expense.ID", Reason: "cannot be empty"}
	}
	if expense.ExternalID == "" {
		return &ErrInvalidInput{Field: "expense.ExternalID", Reason: "cannot be empty"}
	}
	if expense.AmountCents < 0 {
		return &ErrInvalidInput{Field: "expense.AmountCents", Reason: "cannot be negative"}
	}
	if !expense.Status.Valid() {
		return &ErrInvalidInput{Field: "expense.Status", Reason: fmt.Sprintf("unknown status %q", expense.Status)}
	}
	return nil
}
