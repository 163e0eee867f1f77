package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
	"github.com/Veraticus/the-ledger-must-flow/internal/model"
)

// SaveReceiptValidation upserts the externally-computed validation record for
// an expense. Re-running the analysis replaces the previous result.
func (s *SQLiteStorage) SaveReceiptValidation(ctx context.Context, validation *model.ReceiptValidation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if validation == nil {
		return &ErrInvalidInput{Field: "validation", Reason: "cannot be nil"}
	}
	if err := validateString(validation.ExpenseID, "validation.ExpenseID"); err != nil {
		return err
	}

	issuesJSON := ""
	if len(validation.Issues) > 0 {
		data, err := json.Marshal(validation.Issues)
		if err != nil {
			return fmt.Errorf("failed to encode issues: %w", err)
		}
		issuesJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipt_validations (
			expense_id, merchant, amount_cents, amounts_match, merchant_match, confidence, issues
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(expense_id) DO UPDATE SET
			merchant = excluded.merchant,
			amount_cents = excluded.amount_cents,
			amounts_match = excluded.amounts_match,
			merchant_match = excluded.merchant_match,
			confidence = excluded.confidence,
			issues = excluded.issues`,
		validation.ExpenseID,
		validation.Merchant,
		validation.AmountCents,
		boolToInt(validation.AmountsMatch),
		boolToInt(validation.MerchantMatch),
		validation.Confidence,
		issuesJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save receipt validation for %s: %w", validation.ExpenseID, err)
	}
	return nil
}

// GetReceiptValidation returns the validation record for an expense, or
// common.ErrNotFound when the analysis never ran. Absence is an expected
// outcome, not a fault.
func (s *SQLiteStorage) GetReceiptValidation(ctx context.Context, expenseID string) (*model.ReceiptValidation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(expenseID, "expenseID"); err != nil {
		return nil, err
	}

	var (
		validation    model.ReceiptValidation
		merchant      sql.NullString
		issuesJSON    sql.NullString
		amountsMatch  int
		merchantMatch int
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT expense_id, merchant, amount_cents, amounts_match, merchant_match, confidence, issues
		FROM receipt_validations WHERE expense_id = ?`, expenseID).Scan(
		&validation.ExpenseID,
		&merchant,
		&validation.AmountCents,
		&amountsMatch,
		&merchantMatch,
		&validation.Confidence,
		&issuesJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt validation for %s: %w", expenseID, err)
	}

	validation.Merchant = merchant.String
	validation.AmountsMatch = amountsMatch != 0
	validation.MerchantMatch = merchantMatch != 0
	if issuesJSON.Valid && issuesJSON.String != "" {
		if err := json.Unmarshal([]byte(issuesJSON.String), &validation.Issues); err != nil {
			return nil, fmt.Errorf("failed to decode issues for %s: %w", expenseID, err)
		}
	}

	return &validation, nil
}

// SaveCategoryMapping upserts a category-to-account mapping.
func (s *SQLiteStorage) SaveCategoryMapping(ctx context.Context, mapping *model.CategoryMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if mapping == nil {
		return &ErrInvalidInput{Field: "mapping", Reason: "cannot be nil"}
	}
	if err := validateString(mapping.Name, "mapping.Name"); err != nil {
		return err
	}
	if err := validateString(mapping.AccountCode, "mapping.AccountCode"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO category_mappings (name, account_code, requires_event)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			account_code = excluded.account_code,
			requires_event = excluded.requires_event`,
		mapping.Name,
		mapping.AccountCode,
		boolToInt(mapping.RequiresEvent),
	)
	if err != nil {
		return fmt.Errorf("failed to save category mapping %q: %w", mapping.Name, err)
	}
	return nil
}

// GetCategoryMapping resolves a category label. An unknown label is not an
// error: the returned mapping has Resolved=false.
func (s *SQLiteStorage) GetCategoryMapping(ctx context.Context, name string) (*model.CategoryMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	mapping := model.CategoryMapping{Name: name}
	if name == "" {
		return &mapping, nil
	}

	var requiresEvent int
	err := s.db.QueryRowContext(ctx, `
		SELECT account_code, requires_event FROM category_mappings WHERE name = ?`, name).
		Scan(&mapping.AccountCode, &requiresEvent)
	if errors.Is(err, sql.ErrNoRows) {
		return &mapping, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category mapping %q: %w", name, err)
	}

	mapping.Resolved = true
	mapping.RequiresEvent = requiresEvent != 0
	return &mapping, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
