package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
)

const expenseColumns = `id, external_id, date, amount_cents, merchant, category, tags,
	receipt_path, receipt_content_type, status, flag_reason, confidence,
	bank_transaction_id, attempts, created_at, updated_at, processed_at`

// CreateExpense inserts a new expense record in status pending.
func (s *SQLiteStorage) CreateExpense(ctx context.Context, expense *model.Expense) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateExpense(expense); err != nil {
		return err
	}

	tagsJSON, err := marshalTags(expense.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO expenses (
			id, external_id, date, amount_cents, merchant, category, tags,
			receipt_path, receipt_content_type, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		expense.ID,
		expense.ExternalID,
		expense.Date,
		expense.AmountCents,
		expense.Merchant,
		expense.Category,
		tagsJSON,
		expense.ReceiptPath,
		expense.ReceiptContentType,
		string(model.StatusPending),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: external ID %s", common.ErrDuplicateEntry, expense.ExternalID)
		}
		return fmt.Errorf("failed to insert expense: %w", err)
	}

	return nil
}

// RefreshPendingExpense updates the core fields of an expense, but only while
// it is still pending. Records that have advanced past pending are left
// untouched; the intake normalizer relies on this guard for idempotent
// redelivery.
func (s *SQLiteStorage) RefreshPendingExpense(ctx context.Context, expense *model.Expense) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateExpense(expense); err != nil {
		return err
	}

	tagsJSON, err := marshalTags(expense.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE expenses
		SET date = ?, amount_cents = ?, merchant = ?, category = ?, tags = ?,
		    receipt_path = ?, receipt_content_type = ?, updated_at = CURRENT_TIMESTAMP
		WHERE external_id = ? AND status = ?`,
		expense.Date,
		expense.AmountCents,
		expense.Merchant,
		expense.Category,
		tagsJSON,
		expense.ReceiptPath,
		expense.ReceiptContentType,
		expense.ExternalID,
		string(model.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to refresh expense %s: %w", expense.ExternalID, err)
	}

	return nil
}

// GetExpense retrieves an expense by its internal ID.
func (s *SQLiteStorage) GetExpense(ctx context.Context, id string) (*model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	return scanExpense(row)
}

// GetExpenseByExternalID retrieves an expense by its external source ID.
func (s *SQLiteStorage) GetExpenseByExternalID(ctx context.Context, externalID string) (*model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE external_id = ?`, externalID)
	return scanExpense(row)
}

// TransitionStatus performs a compare-and-set on the status column and
// records the transition for auditing. A false return means the expense was
// not in the expected from status; concurrent invocations use this to detect
// that another invocation won the race.
func (s *SQLiteStorage) TransitionStatus(ctx context.Context, id string, from, to model.ExpenseStatus) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}
	if !from.Valid() || !to.Valid() {
		return false, fmt.Errorf("%w: %q to %q", common.ErrInvalidTransition, from, to)
	}

	moved, err := s.execAffected(ctx, `
		UPDATE expenses
		SET status = ?, attempts = attempts + (CASE WHEN ? = 'processing' THEN 1 ELSE 0 END),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		string(to), string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition expense %s: %w", id, err)
	}
	if moved {
		s.recordTransition(ctx, id, from, to, "")
	}
	return moved, nil
}

// FinalizePosted moves processing→posted and records the bank link and score.
func (s *SQLiteStorage) FinalizePosted(ctx context.Context, id, bankTransactionID string, score int) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}
	if err := validateString(bankTransactionID, "bankTransactionID"); err != nil {
		return false, err
	}

	moved, err := s.execAffected(ctx, `
		UPDATE expenses
		SET status = ?, bank_transaction_id = ?, confidence = ?,
		    flag_reason = '', processed_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		string(model.StatusPosted), bankTransactionID, score, id, string(model.StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to post expense %s: %w", id, err)
	}
	if moved {
		s.recordTransition(ctx, id, model.StatusProcessing, model.StatusPosted, "")
	}
	return moved, nil
}

// FinalizeFlagged moves processing→flagged with the given score and reason.
func (s *SQLiteStorage) FinalizeFlagged(ctx context.Context, id string, score int, reason string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	moved, err := s.execAffected(ctx, `
		UPDATE expenses
		SET status = ?, confidence = ?, flag_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		string(model.StatusFlagged), score, reason, id, string(model.StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to flag expense %s: %w", id, err)
	}
	if moved {
		s.recordTransition(ctx, id, model.StatusProcessing, model.StatusFlagged, reason)
	}
	return moved, nil
}

// ResetExpense moves flagged→pending and clears stale match and score data so
// reprocessing starts fresh. Any bank transaction claimed by the expense is
// released in the same transaction.
func (s *SQLiteStorage) ResetExpense(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE expenses
		SET status = ?, bank_transaction_id = '', confidence = NULL,
		    flag_reason = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		string(model.StatusPending), id, string(model.StatusFlagged))
	if err != nil {
		return false, fmt.Errorf("failed to reset expense %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bank_transactions SET matched_expense_id = ''
		WHERE matched_expense_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to release bank transaction for %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO expense_status_history (expense_id, from_status, to_status, note)
		VALUES (?, ?, ?, ?)`,
		id, string(model.StatusFlagged), string(model.StatusPending), "human reset"); err != nil {
		return false, fmt.Errorf("failed to record reset for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit reset: %w", err)
	}
	return true, nil
}

// AttachReceipt records where a receipt binary was stored for an expense.
func (s *SQLiteStorage) AttachReceipt(ctx context.Context, id, path, contentType string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if err := validateString(path, "path"); err != nil {
		return err
	}

	attached, err := s.execAffected(ctx, `
		UPDATE expenses
		SET receipt_path = ?, receipt_content_type = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		path, contentType, id)
	if err != nil {
		return fmt.Errorf("failed to attach receipt to expense %s: %w", id, err)
	}
	if !attached {
		return fmt.Errorf("%w: expense %s", common.ErrNotFound, id)
	}
	return nil
}

// GetFlaggedExpenses returns the human-review queue, newest first.
func (s *SQLiteStorage) GetFlaggedExpenses(ctx context.Context) ([]model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses
		 WHERE status = ? ORDER BY created_at DESC, id DESC`,
		string(model.StatusFlagged))
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged expenses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectExpenses(rows)
}

// RecoverStuckExpenses reverts expenses stuck in processing since before
// olderThan back to pending so redelivery can retry them. Expenses that have
// already burned maxAttempts are flagged for review instead.
func (s *SQLiteStorage) RecoverStuckExpenses(ctx context.Context, olderThan time.Time, maxAttempts int) (service.RecoveryStats, error) {
	var stats service.RecoveryStats
	if err := validateContext(ctx); err != nil {
		return stats, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attempts FROM expenses
		WHERE status = ? AND updated_at < ?`,
		string(model.StatusProcessing), olderThan)
	if err != nil {
		return stats, fmt.Errorf("failed to query stuck expenses: %w", err)
	}

	type stuck struct {
		id       string
		attempts int
	}
	var stuckExpenses []stuck
	for rows.Next() {
		var st stuck
		if err := rows.Scan(&st.id, &st.attempts); err != nil {
			_ = rows.Close()
			return stats, fmt.Errorf("failed to scan stuck expense: %w", err)
		}
		stuckExpenses = append(stuckExpenses, st)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return stats, fmt.Errorf("failed to iterate stuck expenses: %w", err)
	}
	_ = rows.Close()

	for _, st := range stuckExpenses {
		if st.attempts < maxAttempts {
			moved, terr := s.execAffected(ctx, `
				UPDATE expenses SET status = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND status = ?`,
				string(model.StatusPending), st.id, string(model.StatusProcessing))
			if terr != nil {
				return stats, fmt.Errorf("failed to recover expense %s: %w", st.id, terr)
			}
			if moved {
				s.recordTransition(ctx, st.id, model.StatusProcessing, model.StatusPending,
					fmt.Sprintf("recovered from stuck state (attempt %d)", st.attempts))
				stats.Recovered++
			}
			continue
		}

		reason := fmt.Sprintf("max retry attempts (%d) exceeded", maxAttempts)
		moved, terr := s.FinalizeFlagged(ctx, st.id, 0, reason)
		if terr != nil {
			return stats, terr
		}
		if moved {
			stats.Flagged++
		}
	}

	return stats, nil
}

func (s *SQLiteStorage) recordTransition(ctx context.Context, id string, from, to model.ExpenseStatus, note string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expense_status_history (expense_id, from_status, to_status, note)
		VALUES (?, ?, ?, ?)`,
		id, string(from), string(to), note)
	if err != nil {
		// Audit history is best effort; the status row itself is authoritative.
		common.LogError(err, "failed to record status transition", common.Fields{
			"expense_id": id,
			"to_status":  string(to),
		})
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*model.Expense, error) {
	var (
		exp         model.Expense
		tagsJSON    sql.NullString
		status      string
		flagReason  sql.NullString
		confidence  sql.NullInt64
		bankTxnID   sql.NullString
		merchant    sql.NullString
		category    sql.NullString
		receiptPath sql.NullString
		receiptType sql.NullString
		processedAt sql.NullTime
	)

	err := row.Scan(
		&exp.ID,
		&exp.ExternalID,
		&exp.Date,
		&exp.AmountCents,
		&merchant,
		&category,
		&tagsJSON,
		&receiptPath,
		&receiptType,
		&status,
		&flagReason,
		&confidence,
		&bankTxnID,
		&exp.Attempts,
		&exp.CreatedAt,
		&exp.UpdatedAt,
		&processedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan expense: %w", err)
	}

	exp.Merchant = merchant.String
	exp.Category = category.String
	exp.ReceiptPath = receiptPath.String
	exp.ReceiptContentType = receiptType.String
	exp.Status = model.ExpenseStatus(status)
	exp.FlagReason = flagReason.String
	exp.BankTransactionID = bankTxnID.String
	if confidence.Valid {
		score := int(confidence.Int64)
		exp.Confidence = &score
	}
	if processedAt.Valid {
		t := processedAt.Time
		exp.ProcessedAt = &t
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &exp.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for %s: %w", exp.ID, err)
		}
	}

	return &exp, nil
}

func collectExpenses(rows *sql.Rows) ([]model.Expense, error) {
	var expenses []model.Expense
	for rows.Next() {
		exp, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}
	return expenses, nil
}

func marshalTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(data), nil
}
