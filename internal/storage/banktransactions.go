package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
	"github.com/Veraticus/the-ledger-must-flow/internal/model"
)

// SaveBankTransactions saves imported bank transactions, skipping duplicates
// by hash so repeated feed imports are idempotent.
func (s *SQLiteStorage) SaveBankTransactions(ctx context.Context, transactions []model.BankTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(transactions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO bank_transactions (
			id, hash, date, amount_cents, description, source, matched_expense_id
		) VALUES (?, ?, ?, ?, ?, ?, '')`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, txn := range transactions {
		if txn.Hash == "" {
			txn.Hash = txn.GenerateHash()
		}
		if _, err := stmt.ExecContext(ctx,
			txn.ID,
			txn.Hash,
			txn.Date,
			txn.AmountCents,
			txn.Description,
			txn.Source,
		); err != nil {
			return fmt.Errorf("failed to insert bank transaction %s: %w", txn.ID, err)
		}
	}

	return tx.Commit()
}

// GetBankTransactionsInWindow returns transactions with dates inside
// [from, to], ordered by date for deterministic matching.
func (s *SQLiteStorage) GetBankTransactionsInWindow(ctx context.Context, from, to time.Time) ([]model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, &ErrInvalidInput{Field: "window", Reason: "to precedes from"}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hash, date, amount_cents, description, source, matched_expense_id
		FROM bank_transactions
		WHERE date >= ? AND date <= ?
		ORDER BY date, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.BankTransaction
	for rows.Next() {
		txn, err := scanBankTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bank transactions: %w", err)
	}
	return transactions, nil
}

// GetBankTransaction retrieves a single bank transaction by ID.
func (s *SQLiteStorage) GetBankTransaction(ctx context.Context, id string) (*model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, date, amount_cents, description, source, matched_expense_id
		FROM bank_transactions WHERE id = ?`, id)
	return scanBankTransaction(row)
}

// ClaimBankTransaction links a bank transaction to an expense. The claim only
// succeeds if the transaction is unclaimed or already claimed by the same
// expense, which makes the matcher's proposal safe to re-validate at commit
// time even when two expenses raced to the same candidate.
func (s *SQLiteStorage) ClaimBankTransaction(ctx context.Context, id, expenseID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}
	if err := validateString(expenseID, "expenseID"); err != nil {
		return false, err
	}

	claimed, err := s.execAffected(ctx, `
		UPDATE bank_transactions
		SET matched_expense_id = ?
		WHERE id = ? AND (matched_expense_id = '' OR matched_expense_id = ?)`,
		expenseID, id, expenseID)
	if err != nil {
		return false, fmt.Errorf("failed to claim bank transaction %s: %w", id, err)
	}
	return claimed, nil
}

// ReleaseBankTransaction removes an expense's claim on a bank transaction.
func (s *SQLiteStorage) ReleaseBankTransaction(ctx context.Context, id, expenseID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE bank_transactions
		SET matched_expense_id = ''
		WHERE id = ? AND matched_expense_id = ?`, id, expenseID); err != nil {
		return fmt.Errorf("failed to release bank transaction %s: %w", id, err)
	}
	return nil
}

func scanBankTransaction(row rowScanner) (*model.BankTransaction, error) {
	var (
		txn     model.BankTransaction
		source  sql.NullString
		matched sql.NullString
	)

	err := row.Scan(
		&txn.ID,
		&txn.Hash,
		&txn.Date,
		&txn.AmountCents,
		&txn.Description,
		&source,
		&matched,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan bank transaction: %w", err)
	}

	txn.Source = source.String
	txn.MatchedExpenseID = matched.String
	return &txn, nil
}
