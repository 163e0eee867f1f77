// Package gateway adapts the persistence layer to the reference data
// interface the pipeline consumes. Reference data (bank feeds, category
// mappings, receipt validations) is produced by external systems; this
// gateway is the single seam where their unavailability is classified as
// transient.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
)

// StorageGateway serves reference data queries from local storage, where feed
// imports and validation results have already been landed.
type StorageGateway struct {
	storage service.Storage
}

// New creates a reference data gateway backed by the given storage.
func New(storage service.Storage) *StorageGateway {
	return &StorageGateway{storage: storage}
}

// BankTransactionsInWindow returns candidate transactions for matching.
func (g *StorageGateway) BankTransactionsInWindow(ctx context.Context, from, to time.Time) ([]model.BankTransaction, error) {
	transactions, err := g.storage.GetBankTransactionsInWindow(ctx, from, to)
	if err != nil {
		return nil, transient("bank transactions", err)
	}
	return transactions, nil
}

// CategoryMapping resolves a category label. Unknown labels come back with
// Resolved=false rather than an error.
func (g *StorageGateway) CategoryMapping(ctx context.Context, name string) (model.CategoryMapping, error) {
	mapping, err := g.storage.GetCategoryMapping(ctx, name)
	if err != nil {
		return model.CategoryMapping{Name: name}, transient("category mapping", err)
	}
	return *mapping, nil
}

// ReceiptValidation returns the pre-computed validation for an expense, or
// nil when the analysis never ran.
func (g *StorageGateway) ReceiptValidation(ctx context.Context, expenseID string) (*model.ReceiptValidation, error) {
	validation, err := g.storage.GetReceiptValidation(ctx, expenseID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, transient("receipt validation", err)
	}
	return validation, nil
}

func transient(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", common.ErrTransientGateway, what, err)
}
