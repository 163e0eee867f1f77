// Package intake normalizes inbound expense-report events into pending
// expense records. Ingestion is idempotent: redelivered reports refresh
// still-pending records and leave advanced records untouched.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
)

// Disposition describes what ingestion did with one report entry.
type Disposition string

// Entry dispositions.
const (
	// DispositionCreated means a new pending expense was inserted. The caller
	// should emit exactly one dispatch signal for it.
	DispositionCreated Disposition = "created"
	// DispositionRefreshed means the entry updated an existing still-pending
	// expense in place.
	DispositionRefreshed Disposition = "refreshed"
	// DispositionAlreadyProcessed means the expense has already posted;
	// redelivery is acknowledged without changing anything.
	DispositionAlreadyProcessed Disposition = "already-processed"
	// DispositionUnchanged means the expense exists in processing or flagged
	// and the redelivered entry was ignored.
	DispositionUnchanged Disposition = "unchanged"
	// DispositionSkipped means the entry failed validation and was dropped
	// without aborting the rest of the report.
	DispositionSkipped Disposition = "skipped"
)

// Result reports the outcome of ingesting one report entry.
type Result struct {
	ExpenseID   string
	ExternalID  string
	Disposition Disposition
	Err         error
}

// Normalizer converts report entries into expense records.
type Normalizer struct {
	storage service.Storage
	logger  *slog.Logger
}

// New creates an intake normalizer backed by the given storage.
func New(storage service.Storage) *Normalizer {
	return &Normalizer{
		storage: storage,
		logger:  slog.Default().With("component", "intake"),
	}
}

// Ingest normalizes every entry of a report. A malformed entry is skipped
// individually and never aborts the rest of the batch; a storage failure
// aborts, returning the results accumulated so far.
func (n *Normalizer) Ingest(ctx context.Context, report Report) ([]Result, error) {
	results := make([]Result, 0, len(report.Expenses))

	for i := range report.Expenses {
		entry := &report.Expenses[i]

		expense, err := n.normalize(entry)
		if err != nil {
			n.logger.Warn("Skipping malformed report entry",
				"report_id", report.ReportID,
				"external_id", entry.ExpenseID,
				"error", err)
			results = append(results, Result{
				ExternalID:  entry.ExpenseID,
				Disposition: DispositionSkipped,
				Err:         err,
			})
			continue
		}

		result, err := n.upsert(ctx, expense)
		if err != nil {
			return results, fmt.Errorf("failed to ingest entry %s: %w", entry.ExpenseID, err)
		}
		results = append(results, result)
	}

	n.logger.Info("Report ingested",
		"report_id", report.ReportID,
		"entries", len(report.Expenses),
		"created", countDisposition(results, DispositionCreated),
		"skipped", countDisposition(results, DispositionSkipped))

	return results, nil
}

// normalize validates one entry and builds the expense record for it.
func (n *Normalizer) normalize(entry *Entry) (*model.Expense, error) {
	if entry.decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, entry.decodeErr)
	}

	if strings.TrimSpace(entry.ExpenseID) == "" {
		return nil, fmt.Errorf("%w: expense_id is missing", common.ErrValidation)
	}

	date, err := entry.entryDate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	cents, err := entry.amountCents()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	expense := &model.Expense{
		ID:          uuid.NewString(),
		ExternalID:  strings.TrimSpace(entry.ExpenseID),
		Date:        date,
		AmountCents: cents,
		Merchant:    strings.TrimSpace(entry.Merchant),
		Category:    strings.TrimSpace(entry.Category),
		Tags:        entry.Tags,
		Status:      model.StatusPending,
	}

	// The receipt binary lands out of band; record the source document
	// reference so review has something to show until then.
	if len(entry.Documents) > 0 {
		doc := entry.Documents[0]
		expense.ReceiptPath = fmt.Sprintf("%s/%s", doc.ID, doc.Filename)
	}

	return expense, nil
}

// upsert inserts the expense or, on redelivery, applies the status-dependent
// idempotence rules.
func (n *Normalizer) upsert(ctx context.Context, expense *model.Expense) (Result, error) {
	err := n.storage.CreateExpense(ctx, expense)
	if err == nil {
		return Result{
			ExpenseID:   expense.ID,
			ExternalID:  expense.ExternalID,
			Disposition: DispositionCreated,
		}, nil
	}
	if !errors.Is(err, common.ErrDuplicateEntry) {
		return Result{}, err
	}

	existing, err := n.storage.GetExpenseByExternalID(ctx, expense.ExternalID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load existing expense %s: %w", expense.ExternalID, err)
	}

	result := Result{ExpenseID: existing.ID, ExternalID: expense.ExternalID}

	switch existing.Status {
	case model.StatusPending:
		if err := n.storage.RefreshPendingExpense(ctx, expense); err != nil {
			return Result{}, err
		}
		result.Disposition = DispositionRefreshed
	case model.StatusPosted:
		result.Disposition = DispositionAlreadyProcessed
		result.Err = common.ErrAlreadyProcessed
	default:
		// processing or flagged: the record is owned by an in-flight
		// invocation or the review queue, leave it alone.
		result.Disposition = DispositionUnchanged
	}

	return result, nil
}

func countDisposition(results []Result, d Disposition) int {
	count := 0
	for _, r := range results {
		if r.Disposition == d {
			count++
		}
	}
	return count
}
