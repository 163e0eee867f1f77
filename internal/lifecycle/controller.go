// Package lifecycle implements the expense state machine: it owns every
// status transition and decides, per dispatch, whether an expense is posted,
// flagged for review, or deferred for retry.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/the-ledger-must-flow/internal/common"
	"github.com/Veraticus/the-ledger-must-flow/internal/matcher"
	"github.com/Veraticus/the-ledger-must-flow/internal/model"
	"github.com/Veraticus/the-ledger-must-flow/internal/scorer"
	"github.com/Veraticus/the-ledger-must-flow/internal/service"
)

// Decision describes what a single dispatch invocation did with an expense.
type Decision string

// Decision constants.
const (
	// DecisionPosted means the expense cleared every precondition and was
	// auto-posted.
	DecisionPosted Decision = "posted"
	// DecisionFlagged means the expense was routed to the human-review queue.
	DecisionFlagged Decision = "flagged"
	// DecisionDeferred means reference data was unreachable; the expense was
	// reverted to pending so a later redelivery can retry.
	DecisionDeferred Decision = "deferred"
	// DecisionNoOp means the invocation observed a state it may not act on
	// (already processing, posted, or awaiting human review) and did nothing.
	DecisionNoOp Decision = "no-op"
)

// Outcome reports the result of processing one dispatch signal.
type Outcome struct {
	ExpenseID string
	Status    model.ExpenseStatus
	Decision  Decision
	Reasons   []string
	Score     int
}

// Config holds lifecycle tuning.
type Config struct {
	// AutoPostThreshold is the minimum confidence score eligible for
	// auto-posting.
	AutoPostThreshold int
}

// Controller drives expenses through the state machine.
type Controller struct {
	storage   service.Storage
	refdata   service.ReferenceData
	matcher   *matcher.Matcher
	logger    *slog.Logger
	threshold int
}

// New creates a lifecycle controller.
func New(storage service.Storage, refdata service.ReferenceData, m *matcher.Matcher, cfg Config) *Controller {
	threshold := cfg.AutoPostThreshold
	if threshold <= 0 {
		threshold = scorer.DefaultThreshold
	}
	return &Controller{
		storage:   storage,
		refdata:   refdata,
		matcher:   m,
		threshold: threshold,
		logger:    slog.Default().With("component", "lifecycle"),
	}
}

// Process handles one dispatch signal for an expense. It is safe to invoke
// concurrently for the same expense: only the invocation that wins the
// pending→processing compare-and-set proceeds, all others observe the new
// state and no-op.
func (c *Controller) Process(ctx context.Context, expenseID string) (Outcome, error) {
	expense, err := c.storage.GetExpense(ctx, expenseID)
	if err != nil {
		return Outcome{ExpenseID: expenseID}, fmt.Errorf("failed to load expense %s: %w", expenseID, err)
	}

	if expense.Status != model.StatusPending {
		// posted is terminal, flagged waits for a human reset, and
		// processing means another invocation is already in flight.
		c.logger.Debug("Skipping expense not in pending state",
			"expense_id", expenseID,
			"status", expense.Status)
		return c.noop(expense), nil
	}

	won, err := c.storage.TransitionStatus(ctx, expenseID, model.StatusPending, model.StatusProcessing)
	if err != nil {
		return Outcome{ExpenseID: expenseID}, fmt.Errorf("failed to claim expense %s: %w", expenseID, err)
	}
	if !won {
		// Another invocation moved it first. Losing the race is success.
		current, gerr := c.storage.GetExpense(ctx, expenseID)
		if gerr != nil {
			return Outcome{ExpenseID: expenseID, Decision: DecisionNoOp}, nil
		}
		return c.noop(current), nil
	}

	outcome, err := c.reconcile(ctx, expense)
	if err != nil && common.IsRetryable(err) {
		// A retryable failure is never terminal: give the expense back to
		// the queue and let redelivery retry.
		c.revert(ctx, expenseID)
		c.logger.Warn("Reference data unreachable, deferring expense",
			"expense_id", expenseID,
			"error", err)
		return Outcome{ExpenseID: expenseID, Status: model.StatusPending, Decision: DecisionDeferred}, err
	}
	return outcome, err
}

// reconcile runs the match→score→route pipeline for an expense that this
// invocation has exclusively claimed.
func (c *Controller) reconcile(ctx context.Context, expense *model.Expense) (Outcome, error) {
	from, to := c.matcher.Window(expense.Date)
	candidates, err := c.refdata.BankTransactionsInWindow(ctx, from, to)
	if err != nil {
		return Outcome{ExpenseID: expense.ID}, err
	}

	mapping, err := c.refdata.CategoryMapping(ctx, expense.Category)
	if err != nil {
		return Outcome{ExpenseID: expense.ID}, err
	}

	validation, err := c.refdata.ReceiptValidation(ctx, expense.ID)
	if err != nil {
		return Outcome{ExpenseID: expense.ID}, err
	}

	match, found := c.matcher.BestMatch(expense, candidates)
	result := scorer.Score(scorer.Input{
		Expense:    expense,
		Match:      match,
		Validation: validation,
		Category:   mapping,
	})

	if result.Eligible(c.threshold) && found && mapping.Resolved {
		outcome, posted, perr := c.tryPost(ctx, expense, match, result)
		if perr != nil {
			return outcome, perr
		}
		if posted {
			return outcome, nil
		}
		// The candidate was claimed by another expense mid-flight, or
		// drifted out of tolerance. The proposed link was only advisory;
		// re-score as unmatched and route to review.
		result = scorer.Score(scorer.Input{
			Expense:    expense,
			Match:      nil,
			Validation: validation,
			Category:   mapping,
		})
	}

	return c.flag(ctx, expense, result)
}

// tryPost re-validates the proposed link at commit time and posts the
// expense. The matcher's proposal is advisory: the link must still be within
// tolerance and unclaimed (or claimed by this same expense) when we commit.
func (c *Controller) tryPost(ctx context.Context, expense *model.Expense, match *model.BankTransaction, result scorer.Result) (Outcome, bool, error) {
	current, err := c.storage.GetBankTransaction(ctx, match.ID)
	if err != nil {
		c.revert(ctx, expense.ID)
		return Outcome{ExpenseID: expense.ID, Status: model.StatusPending, Decision: DecisionDeferred}, false,
			fmt.Errorf("%w: bank transaction %s: %v", common.ErrTransientGateway, match.ID, err)
	}

	if !c.matcher.WithinTolerance(expense, current) {
		return Outcome{ExpenseID: expense.ID}, false, nil
	}
	if current.Linked() && current.MatchedExpenseID != expense.ID {
		return Outcome{ExpenseID: expense.ID}, false, nil
	}

	claimed, err := c.storage.ClaimBankTransaction(ctx, match.ID, expense.ID)
	if err != nil {
		c.revert(ctx, expense.ID)
		return Outcome{ExpenseID: expense.ID, Status: model.StatusPending, Decision: DecisionDeferred}, false,
			fmt.Errorf("%w: claiming bank transaction %s: %v", common.ErrTransientGateway, match.ID, err)
	}
	if !claimed {
		return Outcome{ExpenseID: expense.ID}, false, nil
	}

	moved, err := c.storage.FinalizePosted(ctx, expense.ID, match.ID, result.Score)
	if err != nil {
		return Outcome{ExpenseID: expense.ID}, false, fmt.Errorf("failed to post expense %s: %w", expense.ID, err)
	}
	if !moved {
		// The expense left processing underneath us; whatever moved it owns
		// the record now. Release our claim and stand down.
		if rerr := c.storage.ReleaseBankTransaction(ctx, match.ID, expense.ID); rerr != nil {
			c.logger.Warn("Failed to release bank transaction after lost post",
				"bank_transaction_id", match.ID,
				"error", rerr)
		}
		current, gerr := c.storage.GetExpense(ctx, expense.ID)
		if gerr != nil {
			return Outcome{ExpenseID: expense.ID, Decision: DecisionNoOp}, true, nil
		}
		return c.noop(current), true, nil
	}

	c.logger.Info("Expense posted",
		"expense_id", expense.ID,
		"external_id", expense.ExternalID,
		"bank_transaction_id", match.ID,
		"score", result.Score)

	return Outcome{
		ExpenseID: expense.ID,
		Status:    model.StatusPosted,
		Decision:  DecisionPosted,
		Score:     result.Score,
		Reasons:   result.Reasons,
	}, true, nil
}

func (c *Controller) flag(ctx context.Context, expense *model.Expense, result scorer.Result) (Outcome, error) {
	reason := strings.Join(result.Reasons, "; ")
	if reason == "" {
		reason = fmt.Sprintf("confidence %d below auto-post threshold %d", result.Score, c.threshold)
	}

	if _, err := c.storage.FinalizeFlagged(ctx, expense.ID, result.Score, reason); err != nil {
		return Outcome{ExpenseID: expense.ID}, fmt.Errorf("failed to flag expense %s: %w", expense.ID, err)
	}

	c.logger.Info("Expense flagged for review",
		"expense_id", expense.ID,
		"external_id", expense.ExternalID,
		"score", result.Score,
		"reason", reason)

	return Outcome{
		ExpenseID: expense.ID,
		Status:    model.StatusFlagged,
		Decision:  DecisionFlagged,
		Score:     result.Score,
		Reasons:   result.Reasons,
	}, nil
}

// Reset returns a flagged expense to pending on explicit human request,
// clearing stale match and score data. It is not a core-internal transition.
func (c *Controller) Reset(ctx context.Context, expenseID string) (bool, error) {
	reset, err := c.storage.ResetExpense(ctx, expenseID)
	if err != nil {
		return false, fmt.Errorf("failed to reset expense %s: %w", expenseID, err)
	}
	if reset {
		c.logger.Info("Expense reset to pending", "expense_id", expenseID)
	}
	return reset, nil
}

func (c *Controller) noop(expense *model.Expense) Outcome {
	outcome := Outcome{
		ExpenseID: expense.ID,
		Status:    expense.Status,
		Decision:  DecisionNoOp,
	}
	if expense.Confidence != nil {
		outcome.Score = *expense.Confidence
	}
	return outcome
}

// revert gives a claimed expense back to the pending pool after a transient
// failure. Failure to revert is not fatal: the stuck-recovery sweep will
// eventually return the record to pending.
func (c *Controller) revert(ctx context.Context, expenseID string) {
	if _, err := c.storage.TransitionStatus(ctx, expenseID, model.StatusProcessing, model.StatusPending); err != nil {
		c.logger.Error("Failed to revert expense to pending",
			"expense_id", expenseID,
			"error", err)
	}
}
