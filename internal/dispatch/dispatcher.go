// Package dispatch exposes the trigger interface the external queue mechanism
// invokes to process pending expenses.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/Veraticus/the-ledger-must-flow/internal/lifecycle"
)

// Processor runs the lifecycle pipeline for one expense. Satisfied by
// *lifecycle.Controller.
type Processor interface {
	Process(ctx context.Context, expenseID string) (lifecycle.Outcome, error)
}

// Config tunes dispatch behavior.
type Config struct {
	// InvocationsPerMinute bounds how fast queued triggers are serviced.
	InvocationsPerMinute int
}

// Dispatcher services dispatch signals. Each signal is an independent
// invocation; re-delivery of the same expense ID is safe because the
// lifecycle controller's compare-and-set guard makes duplicate invocations
// no-ops.
type Dispatcher struct {
	processor Processor
	limiter   *rateLimiter
	logger    *slog.Logger
}

// New creates a dispatcher around the given processor.
func New(processor Processor, cfg Config) *Dispatcher {
	return &Dispatcher{
		processor: processor,
		limiter:   newRateLimiter(cfg.InvocationsPerMinute),
		logger:    slog.Default().With("component", "dispatch"),
	}
}

// OnExpenseReady handles one dispatch signal for an expense. It is idempotent
// for the same ID: a duplicate delivery observes the advanced state and
// no-ops.
func (d *Dispatcher) OnExpenseReady(ctx context.Context, expenseID string) (lifecycle.Outcome, error) {
	if err := d.limiter.wait(ctx); err != nil {
		return lifecycle.Outcome{ExpenseID: expenseID}, err
	}

	outcome, err := d.processor.Process(ctx, expenseID)
	if err != nil {
		// Deferred outcomes carry a transient error by design; anything else
		// is operator-actionable.
		if outcome.Decision == lifecycle.DecisionDeferred {
			d.logger.Warn("Dispatch deferred",
				"expense_id", expenseID,
				"error", err)
		} else {
			d.logger.Error("Dispatch failed",
				"expense_id", expenseID,
				"error", err)
		}
		return outcome, err
	}

	d.logger.Debug("Dispatch complete",
		"expense_id", expenseID,
		"decision", string(outcome.Decision),
		"status", string(outcome.Status))
	return outcome, nil
}

// Close releases the dispatcher's rate limiter.
func (d *Dispatcher) Close() {
	d.limiter.close()
}
