// Package scorer computes the auto-post confidence score for an expense.
package scorer

import (
	"fmt"

	"github.com/Veraticus/the-ledger-must-flow/internal/model"
)

// Deduction weights. All arithmetic is integer so the same inputs always
// produce the same score and reason list.
const (
	deductNoBankMatch        = 40
	deductUnresolvedCategory = 15
	deductLowValidation      = 20
	deductPerIssue           = 15
	deductNoValidation       = 10
	deductMissingEventRef    = 20

	// Validation confidence below this is treated as a weak signal.
	lowValidationFloor = 80
)

// DefaultThreshold is the default minimum score eligible for auto-posting.
// The effective threshold is configuration, not business logic.
const DefaultThreshold = 95

// Input carries everything the scorer looks at. Match and Validation are nil
// when absent; absence itself is scored.
type Input struct {
	Expense    *model.Expense
	Match      *model.BankTransaction
	Validation *model.ReceiptValidation
	Category   model.CategoryMapping
}

// Result is the scored outcome: a clamped 0-100 score and the ordered list of
// deduction reasons that produced it.
type Result struct {
	Reasons []string
	Score   int
}

// Eligible reports whether the score clears the auto-post threshold.
func (r Result) Eligible(threshold int) bool {
	return r.Score >= threshold
}

// Score starts at 100 and applies each deduction independently and
// additively. Individual deductions are never capped; only the final score is
// clamped to [0,100].
func Score(in Input) Result {
	score := 100
	var reasons []string

	deduct := func(points int, reason string) {
		score -= points
		reasons = append(reasons, fmt.Sprintf("%s (-%d)", reason, points))
	}

	if in.Match == nil {
		deduct(deductNoBankMatch, "no bank transaction match")
	}

	if !in.Category.Resolved {
		deduct(deductUnresolvedCategory, fmt.Sprintf("category %q not resolvable", in.Expense.Category))
	}

	if in.Validation != nil {
		if in.Validation.Confidence < lowValidationFloor {
			deduct(deductLowValidation, fmt.Sprintf("receipt validation confidence %d below %d", in.Validation.Confidence, lowValidationFloor))
		}
		for _, issue := range in.Validation.Issues {
			deduct(deductPerIssue, fmt.Sprintf("receipt issue: %s", issue))
		}
	} else {
		deduct(deductNoValidation, "no receipt validation available")
	}

	if in.Category.Resolved && in.Category.RequiresEvent && !in.Expense.HasEventRef() {
		deduct(deductMissingEventRef, fmt.Sprintf("category %q requires an event reference but none present", in.Expense.Category))
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Result{Score: score, Reasons: reasons}
}
