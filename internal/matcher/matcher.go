// Package matcher finds the best candidate bank transaction for an expense.
package matcher

import (
	"time"

	"github.com/Veraticus/the-ledger-must-flow/internal/model"
)

// Config holds the matching tolerances. AmountToleranceCents is an absolute
// value rather than a percentage so small transactions are not
// under-tolerated.
type Config struct {
	AmountToleranceCents int64
	DateWindowDays       int
}

// DefaultDateWindowDays is the date tolerance used when none is configured.
const DefaultDateWindowDays = 3

// Matcher proposes bank transaction links. It never mutates candidates; the
// lifecycle controller persists (and re-validates) any proposed link.
type Matcher struct {
	cfg Config
}

// New creates a matcher with the given tolerances.
func New(cfg Config) *Matcher {
	if cfg.DateWindowDays <= 0 {
		cfg.DateWindowDays = DefaultDateWindowDays
	}
	return &Matcher{cfg: cfg}
}

// Window returns the inclusive date range to fetch candidates for an expense.
func (m *Matcher) Window(date time.Time) (time.Time, time.Time) {
	days := time.Duration(m.cfg.DateWindowDays) * 24 * time.Hour
	return date.Add(-days), date.Add(days)
}

// BestMatch returns the best candidate passing the tolerance filter, or
// found=false when nothing qualifies. No match is an expected, common
// outcome, not an error.
//
// Tie-break among qualifying candidates: smallest date delta, then smallest
// amount delta, then prefer a transaction not already linked to another
// expense.
func (m *Matcher) BestMatch(expense *model.Expense, candidates []model.BankTransaction) (*model.BankTransaction, bool) {
	var best *model.BankTransaction
	var bestDateDelta int
	var bestAmountDelta int64

	for i := range candidates {
		candidate := &candidates[i]
		dateDelta := daysApart(expense.Date, candidate.Date)
		amountDelta := absInt64(expense.AmountCents - candidate.AmountCents)

		if dateDelta > m.cfg.DateWindowDays || amountDelta > m.cfg.AmountToleranceCents {
			continue
		}

		if best == nil || better(dateDelta, amountDelta, candidate, bestDateDelta, bestAmountDelta, best) {
			best = candidate
			bestDateDelta = dateDelta
			bestAmountDelta = amountDelta
		}
	}

	if best == nil {
		return nil, false
	}
	return best, true
}

// WithinTolerance re-checks a specific transaction against the filter. The
// lifecycle controller calls this at commit time because the proposed link is
// only advisory.
func (m *Matcher) WithinTolerance(expense *model.Expense, txn *model.BankTransaction) bool {
	return daysApart(expense.Date, txn.Date) <= m.cfg.DateWindowDays &&
		absInt64(expense.AmountCents-txn.AmountCents) <= m.cfg.AmountToleranceCents
}

func better(dateDelta int, amountDelta int64, candidate *model.BankTransaction, bestDateDelta int, bestAmountDelta int64, best *model.BankTransaction) bool {
	if dateDelta != bestDateDelta {
		return dateDelta < bestDateDelta
	}
	if amountDelta != bestAmountDelta {
		return amountDelta < bestAmountDelta
	}
	return !candidate.Linked() && best.Linked()
}

// daysApart counts whole calendar days between two timestamps, ignoring the
// time-of-day component.
func daysApart(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	delta := int(ad.Sub(bd).Hours() / 24)
	if delta < 0 {
		delta = -delta
	}
	return delta
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
