package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// BankTransaction is a read-only record from an imported bank or card feed.
// The matcher proposes links against these; it never mutates them.
type BankTransaction struct {
	Date             time.Time
	ID               string
	Hash             string
	Description      string
	Source           string
	MatchedExpenseID string
	AmountCents      int64
}

// GenerateHash creates a unique hash for duplicate detection across imports.
func (t *BankTransaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%d:%s:%s",
		t.Date.Format("2006-01-02"),
		t.AmountCents,
		t.Description,
		t.Source)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Linked reports whether the transaction is already claimed by an expense.
func (t *BankTransaction) Linked() bool {
	return t.MatchedExpenseID != ""
}
