// Package model defines the core domain models used throughout the application.
package model

import (
	"strings"
	"time"
)

// ExpenseStatus tracks where an expense is in the reconciliation lifecycle.
type ExpenseStatus string

// Expense status constants.
const (
	StatusPending    ExpenseStatus = "pending"
	StatusProcessing ExpenseStatus = "processing"
	StatusPosted     ExpenseStatus = "posted"
	StatusFlagged    ExpenseStatus = "flagged"
)

// Valid reports whether s is one of the known statuses.
func (s ExpenseStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPosted, StatusFlagged:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further automatic transitions.
func (s ExpenseStatus) Terminal() bool {
	return s == StatusPosted
}

// EventTagPrefix marks a tag that carries an external calendar/event reference.
const EventTagPrefix = "event:"

// Expense represents a single reported expense in the reconciliation pipeline.
//
// Amounts are stored in integer cents so that scoring and tolerance checks
// stay exact; see AmountCents on BankTransaction for the same convention.
type Expense struct {
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Date               time.Time
	ProcessedAt        *time.Time
	Confidence         *int
	ID                 string
	ExternalID         string
	Merchant           string
	Category           string
	ReceiptPath        string
	ReceiptContentType string
	FlagReason         string
	BankTransactionID  string
	Status             ExpenseStatus
	Tags               []string
	AmountCents        int64
	Attempts           int
}

// HasEventRef reports whether any tag carries an event reference.
func (e *Expense) HasEventRef() bool {
	for _, tag := range e.Tags {
		if strings.HasPrefix(strings.ToLower(tag), EventTagPrefix) {
			return true
		}
	}
	return false
}

// HasBankMatch reports whether the expense is linked to a bank transaction.
func (e *Expense) HasBankMatch() bool {
	return e.BankTransactionID != ""
}
