package intake

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Report is the inbound expense-report event: an identifier plus an ordered
// sequence of expense entries.
type Report struct {
	ReportID string  `json:"report_id"`
	Expenses []Entry `json:"expenses"`
}

// UnmarshalJSON decodes every entry independently so one entry with a
// wrong-typed field cannot fail the whole batch. A failed entry is kept with
// its decode error and skipped during ingestion like any other malformed
// entry.
func (r *Report) UnmarshalJSON(data []byte) error {
	var raw struct {
		ReportID string            `json:"report_id"`
		Expenses []json.RawMessage `json:"expenses"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.ReportID = raw.ReportID
	r.Expenses = make([]Entry, 0, len(raw.Expenses))
	for _, msg := range raw.Expenses {
		var entry Entry
		if err := json.Unmarshal(msg, &entry); err != nil {
			entry = Entry{ExpenseID: entryExternalID(msg), decodeErr: err}
		}
		r.Expenses = append(r.Expenses, entry)
	}
	return nil
}

// entryExternalID makes a best-effort grab of the external ID from an entry
// that failed to decode, so the skip result can still name it.
func entryExternalID(msg json.RawMessage) string {
	var id struct {
		ExpenseID string `json:"expense_id"`
	}
	if err := json.Unmarshal(msg, &id); err != nil {
		return ""
	}
	return id.ExpenseID
}

// Entry is a single expense inside an inbound report.
type Entry struct {
	ExpenseID string     `json:"expense_id"`
	Date      string     `json:"date"`
	Amount    *ocAmount  `json:"amount"`
	Merchant  string     `json:"merchant_name"`
	Category  string     `json:"category_name"`
	Tags      []string   `json:"tags,omitempty"`
	Documents []Document `json:"documents,omitempty"`

	// decodeErr records a type-level JSON mismatch on this entry; set only by
	// Report.UnmarshalJSON.
	decodeErr error
}

// Document describes a receipt attachment. The binary is fetched and stored
// out of band; intake only records the descriptor.
type Document struct {
	ID       string `json:"document_id"`
	Filename string `json:"file_name"`
}

// ocAmount decodes a JSON amount without losing track of whether the field
// was present, so "amount": 0 and a missing amount validate differently.
type ocAmount struct {
	value json.Number
}

func (a *ocAmount) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &a.value)
}

// ParseReport decodes an inbound report payload. Only top-level malformation
// is an error; entry-level problems surface as per-entry skips.
func ParseReport(data []byte) (Report, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, fmt.Errorf("failed to decode report: %w", err)
	}
	return report, nil
}

// amountCents converts a decimal amount to integer cents, rejecting missing,
// non-finite, and negative values.
func (e *Entry) amountCents() (int64, error) {
	if e.Amount == nil || e.Amount.value == "" {
		return 0, fmt.Errorf("amount is missing")
	}
	f, err := e.Amount.value.Float64()
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a number", e.Amount.value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("amount %q is not finite", e.Amount.value)
	}
	if f < 0 {
		return 0, fmt.Errorf("amount %q is negative", e.Amount.value)
	}
	return int64(math.Round(f * 100)), nil
}

// entryDate parses the entry date, tolerating timestamps by truncating to the
// date portion.
func (e *Entry) entryDate() (time.Time, error) {
	raw := e.Date
	if len(raw) > 10 {
		raw = raw[:10]
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not YYYY-MM-DD", e.Date)
	}
	return date, nil
}
