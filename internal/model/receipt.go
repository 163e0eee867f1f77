package model

// ReceiptValidation is the pre-computed comparison between a receipt image's
// extracted fields and the reported expense. It is produced by an external
// analysis step and consumed read-only by the confidence scorer.
type ReceiptValidation struct {
	ExpenseID     string
	Merchant      string
	Issues        []string
	AmountCents   int64
	Confidence    int
	AmountsMatch  bool
	MerchantMatch bool
}
