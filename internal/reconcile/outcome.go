package reconcile

// Outcome classifies how a claim ended.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeAlreadyPaid      Outcome = "already_paid"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeAmountMismatch   Outcome = "amount_mismatch"
	OutcomeSignatureInvalid Outcome = "signature_invalid"
	OutcomeError            Outcome = "error"
)

// Result is the terminal state of one reconciliation attempt.
type Result struct {
	Outcome   Outcome
	InvoiceID int64
	Err       error
}

// Applied reports whether the payment was recorded against the invoice.
func (r Result) Applied() bool { return r.Outcome == OutcomeApplied }

// Retryable reports whether the attempt failed on infrastructure, so the
// processor should deliver again.
func (r Result) Retryable() bool { return r.Outcome == OutcomeError }
