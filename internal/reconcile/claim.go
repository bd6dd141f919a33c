package reconcile

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/razorpay-gateway/internal/billing"
)

// ErrAmountMismatch is returned when the processor reported a different amount
// than the invoice total expressed in minor units.
var ErrAmountMismatch = errors.New("reconcile: amount mismatch")

// ErrSignatureInvalid marks authorization failures raised before settlement.
var ErrSignatureInvalid = errors.New("invalid signature passed")

// Source names the entry point that produced a claim.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceRedirect Source = "redirect"
)

// PaymentClaim is a processor's assertion that a payment settles an invoice.
type PaymentClaim struct {
	InvoiceRef string
	PaymentID  string
	// Amount is the processor-reported amount in minor units. Nil skips the
	// amount comparison.
	Amount *int64
	Fee    FeeResult
	Source Source
	// Payload is written to the transaction log with the outcome.
	Payload any
}

// FeeResult is the processor fee for a payment, in major units. Defaulted is
// set when the lookup failed and the fee fell back to zero; Err keeps the cause.
type FeeResult struct {
	Amount    decimal.Decimal
	Defaulted bool
	Err       error
}

// FeeFromMinor converts a processor fee in minor units. A missing or
// non-positive fee is zero.
func FeeFromMinor(minor *int64) FeeResult {
	if minor == nil || *minor <= 0 {
		return FeeResult{Amount: decimal.Zero}
	}
	return FeeResult{Amount: decimal.New(*minor, -2)}
}

// FeeDefaulted records a failed fee lookup.
func FeeDefaulted(err error) FeeResult {
	return FeeResult{Amount: decimal.Zero, Defaulted: true, Err: err}
}

// ToMinorUnits converts a major-unit total to minor units, rounding half away
// from zero.
func ToMinorUnits(total decimal.Decimal) int64 {
	return total.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// AmountMismatchError carries both sides of a failed amount comparison, in
// minor units.
type AmountMismatchError struct {
	Expected int64
	Reported int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("Amount mismatch. Invoice: %d, Razorpay: %d", e.Expected, e.Reported)
}

// Is matches ErrAmountMismatch.
func (e *AmountMismatchError) Is(target error) bool { return target == ErrAmountMismatch }

// VerifyAmount compares the reported amount against the invoice total. Both
// entry points go through here.
func VerifyAmount(inv billing.Invoice, reported *int64) error {
	if reported == nil {
		return nil
	}
	if expected := ToMinorUnits(inv.Total); expected != *reported {
		return &AmountMismatchError{Expected: expected, Reported: *reported}
	}
	return nil
}
