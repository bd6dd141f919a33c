package billing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInvoiceID is returned when an invoice reference is not a positive integer.
	ErrInvalidInvoiceID = errors.New("billing: invalid invoice id")
	// ErrInvoiceNotFound is returned when no invoice exists for the given id.
	ErrInvoiceNotFound = errors.New("billing: invoice not found")
	// ErrInvoiceAlreadyPaid is returned when a payment targets an invoice that is already paid.
	ErrInvoiceAlreadyPaid = errors.New("billing: invoice already paid")
	// ErrDuplicateTransaction is returned when a gateway transaction id was already recorded.
	ErrDuplicateTransaction = errors.New("billing: transaction already recorded")
	// ErrMissingTransactionID is returned when a payment carries no gateway transaction id.
	ErrMissingTransactionID = errors.New("billing: transaction id is required")
	// ErrOrderMappingNotFound is returned when no gateway order is mapped to an invoice.
	ErrOrderMappingNotFound = errors.New("billing: order mapping not found")
)

// InvoiceStatus mirrors the status lifecycle of an invoice in the billing system.
type InvoiceStatus string

const (
	StatusUnpaid    InvoiceStatus = "Unpaid"
	StatusPaid      InvoiceStatus = "Paid"
	StatusCancelled InvoiceStatus = "Cancelled"
	StatusRefunded  InvoiceStatus = "Refunded"
)

// Invoice is the subset of a billing invoice the gateway needs.
type Invoice struct {
	ID       int64
	UserID   int64
	Total    decimal.Decimal
	Currency string
	Status   InvoiceStatus
}

// IsPaid reports whether the invoice has reached the Paid status.
func (i Invoice) IsPaid() bool {
	return i.Status == StatusPaid
}

// Payment is a gateway payment applied to an invoice.
type Payment struct {
	InvoiceID     int64
	TransactionID string
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	Gateway       string
}

// Transaction log statuses written by the gateway.
const (
	LogSuccessful = "Successful"
	LogFailure    = "Failure"
	LogInfo       = "INFO"
	LogWarning    = "Warning"
)

// Unsuccessful formats a failed-transaction log status carrying the reason.
func Unsuccessful(reason string) string {
	return "Unsuccessful-" + reason
}
