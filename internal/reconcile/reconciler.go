package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/razorpay-gateway/internal/billing"
	"github.com/noah-isme/razorpay-gateway/internal/obs"
)

// Store is the billing system as seen by the reconciler.
type Store interface {
	ValidateInvoiceID(ctx context.Context, raw string) (int64, error)
	CheckTransactionID(ctx context.Context, transactionID string) error
	GetInvoice(ctx context.Context, id int64) (billing.Invoice, error)
	AddInvoicePayment(ctx context.Context, p billing.Payment) error
	LogTransaction(ctx context.Context, gateway string, payload any, status string) error
}

// Locker runs fn while holding an exclusive lock on key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Authorize runs once an invoice has passed the idempotency checks and before
// it is settled. It may fill in the claim's amount and fee. Errors wrapping
// ErrSignatureInvalid end the attempt as signature_invalid.
type Authorize func(ctx context.Context, inv billing.Invoice, claim *PaymentClaim) error

// Reconciler applies payment claims to invoices at most once per payment id.
type Reconciler struct {
	Store Store
	// GatewayName is the display name written to the transaction log.
	GatewayName string
	// Module is recorded with every applied payment.
	Module  string
	Locker  Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// Reconcile validates the claim, runs authorize when given, then settles the
// invoice. Work on one invoice is serialised when a Locker is configured.
func (r *Reconciler) Reconcile(ctx context.Context, claim PaymentClaim, authorize Authorize) Result {
	ctx, span := otel.Tracer("reconcile").Start(ctx, "reconcile.payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.source", string(claim.Source)),
		attribute.String("payment.id", claim.PaymentID),
		attribute.String("invoice.ref", claim.InvoiceRef),
	)

	var res Result
	err := r.exclusive(ctx, claim.InvoiceRef, func(ctx context.Context) error {
		res = r.run(ctx, &claim, authorize)
		return nil
	})
	if err != nil {
		res = Result{Outcome: OutcomeError, Err: fmt.Errorf("acquire invoice lock: %w", err)}
	}

	span.SetAttributes(attribute.String("reconcile.outcome", string(res.Outcome)))
	if res.Outcome == OutcomeError {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "reconcile failed")
	}
	obs.Inc(obs.ReconcileTotal, string(claim.Source), string(res.Outcome))
	r.logger(ctx).Info().
		Str("source", string(claim.Source)).
		Str("invoice_ref", claim.InvoiceRef).
		Str("payment_id", claim.PaymentID).
		Str("outcome", string(res.Outcome)).
		AnErr("cause", res.Err).
		Msg("reconcile_finished")
	return res
}

func (r *Reconciler) run(ctx context.Context, claim *PaymentClaim, authorize Authorize) Result {
	inv, res, ok := r.prepare(ctx, claim)
	if !ok {
		return res
	}
	if authorize != nil {
		if err := authorize(ctx, inv, claim); err != nil {
			return r.rejectAuthorization(ctx, inv, claim, err)
		}
	}
	return r.settle(ctx, inv, claim)
}

// prepare resolves the invoice and stops on anything that makes the claim a
// no-op: unknown invoice, invoice already paid, payment id already recorded.
func (r *Reconciler) prepare(ctx context.Context, claim *PaymentClaim) (billing.Invoice, Result, bool) {
	id, err := r.Store.ValidateInvoiceID(ctx, claim.InvoiceRef)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidInvoiceID) || errors.Is(err, billing.ErrInvoiceNotFound) {
			r.record(ctx, claim.Payload, "Invoice ID Not Found")
			return billing.Invoice{}, Result{Outcome: OutcomeNotFound, Err: err}, false
		}
		return billing.Invoice{}, Result{Outcome: OutcomeError, Err: err}, false
	}

	inv, err := r.Store.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, billing.ErrInvoiceNotFound) {
			r.record(ctx, "Invoice not found for ID: "+strconv.FormatInt(id, 10), billing.LogFailure)
			return billing.Invoice{}, Result{Outcome: OutcomeNotFound, InvoiceID: id, Err: err}, false
		}
		return billing.Invoice{}, Result{Outcome: OutcomeError, InvoiceID: id, Err: err}, false
	}
	if inv.IsPaid() {
		r.record(ctx, fmt.Sprintf("Invoice %d already paid", id), billing.LogInfo)
		return inv, Result{Outcome: OutcomeAlreadyPaid, InvoiceID: id}, false
	}

	if err := r.Store.CheckTransactionID(ctx, claim.PaymentID); err != nil {
		switch {
		case errors.Is(err, billing.ErrDuplicateTransaction):
			return inv, Result{Outcome: OutcomeDuplicate, InvoiceID: id, Err: err}, false
		case errors.Is(err, billing.ErrMissingTransactionID):
			return inv, Result{Outcome: OutcomeIgnored, InvoiceID: id, Err: err}, false
		}
		return inv, Result{Outcome: OutcomeError, InvoiceID: id, Err: err}, false
	}
	return inv, Result{}, true
}

// settle verifies the amount and records the payment. The invoice total, not
// the processor amount, is what gets recorded.
func (r *Reconciler) settle(ctx context.Context, inv billing.Invoice, claim *PaymentClaim) Result {
	if err := VerifyAmount(inv, claim.Amount); err != nil {
		r.record(ctx, claim.Payload, billing.Unsuccessful(err.Error()))
		return Result{Outcome: OutcomeAmountMismatch, InvoiceID: inv.ID, Err: err}
	}

	if claim.Fee.Defaulted {
		r.record(ctx, "Fee Fetch Warning (Ignored): "+errString(claim.Fee.Err), billing.LogWarning)
	}

	err := r.Store.AddInvoicePayment(ctx, billing.Payment{
		InvoiceID:     inv.ID,
		TransactionID: claim.PaymentID,
		Amount:        inv.Total,
		Fee:           claim.Fee.Amount,
		Gateway:       r.Module,
	})
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrInvoiceAlreadyPaid):
		// the other entry point won the race
		r.record(ctx, fmt.Sprintf("Invoice %d already paid", inv.ID), billing.LogInfo)
		return Result{Outcome: OutcomeAlreadyPaid, InvoiceID: inv.ID, Err: err}
	case errors.Is(err, billing.ErrDuplicateTransaction):
		return Result{Outcome: OutcomeDuplicate, InvoiceID: inv.ID, Err: err}
	default:
		r.record(ctx, claim.Payload, billing.Unsuccessful("General Exception. "+err.Error()))
		return Result{Outcome: OutcomeError, InvoiceID: inv.ID, Err: err}
	}

	r.record(ctx, claim.Payload, billing.LogSuccessful)
	return Result{Outcome: OutcomeApplied, InvoiceID: inv.ID}
}

func (r *Reconciler) rejectAuthorization(ctx context.Context, inv billing.Invoice, claim *PaymentClaim, err error) Result {
	if errors.Is(err, ErrSignatureInvalid) {
		msg := fmt.Sprintf("Payment to Razorpay Failed. %s. Please check razorpay dashboard for Payment id: %s", err.Error(), claim.PaymentID)
		r.record(ctx, claim.Payload, billing.Unsuccessful(msg))
		return Result{Outcome: OutcomeSignatureInvalid, InvoiceID: inv.ID, Err: err}
	}
	r.record(ctx, claim.Payload, billing.Unsuccessful("General Exception. "+err.Error()))
	return Result{Outcome: OutcomeError, InvoiceID: inv.ID, Err: err}
}

func (r *Reconciler) exclusive(ctx context.Context, invoiceRef string, fn func(context.Context) error) error {
	if r.Locker == nil {
		return fn(ctx)
	}
	return r.Locker.WithLock(ctx, invoiceRef, r.LockTTL, fn)
}

// Log appends an entry to the transaction log under the gateway display name.
func (r *Reconciler) Log(ctx context.Context, payload any, status string) {
	r.record(ctx, payload, status)
}

func (r *Reconciler) record(ctx context.Context, payload any, status string) {
	if err := r.Store.LogTransaction(ctx, r.GatewayName, payload, status); err != nil {
		r.logger(ctx).Warn().Err(err).Str("status", status).Msg("transaction_log_failed")
	}
}

func (r *Reconciler) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &r.Logger
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
