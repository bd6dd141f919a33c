package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/razorpay-gateway/internal/billing"
	"github.com/noah-isme/razorpay-gateway/internal/common"
	"github.com/noah-isme/razorpay-gateway/internal/config"
	"github.com/noah-isme/razorpay-gateway/internal/obs"
	"github.com/noah-isme/razorpay-gateway/internal/razorpay"
	"github.com/noah-isme/razorpay-gateway/internal/reconcile"
	"github.com/noah-isme/razorpay-gateway/internal/session"
)

// Payments is the slice of the Razorpay API the redirect callback needs.
type Payments interface {
	VerifyPaymentSignature(sig razorpay.PaymentSignature) error
	FetchPayment(ctx context.Context, paymentID string) (razorpay.Payment, error)
}

// OrderSessions reads the order id saved on the customer session at checkout.
type OrderSessions interface {
	OrderID(r *http.Request, invoiceID int64) (string, bool)
}

// OrderMapping looks up the order created for an invoice when the session has
// lost it.
type OrderMapping interface {
	RazorpayOrderID(ctx context.Context, invoiceID int64) (string, error)
}

// Redirect handles the browser returning from Razorpay checkout.
type Redirect struct {
	Gateway    config.Gateway
	Reconciler Reconciler
	Payments   Payments
	Sessions   OrderSessions
	Orders     OrderMapping
	Validate   *validator.Validate
	Logger     zerolog.Logger
}

type callbackForm struct {
	MerchantOrderID string `validate:"required,numeric"`
	PaymentID       string `validate:"required"`
	Signature       string
	OrderID         string
}

func (f callbackForm) payload() map[string]string {
	return map[string]string{
		"merchant_order_id":   f.MerchantOrderID,
		"razorpay_payment_id": f.PaymentID,
		"razorpay_order_id":   f.OrderID,
		"razorpay_signature":  f.Signature,
	}
}

// Handle reconciles the returned payment and always sends the browser to the
// invoice page, whatever the outcome.
func (h Redirect) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.Gateway.Active {
		common.JSONError(w, http.StatusServiceUnavailable, "MODULE_NOT_ACTIVATED", "Module Not Activated", nil)
		return
	}
	ctx := r.Context()
	log := contextLogger(ctx, h.Logger)

	form := callbackForm{
		MerchantOrderID: common.RequestValue(r, "merchant_order_id"),
		PaymentID:       common.RequestValue(r, "razorpay_payment_id"),
		Signature:       common.RequestValue(r, "razorpay_signature"),
		OrderID:         common.RequestValue(r, "razorpay_order_id"),
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("invoice_ref", form.MerchantOrderID).Msg("redirect_panic")
			obs.Inc(obs.ReconcileTotal, string(reconcile.SourceRedirect), string(reconcile.OutcomeError))
			h.Reconciler.Log(ctx, form.payload(), billing.Unsuccessful(fmt.Sprintf("General Exception. %v", rec)))
		}
		http.Redirect(w, r, h.Gateway.InvoiceURL(form.MerchantOrderID), http.StatusFound)
	}()

	if err := validatorOrDefault(h.Validate).Struct(form); err != nil {
		log.Debug().Err(err).Msg("redirect_validation_failed")
		h.Reconciler.Log(ctx, err.Error(), "Validation Failure")
		return
	}

	res := h.Reconciler.Reconcile(ctx, reconcile.PaymentClaim{
		InvoiceRef: form.MerchantOrderID,
		PaymentID:  form.PaymentID,
		Source:     reconcile.SourceRedirect,
		Payload:    form.payload(),
	}, h.authorize(r, form))
	if res.Outcome == reconcile.OutcomeError {
		log.Error().Err(res.Err).Str("invoice_ref", form.MerchantOrderID).Str("payment_id", form.PaymentID).Msg("redirect_reconcile_failed")
	}
}

// authorize checks the checkout signature against the order id the server
// issued (never the one posted back), then looks up the processor fee. A failed
// fee lookup defaults the fee to zero instead of failing the payment.
func (h Redirect) authorize(r *http.Request, form callbackForm) reconcile.Authorize {
	return func(ctx context.Context, inv billing.Invoice, claim *reconcile.PaymentClaim) error {
		orderID := h.resolveOrderID(ctx, r, inv.ID)
		if err := h.Payments.VerifyPaymentSignature(razorpay.PaymentSignature{
			OrderID:   orderID,
			PaymentID: form.PaymentID,
			Signature: form.Signature,
		}); err != nil {
			return fmt.Errorf("%w: %v", reconcile.ErrSignatureInvalid, err)
		}

		payment, err := h.Payments.FetchPayment(ctx, form.PaymentID)
		if err != nil {
			obs.Inc(obs.FeeLookupTotal, "defaulted")
			contextLogger(ctx, h.Logger).Warn().Err(err).Str("payment_id", form.PaymentID).Msg("fee_lookup_failed")
			claim.Fee = reconcile.FeeDefaulted(err)
			return nil
		}
		obs.Inc(obs.FeeLookupTotal, "ok")
		claim.Fee = reconcile.FeeFromMinor(payment.Fee)
		claim.Amount = &payment.Amount
		return nil
	}
}

func (h Redirect) resolveOrderID(ctx context.Context, r *http.Request, invoiceID int64) string {
	if h.Sessions != nil {
		if orderID, ok := h.Sessions.OrderID(r, invoiceID); ok {
			return orderID
		}
	}
	h.Reconciler.Log(ctx, session.Key(invoiceID), "Session not found")
	if h.Orders == nil {
		return ""
	}
	orderID, err := h.Orders.RazorpayOrderID(ctx, invoiceID)
	if err != nil {
		h.Reconciler.Log(ctx, err.Error(), "Unsuccessful - Fetch Order")
		return ""
	}
	return orderID
}
