package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/razorpay-gateway/internal/billing"
	"github.com/noah-isme/razorpay-gateway/internal/common"
	"github.com/noah-isme/razorpay-gateway/internal/config"
	"github.com/noah-isme/razorpay-gateway/internal/obs"
	"github.com/noah-isme/razorpay-gateway/internal/razorpay"
	"github.com/noah-isme/razorpay-gateway/internal/reconcile"
	"github.com/noah-isme/razorpay-gateway/internal/replay"
)

const (
	// SignatureHeader carries the HMAC of the raw webhook body.
	SignatureHeader = "X-Razorpay-Signature"
	// EventIDHeader carries the processor's unique delivery id.
	EventIDHeader = "X-Razorpay-Event-Id"

	eventSignatureFailed = "razorpay.whmcs.signature.verify_failed"
)

// Reconciler settles payment claims and writes the transaction log.
type Reconciler interface {
	Reconcile(ctx context.Context, claim reconcile.PaymentClaim, authorize reconcile.Authorize) reconcile.Result
	Log(ctx context.Context, payload any, status string)
}

// ReplayGuard suppresses repeated webhook deliveries.
type ReplayGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

const defaultInFlightTTL = 5 * time.Minute

// Webhook handles order.paid notifications pushed by Razorpay. A delivery is
// claimed for InFlightTTL while it is processed and for ReplayTTL once settled.
type Webhook struct {
	Gateway     config.Gateway
	Reconciler  Reconciler
	Replay      ReplayGuard
	ReplayTTL   time.Duration
	InFlightTTL time.Duration
	Logger      zerolog.Logger
}

// Handle verifies and dispatches one webhook delivery. Anything that is not an
// authentic order.paid event ends in an empty 204; a bad signature is a 401
// and an infrastructure failure a 500 so Razorpay delivers again.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := contextLogger(ctx, h.Logger)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.ignore(w, log, "", "unreadable_body", err)
		return
	}
	var event razorpay.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.ignore(w, log, "", "malformed_json", err)
		return
	}
	if !h.Gateway.WebhookEnabled {
		h.ignore(w, log, event.Event, "disabled", nil)
		return
	}
	if event.Event == "" {
		h.ignore(w, log, "", "missing_event", nil)
		return
	}
	if len(r.Header.Values(SignatureHeader)) == 0 {
		h.ignore(w, log, event.Event, "missing_signature", nil)
		return
	}
	if h.Gateway.WebhookSecret == "" {
		h.ignore(w, log, event.Event, "missing_secret", nil)
		return
	}

	if err := razorpay.VerifyWebhookSignature(body, r.Header.Get(SignatureHeader), h.Gateway.WebhookSecret); err != nil {
		h.Reconciler.Log(ctx, map[string]any{
			"message": err.Error(),
			"data":    json.RawMessage(body),
			"event":   eventSignatureFailed,
		}, billing.Unsuccessful(err.Error()))
		obs.Inc(obs.PaymentWebhookTotal, event.Event, "signature_invalid")
		log.Warn().Str("event", event.Event).Str("client_ip", common.ClientIP(r)).Msg("webhook_signature_invalid")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	if event.Event != razorpay.EventOrderPaid {
		h.ignore(w, log, event.Event, "unhandled_event", nil)
		return
	}

	replayKey := replay.Key(r.Header.Get(EventIDHeader), body)
	claimed := false
	if h.Replay != nil {
		fresh, err := h.Replay.Acquire(ctx, replayKey, h.inFlightTTL())
		switch {
		case err != nil:
			// reconciliation is idempotent on its own; carry on unguarded
			log.Warn().Err(err).Msg("webhook_replay_guard_unavailable")
		case !fresh:
			h.ignore(w, log, event.Event, "replayed", nil)
			return
		default:
			claimed = true
		}
	}

	payment := event.Payload.Payment.Entity
	if payment.InvoiceID != "" {
		h.Reconciler.Log(ctx, "returning order.paid webhook", "Invoice ID (Subscription) exists")
		h.settleReplay(ctx, log, claimed, replayKey, false)
		h.ignore(w, log, event.Event, "subscription", nil)
		return
	}

	invoiceRef := event.Payload.Order.Entity.Notes[razorpay.NoteInvoiceID]
	res := h.Reconciler.Reconcile(ctx, reconcile.PaymentClaim{
		InvoiceRef: invoiceRef,
		PaymentID:  payment.ID,
		Amount:     &payment.Amount,
		Fee:        reconcile.FeeFromMinor(payment.Fee),
		Source:     reconcile.SourceWebhook,
		Payload: map[string]any{
			"merchant_order_id":   invoiceRef,
			"razorpay_payment_id": payment.ID,
			"webhook":             true,
		},
	}, nil)

	obs.Inc(obs.PaymentWebhookTotal, event.Event, string(res.Outcome))
	h.settleReplay(ctx, log, claimed, replayKey, res.Retryable())
	if res.Retryable() {
		log.Error().Err(res.Err).Str("invoice_ref", invoiceRef).Str("payment_id", payment.ID).Msg("webhook_reconcile_failed")
		common.JSONError(w, http.StatusInternalServerError, "RECONCILE_FAILED", "payment could not be processed", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h Webhook) inFlightTTL() time.Duration {
	if h.InFlightTTL > 0 {
		return h.InFlightTTL
	}
	return defaultInFlightTTL
}

// settleReplay keeps the claim for ReplayTTL after a final outcome and drops
// it after a retryable one so the redelivery is processed.
func (h Webhook) settleReplay(ctx context.Context, log *zerolog.Logger, claimed bool, key string, retry bool) {
	if !claimed {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if retry {
		if err := h.Replay.Release(ctx, key); err != nil {
			log.Warn().Err(err).Msg("webhook_replay_release_failed")
		}
		return
	}
	if err := h.Replay.Complete(ctx, key, h.ReplayTTL); err != nil {
		log.Warn().Err(err).Msg("webhook_replay_complete_failed")
	}
}

// ignore acknowledges a delivery that needs no processing.
func (h Webhook) ignore(w http.ResponseWriter, log *zerolog.Logger, event, reason string, err error) {
	obs.Inc(obs.PaymentWebhookTotal, event, reason)
	log.Debug().Str("event", event).Str("reason", reason).AnErr("cause", err).Msg("webhook_ignored")
	w.WriteHeader(http.StatusNoContent)
}
