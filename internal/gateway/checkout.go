package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/razorpay-gateway/internal/billing"
	"github.com/noah-isme/razorpay-gateway/internal/common"
	"github.com/noah-isme/razorpay-gateway/internal/config"
	"github.com/noah-isme/razorpay-gateway/internal/obs"
	"github.com/noah-isme/razorpay-gateway/internal/razorpay"
	"github.com/noah-isme/razorpay-gateway/internal/reconcile"
	"github.com/noah-isme/razorpay-gateway/internal/resilience"
)

// Orders creates and looks up Razorpay orders.
type Orders interface {
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (razorpay.Order, error)
	FetchOrder(ctx context.Context, orderID string) (razorpay.Order, error)
}

// CheckoutStore is the billing data needed to open a checkout.
type CheckoutStore interface {
	ValidateInvoiceID(ctx context.Context, raw string) (int64, error)
	GetInvoice(ctx context.Context, id int64) (billing.Invoice, error)
	RazorpayOrderID(ctx context.Context, invoiceID int64) (string, error)
	SaveRazorpayOrderID(ctx context.Context, invoiceID int64, orderID string) error
}

// OrderSessionWriter remembers the order id on the customer session.
type OrderSessionWriter interface {
	SaveOrderID(w http.ResponseWriter, r *http.Request, invoiceID int64, orderID string) error
}

// Checkout opens a Razorpay order for an unpaid invoice and returns the
// parameters the hosted checkout needs.
type Checkout struct {
	Gateway  config.Gateway
	Store    CheckoutStore
	Orders   Orders
	Sessions OrderSessionWriter
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type checkoutRequest struct {
	InvoiceID string `json:"invoiceId" validate:"required,numeric"`
}

// CheckoutResponse carries the hosted checkout options.
type CheckoutResponse struct {
	Key         string            `json:"key"`
	OrderID     string            `json:"order_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Name        string            `json:"name"`
	Receipt     string            `json:"receipt"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Notes       map[string]string `json:"notes"`
}

// CreateOrder handles POST /gateway/razorpay/orders.
func (h Checkout) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if !h.Gateway.Active {
		common.JSONError(w, http.StatusServiceUnavailable, "MODULE_NOT_ACTIVATED", "Module Not Activated", nil)
		return
	}
	ctx := r.Context()
	log := contextLogger(ctx, h.Logger)

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON payload", nil)
		return
	}
	req.InvoiceID = strings.TrimSpace(req.InvoiceID)
	if err := validatorOrDefault(h.Validate).Struct(req); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invoiceId must be a numeric invoice id", nil)
		return
	}

	inv, err := h.payableInvoice(ctx, req.InvoiceID)
	if err != nil {
		obs.Inc(obs.CheckoutOrderTotal, "rejected")
		common.WriteError(w, err)
		return
	}
	amount := reconcile.ToMinorUnits(inv.Total)
	currency := inv.Currency
	if currency == "" {
		currency = "INR"
	}

	order, reused, err := h.order(ctx, inv, amount, currency)
	if err != nil {
		obs.Inc(obs.CheckoutOrderTotal, "failed")
		log.Error().Err(err).Int64("invoice_id", inv.ID).Msg("checkout_order_failed")
		common.WriteError(w, gatewayError(err))
		return
	}
	if h.Sessions != nil {
		if err := h.Sessions.SaveOrderID(w, r, inv.ID, order.ID); err != nil {
			log.Warn().Err(err).Int64("invoice_id", inv.ID).Msg("checkout_session_save_failed")
		}
	}

	status := http.StatusCreated
	result := "created"
	if reused {
		status = http.StatusOK
		result = "reused"
	}
	obs.Inc(obs.CheckoutOrderTotal, result)
	common.JSON(w, status, CheckoutResponse{
		Key:         h.Gateway.KeyID,
		OrderID:     order.ID,
		Amount:      amount,
		Currency:    currency,
		Name:        h.Gateway.Name,
		Receipt:     strconv.FormatInt(inv.ID, 10),
		CallbackURL: h.callbackURL(inv.ID),
		Notes:       map[string]string{razorpay.NoteInvoiceID: strconv.FormatInt(inv.ID, 10)},
	})
}

func (h Checkout) payableInvoice(ctx context.Context, ref string) (billing.Invoice, error) {
	id, err := h.Store.ValidateInvoiceID(ctx, ref)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidInvoiceID) || errors.Is(err, billing.ErrInvoiceNotFound) {
			return billing.Invoice{}, common.NewAppError("INVOICE_NOT_FOUND", "invoice not found", http.StatusNotFound, err)
		}
		return billing.Invoice{}, err
	}
	inv, err := h.Store.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, billing.ErrInvoiceNotFound) {
			return billing.Invoice{}, common.NewAppError("INVOICE_NOT_FOUND", "invoice not found", http.StatusNotFound, err)
		}
		return billing.Invoice{}, err
	}
	switch {
	case inv.IsPaid():
		return billing.Invoice{}, common.NewAppError("INVOICE_PAID", "invoice already paid", http.StatusConflict, nil)
	case inv.Status != billing.StatusUnpaid:
		return billing.Invoice{}, common.NewAppError("INVOICE_NOT_PAYABLE", "invoice is "+strings.ToLower(string(inv.Status)), http.StatusConflict, nil)
	case !inv.Total.IsPositive():
		return billing.Invoice{}, common.NewAppError("INVOICE_NOT_PAYABLE", "invoice total must be positive", http.StatusUnprocessableEntity, nil)
	}
	return inv, nil
}

// order reuses the mapped order while it is still open for the same amount,
// and creates a new one otherwise.
func (h Checkout) order(ctx context.Context, inv billing.Invoice, amount int64, currency string) (razorpay.Order, bool, error) {
	if existing, err := h.Store.RazorpayOrderID(ctx, inv.ID); err == nil && existing != "" {
		order, err := h.Orders.FetchOrder(ctx, existing)
		if err == nil && order.Amount == amount && order.Status != "paid" {
			return order, true, nil
		}
	} else if err != nil && !errors.Is(err, billing.ErrOrderMappingNotFound) {
		return razorpay.Order{}, false, err
	}

	receipt := strconv.FormatInt(inv.ID, 10)
	order, err := h.Orders.CreateOrder(ctx, razorpay.OrderRequest{
		Amount:         amount,
		Currency:       currency,
		Receipt:        receipt,
		PaymentCapture: 1,
		Notes:          map[string]string{razorpay.NoteInvoiceID: receipt},
	})
	if err != nil {
		return razorpay.Order{}, false, err
	}
	if err := h.Store.SaveRazorpayOrderID(ctx, inv.ID, order.ID); err != nil {
		return razorpay.Order{}, false, err
	}
	return order, false, nil
}

func (h Checkout) callbackURL(invoiceID int64) string {
	base := strings.TrimSpace(h.Gateway.CallbackURL)
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("merchant_order_id", strconv.FormatInt(invoiceID, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func gatewayError(err error) error {
	var apiErr *razorpay.APIError
	switch {
	case errors.As(err, &apiErr):
		return common.NewAppError("GATEWAY_ERROR", apiErr.Description, http.StatusBadGateway, err)
	case errors.Is(err, resilience.ErrOpenCircuit):
		return common.NewAppError("GATEWAY_UNAVAILABLE", "payment gateway temporarily unavailable", http.StatusServiceUnavailable, err)
	}
	return err
}
