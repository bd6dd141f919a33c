package razorpay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// EventOrderPaid is the webhook event emitted once a payment is captured against an order.
const EventOrderPaid = "order.paid"

// NoteInvoiceID is the order note carrying the billing invoice id.
const NoteInvoiceID = "whmcs_order_id"

// Notes holds the free-form key/value notes attached to Razorpay entities.
// The API encodes empty notes as [] and may send numeric values, so decoding
// accepts both shapes and stringifies scalars.
type Notes map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*n = nil
		return nil
	}
	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		if len(list) > 0 {
			return fmt.Errorf("razorpay: notes array with %d entries", len(list))
		}
		*n = Notes{}
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	out := make(Notes, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			out[key] = ""
		case string:
			out[key] = v
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[key] = strconv.FormatBool(v)
		default:
			encoded, _ := json.Marshal(v)
			out[key] = string(encoded)
		}
	}
	*n = out
	return nil
}

// Payment is a Razorpay payment entity.
type Payment struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	OrderID   string `json:"order_id"`
	InvoiceID string `json:"invoice_id"`
	Method    string `json:"method"`
	Fee       *int64 `json:"fee"`
	Tax       *int64 `json:"tax"`
	Notes     Notes  `json:"notes"`
	CreatedAt int64  `json:"created_at"`
}

// Order is a Razorpay order entity.
type Order struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Notes      Notes  `json:"notes"`
	CreatedAt  int64  `json:"created_at"`
}

// OrderRequest is the body of an order creation call. Amount is in minor units.
type OrderRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Receipt        string            `json:"receipt,omitempty"`
	PaymentCapture int               `json:"payment_capture"`
	Notes          map[string]string `json:"notes,omitempty"`
}

// WebhookEvent is the envelope of a webhook notification.
type WebhookEvent struct {
	Entity    string         `json:"entity"`
	AccountID string         `json:"account_id"`
	Event     string         `json:"event"`
	Contains  []string       `json:"contains"`
	Payload   WebhookPayload `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

// WebhookPayload carries the entities attached to a webhook event.
type WebhookPayload struct {
	Payment struct {
		Entity Payment `json:"entity"`
	} `json:"payment"`
	Order struct {
		Entity Order `json:"entity"`
	} `json:"order"`
}

// PaymentSignature is the checkout response posted back after a successful payment.
type PaymentSignature struct {
	OrderID   string
	PaymentID string
	Signature string
}

// APIError is the error body returned by the Razorpay API.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Field       string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("razorpay: http %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("razorpay: http %d %s: %s", e.StatusCode, e.Code, e.Description)
}
