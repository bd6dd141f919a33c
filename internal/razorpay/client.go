package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultBaseURL is the production Razorpay API host.
const DefaultBaseURL = "https://api.razorpay.com"

// Doer executes outbound HTTP requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to the Razorpay REST API using a key id/secret pair.
type Client struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	HTTP      Doer
}

// NewClient constructs a Client for the given credentials.
func NewClient(keyID, keySecret, baseURL string, doer Doer) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		KeyID:     strings.TrimSpace(keyID),
		KeySecret: strings.TrimSpace(keySecret),
		BaseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:      doer,
	}
}

// FetchPayment retrieves a payment by its id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, errors.New("razorpay: payment id is required")
	}
	ctx, span := otel.Tracer("razorpay.Client").Start(ctx, "Razorpay.FetchPayment")
	defer span.End()
	span.SetAttributes(attribute.String("razorpay.payment_id", paymentID))

	var payment Payment
	if err := c.call(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &payment); err != nil {
		span.RecordError(err)
		return Payment{}, err
	}
	return payment, nil
}

// CreateOrder opens a Razorpay order for the requested amount.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Amount <= 0 {
		return Order{}, errors.New("razorpay: order amount must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" {
		req.Currency = "INR"
	}
	ctx, span := otel.Tracer("razorpay.Client").Start(ctx, "Razorpay.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("razorpay.receipt", req.Receipt), attribute.Int64("razorpay.amount", req.Amount))

	var order Order
	if err := c.call(ctx, http.MethodPost, "/v1/orders", req, &order); err != nil {
		span.RecordError(err)
		return Order{}, err
	}
	return order, nil
}

// FetchOrder retrieves an order by its id.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, errors.New("razorpay: order id is required")
	}
	ctx, span := otel.Tracer("razorpay.Client").Start(ctx, "Razorpay.FetchOrder")
	defer span.End()
	span.SetAttributes(attribute.String("razorpay.order_id", orderID))

	var order Order
	if err := c.call(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		span.RecordError(err)
		return Order{}, err
	}
	return order, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	if c.HTTP == nil {
		return errors.New("razorpay: http client not configured")
	}
	if c.KeyID == "" || c.KeySecret == "" {
		return errors.New("razorpay: api credentials not configured")
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("razorpay: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("razorpay: build request: %w", err)
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("razorpay: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("razorpay: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(payload, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Description = envelope.Error.Description
			apiErr.Field = envelope.Error.Field
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("razorpay: decode response: %w", err)
	}
	return nil
}
