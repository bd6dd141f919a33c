package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/razorpay-gateway/internal/billing"
	"github.com/noah-isme/razorpay-gateway/internal/config"
	"github.com/noah-isme/razorpay-gateway/internal/razorpay"
	"github.com/noah-isme/razorpay-gateway/internal/reconcile"
)

const (
	testKeySecret     = "rzp_test_secret"
	testWebhookSecret = "whsec_test"
)

type logEntry struct {
	Payload any
	Status  string
}

// memStore is an in-memory billing system.
type memStore struct {
	mu       sync.Mutex
	invoices map[int64]billing.Invoice
	txIDs    map[string]bool
	payments []billing.Payment
	logs     []logEntry
	orders   map[int64]string
	getErr   error
}

func newMemStore(invoices ...billing.Invoice) *memStore {
	s := &memStore{invoices: map[int64]billing.Invoice{}, txIDs: map[string]bool{}, orders: map[int64]string{}}
	for _, inv := range invoices {
		s.invoices[inv.ID] = inv
	}
	return s
}

func (s *memStore) ValidateInvoiceID(_ context.Context, raw string) (int64, error) {
	id, err := billing.ParseInvoiceID(raw)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[id]; !ok {
		return 0, billing.ErrInvoiceNotFound
	}
	return id, nil
}

func (s *memStore) CheckTransactionID(_ context.Context, txID string) error {
	if txID == "" {
		return billing.ErrMissingTransactionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txIDs[txID] {
		return billing.ErrDuplicateTransaction
	}
	return nil
}

func (s *memStore) GetInvoice(_ context.Context, id int64) (billing.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return billing.Invoice{}, s.getErr
	}
	inv, ok := s.invoices[id]
	if !ok {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *memStore) AddInvoicePayment(_ context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txIDs[p.TransactionID] {
		return billing.ErrDuplicateTransaction
	}
	inv := s.invoices[p.InvoiceID]
	if inv.IsPaid() {
		return billing.ErrInvoiceAlreadyPaid
	}
	inv.Status = billing.StatusPaid
	s.invoices[p.InvoiceID] = inv
	s.txIDs[p.TransactionID] = true
	s.payments = append(s.payments, p)
	return nil
}

func (s *memStore) LogTransaction(_ context.Context, _ string, payload any, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logEntry{Payload: payload, Status: status})
	return nil
}

func (s *memStore) RazorpayOrderID(_ context.Context, invoiceID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orderID, ok := s.orders[invoiceID]
	if !ok {
		return "", billing.ErrOrderMappingNotFound
	}
	return orderID, nil
}

func (s *memStore) SaveRazorpayOrderID(_ context.Context, invoiceID int64, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[invoiceID] = orderID
	return nil
}

func (s *memStore) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, l.Status)
	}
	return out
}

func (s *memStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

// fakeRazorpay verifies signatures with the real HMAC and serves canned API answers.
type fakeRazorpay struct {
	verifier     *razorpay.Client
	payment      razorpay.Payment
	fetchErr     error
	fetchPanic   bool
	fetchCalls   int
	order        razorpay.Order
	createErr    error
	createCalls  int
	fetchedOrder razorpay.Order
	orderErr     error
}

func newFakeRazorpay() *fakeRazorpay {
	return &fakeRazorpay{verifier: razorpay.NewClient("rzp_test_key", testKeySecret, "", nil)}
}

func (f *fakeRazorpay) VerifyPaymentSignature(sig razorpay.PaymentSignature) error {
	return f.verifier.VerifyPaymentSignature(sig)
}

func (f *fakeRazorpay) FetchPayment(_ context.Context, paymentID string) (razorpay.Payment, error) {
	f.fetchCalls++
	if f.fetchPanic {
		panic("payment api exploded")
	}
	if f.fetchErr != nil {
		return razorpay.Payment{}, f.fetchErr
	}
	p := f.payment
	p.ID = paymentID
	return p, nil
}

func (f *fakeRazorpay) CreateOrder(_ context.Context, req razorpay.OrderRequest) (razorpay.Order, error) {
	f.createCalls++
	if f.createErr != nil {
		return razorpay.Order{}, f.createErr
	}
	order := f.order
	order.Amount = req.Amount
	order.Currency = req.Currency
	order.Receipt = req.Receipt
	order.Notes = req.Notes
	return order, nil
}

func (f *fakeRazorpay) FetchOrder(_ context.Context, orderID string) (razorpay.Order, error) {
	if f.orderErr != nil {
		return razorpay.Order{}, f.orderErr
	}
	if f.fetchedOrder.ID != orderID {
		return razorpay.Order{}, errors.New("order not found")
	}
	return f.fetchedOrder, nil
}

func testGateway() config.Gateway {
	return config.Gateway{
		KeyID:          "rzp_test_key",
		KeySecret:      testKeySecret,
		Active:         true,
		WebhookEnabled: true,
		WebhookSecret:  testWebhookSecret,
		Name:           "Razorpay",
		SystemURL:      "https://billing.example.com",
		CallbackURL:    "https://pay.example.com/gateway/razorpay/callback",
	}
}

func unpaid(id int64, total string) billing.Invoice {
	return billing.Invoice{ID: id, UserID: 3, Total: decimal.RequireFromString(total), Currency: "INR", Status: billing.StatusUnpaid}
}

func paid(id int64, total string) billing.Invoice {
	inv := unpaid(id, total)
	inv.Status = billing.StatusPaid
	return inv
}

func newTestReconciler(store reconcile.Store) *reconcile.Reconciler {
	return &reconcile.Reconciler{Store: store, GatewayName: "Razorpay", Module: config.ModuleName, Logger: zerolog.Nop()}
}
