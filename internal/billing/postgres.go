package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DB is the subset of pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements the billing collaborators on top of the billing database.
type PostgresStore struct {
	DB DB
}

// NewPostgresStore wraps the provided connection pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

const (
	invoiceExistsSQL     = `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`
	transactionExistsSQL = `SELECT EXISTS (SELECT 1 FROM invoice_payments WHERE transaction_id = $1)`
	getInvoiceSQL        = `SELECT id, user_id, total::text, currency, status FROM invoices WHERE id = $1`
	markInvoicePaidSQL   = `UPDATE invoices SET status = 'Paid', date_paid = now(), updated_at = now() WHERE id = $1 AND status <> 'Paid'`
	insertPaymentSQL     = `INSERT INTO invoice_payments (invoice_id, transaction_id, amount, fee, gateway) VALUES ($1, $2, $3::numeric, $4::numeric, $5)`
	insertGatewayLogSQL  = `INSERT INTO gateway_log (gateway, payload, status) VALUES ($1, $2, $3)`
	getOrderMappingSQL   = `SELECT razorpay_order_id FROM razorpay_order_map WHERE invoice_id = $1`
	upsertOrderMapSQL    = `INSERT INTO razorpay_order_map (invoice_id, razorpay_order_id) VALUES ($1, $2)
ON CONFLICT (invoice_id) DO UPDATE SET razorpay_order_id = EXCLUDED.razorpay_order_id, updated_at = now()`
)

// ParseInvoiceID converts a callback invoice reference into an invoice id.
func ParseInvoiceID(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, ErrInvalidInvoiceID
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInvoiceID, raw)
	}
	return id, nil
}

// ValidateInvoiceID checks that the reference is well formed and names an existing invoice.
func (s *PostgresStore) ValidateInvoiceID(ctx context.Context, raw string) (int64, error) {
	id, err := ParseInvoiceID(raw)
	if err != nil {
		return 0, err
	}
	var exists bool
	if err := s.DB.QueryRow(ctx, invoiceExistsSQL, id).Scan(&exists); err != nil {
		return 0, fmt.Errorf("billing: check invoice %d: %w", id, err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: %d", ErrInvoiceNotFound, id)
	}
	return id, nil
}

// CheckTransactionID fails with ErrDuplicateTransaction when the gateway transaction was already applied.
func (s *PostgresStore) CheckTransactionID(ctx context.Context, transactionID string) error {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return ErrMissingTransactionID
	}
	var exists bool
	if err := s.DB.QueryRow(ctx, transactionExistsSQL, transactionID).Scan(&exists); err != nil {
		return fmt.Errorf("billing: check transaction %s: %w", transactionID, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, transactionID)
	}
	return nil
}

// GetInvoice loads an invoice by id.
func (s *PostgresStore) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	var (
		inv    Invoice
		total  string
		status string
	)
	err := s.DB.QueryRow(ctx, getInvoiceSQL, id).Scan(&inv.ID, &inv.UserID, &total, &inv.Currency, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, fmt.Errorf("%w: %d", ErrInvoiceNotFound, id)
		}
		return Invoice{}, fmt.Errorf("billing: load invoice %d: %w", id, err)
	}
	inv.Total, err = decimal.NewFromString(total)
	if err != nil {
		return Invoice{}, fmt.Errorf("billing: invoice %d total %q: %w", id, total, err)
	}
	inv.Status = InvoiceStatus(status)
	return inv, nil
}

// AddInvoicePayment records the payment and marks the invoice paid in one transaction.
// The conditional status update and the unique transaction id are what keep two
// concurrent callers from applying the same payment twice.
func (s *PostgresStore) AddInvoicePayment(ctx context.Context, p Payment) error {
	if strings.TrimSpace(p.TransactionID) == "" {
		return ErrMissingTransactionID
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("billing: begin payment tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, markInvoicePaidSQL, p.InvoiceID)
	if err != nil {
		return fmt.Errorf("billing: mark invoice %d paid: %w", p.InvoiceID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, invoiceExistsSQL, p.InvoiceID).Scan(&exists); err != nil {
			return fmt.Errorf("billing: check invoice %d: %w", p.InvoiceID, err)
		}
		if !exists {
			return fmt.Errorf("%w: %d", ErrInvoiceNotFound, p.InvoiceID)
		}
		return fmt.Errorf("%w: %d", ErrInvoiceAlreadyPaid, p.InvoiceID)
	}

	if _, err := tx.Exec(ctx, insertPaymentSQL, p.InvoiceID, p.TransactionID, p.Amount.StringFixed(2), p.Fee.StringFixed(2), p.Gateway); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, p.TransactionID)
		}
		return fmt.Errorf("billing: insert payment %s: %w", p.TransactionID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("billing: commit payment %s: %w", p.TransactionID, err)
	}
	return nil
}

// LogTransaction appends an entry to the gateway transaction log.
func (s *PostgresStore) LogTransaction(ctx context.Context, gateway string, payload any, status string) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("billing: encode gateway log: %w", err)
	}
	if _, err := s.DB.Exec(ctx, insertGatewayLogSQL, gateway, encoded, status); err != nil {
		return fmt.Errorf("billing: write gateway log: %w", err)
	}
	return nil
}

// RazorpayOrderID returns the Razorpay order created for the invoice.
func (s *PostgresStore) RazorpayOrderID(ctx context.Context, invoiceID int64) (string, error) {
	var orderID string
	if err := s.DB.QueryRow(ctx, getOrderMappingSQL, invoiceID).Scan(&orderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: invoice %d", ErrOrderMappingNotFound, invoiceID)
		}
		return "", fmt.Errorf("billing: load order mapping %d: %w", invoiceID, err)
	}
	return orderID, nil
}

// SaveRazorpayOrderID records (or replaces) the Razorpay order created for the invoice.
func (s *PostgresStore) SaveRazorpayOrderID(ctx context.Context, invoiceID int64, orderID string) error {
	if _, err := s.DB.Exec(ctx, upsertOrderMapSQL, invoiceID, orderID); err != nil {
		return fmt.Errorf("billing: save order mapping %d: %w", invoiceID, err)
	}
	return nil
}
