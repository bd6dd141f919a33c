// Package session keeps the Razorpay order created for an invoice in the
// customer's signed session cookie, so the redirect callback can verify the
// payment signature without a database lookup.
package session

import (
	"net/http"
	"strconv"

	"github.com/gorilla/sessions"
)

// CookieName is the session cookie carrying gateway state.
const CookieName = "rzp_gateway"

// Key returns the session key holding the order id for an invoice.
func Key(invoiceID int64) string {
	return "razorpay_order_id" + strconv.FormatInt(invoiceID, 10)
}

// Store reads and writes order ids on the customer session.
type Store struct {
	Sessions sessions.Store
	Name     string
}

// New builds a cookie-backed store signed with secret. Secure cookies are sent
// with SameSite=None so they survive the processor's cross-site POST back.
func New(secret string, secure bool) *Store {
	cookies := sessions.NewCookieStore([]byte(secret))
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if secure {
		cookies.Options.SameSite = http.SameSiteNoneMode
	}
	return &Store{Sessions: cookies, Name: CookieName}
}

// OrderID returns the order id saved for the invoice, if any. Unreadable or
// tampered cookies count as absent.
func (s *Store) OrderID(r *http.Request, invoiceID int64) (string, bool) {
	if s == nil || s.Sessions == nil {
		return "", false
	}
	sess, err := s.Sessions.Get(r, s.name())
	if err != nil {
		return "", false
	}
	orderID, ok := sess.Values[Key(invoiceID)].(string)
	return orderID, ok && orderID != ""
}

// SaveOrderID stores the order id for the invoice on the session cookie.
func (s *Store) SaveOrderID(w http.ResponseWriter, r *http.Request, invoiceID int64, orderID string) error {
	if s == nil || s.Sessions == nil {
		return nil
	}
	// a stale cookie signed with an old key yields a fresh session alongside the error
	sess, _ := s.Sessions.Get(r, s.name())
	sess.Values[Key(invoiceID)] = orderID
	return sess.Save(r, w)
}

func (s *Store) name() string {
	if s.Name == "" {
		return CookieName
	}
	return s.Name
}
