package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureMismatch is returned when a Razorpay signature fails verification.
var ErrSignatureMismatch = errors.New("razorpay: signature verification failed")

// VerifyWebhookSignature checks the X-Razorpay-Signature header against the raw webhook body.
func VerifyWebhookSignature(body []byte, signature, secret string) error {
	return verify(string(body), signature, secret)
}

// VerifyPaymentSignature checks the checkout signature, computed over
// "order_id|payment_id" with the API key secret.
func (c *Client) VerifyPaymentSignature(sig PaymentSignature) error {
	if strings.TrimSpace(sig.OrderID) == "" || strings.TrimSpace(sig.PaymentID) == "" {
		return ErrSignatureMismatch
	}
	return verify(sig.OrderID+"|"+sig.PaymentID, sig.Signature, c.KeySecret)
}

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(payload, signature, secret string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" || secret == "" {
		return ErrSignatureMismatch
	}
	expected := Sign(payload, secret)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}
