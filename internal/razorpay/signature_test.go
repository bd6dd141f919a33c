package razorpay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"order.paid"}`)
	sig := Sign(string(body), "whsec")

	require.NoError(t, VerifyWebhookSignature(body, sig, "whsec"))
	require.ErrorIs(t, VerifyWebhookSignature(body, sig, "other"), ErrSignatureMismatch)
	require.ErrorIs(t, VerifyWebhookSignature([]byte(`{"event":"order.paid "}`), sig, "whsec"), ErrSignatureMismatch)
	require.ErrorIs(t, VerifyWebhookSignature(body, "", "whsec"), ErrSignatureMismatch)
	require.ErrorIs(t, VerifyWebhookSignature(body, sig, ""), ErrSignatureMismatch)
}

func TestSignKnownVector(t *testing.T) {
	require.Equal(t, "07a74f0d54ff0d49f7e8c6670ee30f6854f5b787d46475823b38bec4e41ed8c5", Sign("order_1|pay_1", "rzp_test_secret"))
}

func TestVerifyPaymentSignature(t *testing.T) {
	client := NewClient("rzp_test_key", "rzp_test_secret", "", nil)
	sig := Sign("order_1|pay_1", "rzp_test_secret")

	require.NoError(t, client.VerifyPaymentSignature(PaymentSignature{OrderID: "order_1", PaymentID: "pay_1", Signature: sig}))
	require.ErrorIs(t, client.VerifyPaymentSignature(PaymentSignature{OrderID: "order_2", PaymentID: "pay_1", Signature: sig}), ErrSignatureMismatch)
	require.ErrorIs(t, client.VerifyPaymentSignature(PaymentSignature{OrderID: "", PaymentID: "pay_1", Signature: sig}), ErrSignatureMismatch)
}
