package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/razorpay-gateway/internal/common"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	require.Equal(t, "10.0.0.1", common.ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.4")
	require.Equal(t, "198.51.100.4", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.2")
	require.Equal(t, "203.0.113.9", common.ClientIP(req))
}

func TestRequestValuePrefersQuery(t *testing.T) {
	form := url.Values{"merchant_order_id": {"7"}, "razorpay_payment_id": {"pay_1"}}
	req := httptest.NewRequest(http.MethodPost, "/callback?merchant_order_id=42", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	require.Equal(t, "42", common.RequestValue(req, "merchant_order_id"))
	require.Equal(t, "pay_1", common.RequestValue(req, "razorpay_payment_id"))
	require.Empty(t, common.RequestValue(req, "razorpay_signature"))
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, common.NewAppError("SIGNATURE_INVALID", "signature mismatch", http.StatusUnauthorized, errors.New("hmac")))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "SIGNATURE_INVALID", body.Error.Code)

	rr = httptest.NewRecorder()
	wrapped := fmt.Errorf("checkout: %w", common.NewAppError("INVOICE_PAID", "invoice already paid", http.StatusConflict, nil))
	common.WriteError(rr, wrapped)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	common.WriteError(rr, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestSha256Hex(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", common.Sha256Hex(nil))
}
