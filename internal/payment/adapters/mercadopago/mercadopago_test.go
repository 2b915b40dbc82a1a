package mercadopago

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/pixorder/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, baseURL, token string) paymentdomain.Gateway {
	t.Helper()
	gw, err := NewFactory().NewGateway(paymentdomain.GatewayConfig{
		AccessToken: token,
		BaseURL:     baseURL,
		Timeout:     2 * time.Second,
	})
	require.NoError(t, err)
	return gw
}

func TestCreatePixPayment(t *testing.T) {
	expiresAt := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer APP_USR-test", r.Header.Get("Authorization"))
		assert.Equal(t, "order-42", r.Header.Get("X-Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 1234567890,
			"status": "pending",
			"status_detail": "pending_waiting_transfer",
			"transaction_amount": 99.9,
			"currency_id": "BRL",
			"external_reference": "order-42",
			"date_of_expiration": "2026-03-01T09:30:00.000-03:00",
			"point_of_interaction": {"transaction_data": {"qr_code": "00020126580014br.gov.bcb.pix", "qr_code_base64": "iVBORw0KGgo="}}
		}`))
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL, "APP_USR-test")
	payment, err := gw.CreatePixPayment(context.Background(), paymentdomain.PixPaymentRequest{
		AmountCents:       9990,
		Currency:          "BRL",
		Description:       "Plano mensal",
		PayerEmail:        "client@example.com",
		PayerName:         "Ana",
		ExternalReference: "order-42",
		NotificationURL:   "https://pay.example.com/api/payments/webhooks?provider=mercadopago",
		ExpiresAt:         &expiresAt,
		IdempotencyKey:    "order-42",
	})
	require.NoError(t, err)

	assert.Equal(t, 99.9, got["transaction_amount"])
	assert.Equal(t, "pix", got["payment_method_id"])
	assert.Equal(t, "order-42", got["external_reference"])
	assert.Equal(t, "2026-03-01T12:30:00.000+00:00", got["date_of_expiration"])

	assert.Equal(t, "1234567890", payment.ProviderID)
	assert.Equal(t, "pending", payment.Status)
	assert.Equal(t, int64(9990), payment.AmountCents)
	assert.Equal(t, "00020126580014br.gov.bcb.pix", payment.QRCodeText)
	assert.Equal(t, "iVBORw0KGgo=", payment.QRCodeImageBase64)
	require.NotNil(t, payment.ExpiresAt)
	assert.True(t, payment.ExpiresAt.Equal(expiresAt))
}

func TestCreatePixPaymentProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid payer email","error":"bad_request","status":400}`))
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL, "APP_USR-test")
	_, err := gw.CreatePixPayment(context.Background(), paymentdomain.PixPaymentRequest{
		AmountCents:    100,
		PayerEmail:     "x@example.com",
		IdempotencyKey: "k",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, paymentdomain.ErrProviderRequest))
	assert.Contains(t, err.Error(), "invalid payer email")
}

func TestGatewayRequiresAccessToken(t *testing.T) {
	gw := newTestGateway(t, "http://127.0.0.1:1", "")
	_, err := gw.GetPayment(context.Background(), "1")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestGetPaymentReportsExpiredCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/555":
			_, _ = w.Write([]byte(`{"id":555,"status":"cancelled","status_detail":"expired","transaction_amount":10,"external_reference":"o-1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"payment not found"}`))
		}
	}))
	defer srv.Close()

	gw := newTestGateway(t, srv.URL, "APP_USR-test")
	payment, err := gw.GetPayment(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, "expired", payment.Status)
	assert.Equal(t, paymentdomain.StatusExpired, gw.MapStatus(payment.Status))
	assert.Equal(t, "o-1", payment.ExternalReference)

	_, err = gw.GetPayment(context.Background(), "999")
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
}

func TestMapStatus(t *testing.T) {
	gw := newTestGateway(t, "", "")
	tests := map[string]paymentdomain.StatusFamily{
		"approved":     paymentdomain.StatusPaid,
		"APPROVED":     paymentdomain.StatusPaid,
		"expired":      paymentdomain.StatusExpired,
		"cancelled":    paymentdomain.StatusCanceled,
		"rejected":     paymentdomain.StatusCanceled,
		"refunded":     paymentdomain.StatusCanceled,
		"charged_back": paymentdomain.StatusCanceled,
		"pending":      paymentdomain.StatusPending,
		"in_process":   paymentdomain.StatusPending,
		"authorized":   paymentdomain.StatusPending,
		"in_mediation": paymentdomain.StatusPending,
		"something":    paymentdomain.StatusPending,
	}
	for status, want := range tests {
		if got := gw.MapStatus(status); got != want {
			t.Fatalf("MapStatus(%q) = %q, want %q", status, got, want)
		}
	}
}

func signHeaders(secret, dataID, requestID, ts string) http.Header {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)))
	headers := http.Header{}
	headers.Set("x-request-id", requestID)
	headers.Set("x-signature", fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func TestVerifyWebhookSignature(t *testing.T) {
	gw := newTestGateway(t, "", "")
	headers := signHeaders("whsec", "123", "req-1", "1700000000")

	assert.True(t, gw.VerifyWebhookSignature(headers, "whsec", "123"))
	assert.False(t, gw.VerifyWebhookSignature(headers, "other", "123"))
	assert.False(t, gw.VerifyWebhookSignature(headers, "whsec", "124"))
	assert.False(t, gw.VerifyWebhookSignature(headers, "", "123"))
	assert.False(t, gw.VerifyWebhookSignature(headers, "whsec", ""))

	noRequestID := headers.Clone()
	noRequestID.Del("x-request-id")
	assert.False(t, gw.VerifyWebhookSignature(noRequestID, "whsec", "123"))

	noV1 := headers.Clone()
	noV1.Set("x-signature", "ts=1700000000")
	assert.False(t, gw.VerifyWebhookSignature(noV1, "whsec", "123"))

	noTS := headers.Clone()
	noTS.Set("x-signature", "v1=abc")
	assert.False(t, gw.VerifyWebhookSignature(noTS, "whsec", "123"))
}
