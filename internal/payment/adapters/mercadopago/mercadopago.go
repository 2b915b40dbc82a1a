package mercadopago

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/pixorder/internal/payment/domain"
)

const (
	ProviderName   = "mercadopago"
	defaultBaseURL = "https://api.mercadopago.com"
	defaultTimeout = 15 * time.Second

	// Mercado Pago rejects RFC3339 without milliseconds.
	expirationLayout = "2006-01-02T15:04:05.000-07:00"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

// NewGateway never fails on a missing token; calls that need one return
// ErrInvalidConfig so webhook verification still works without it.
func (f *Factory) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{
		accessToken: strings.TrimSpace(cfg.AccessToken),
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

type Gateway struct {
	accessToken string
	baseURL     string
	client      *http.Client
}

func (g *Gateway) Provider() string {
	return ProviderName
}

type paymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description,omitempty"`
	PaymentMethodID   string  `json:"payment_method_id"`
	Payer             payer   `json:"payer"`
	ExternalReference string  `json:"external_reference,omitempty"`
	NotificationURL   string  `json:"notification_url,omitempty"`
	DateOfExpiration  string  `json:"date_of_expiration,omitempty"`
}

type payer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
}

type paymentResponse struct {
	ID                 int64              `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	TransactionAmount  float64            `json:"transaction_amount"`
	CurrencyID         string             `json:"currency_id"`
	ExternalReference  string             `json:"external_reference"`
	DateOfExpiration   string             `json:"date_of_expiration"`
	DateApproved       string             `json:"date_approved"`
	PointOfInteraction pointOfInteraction `json:"point_of_interaction"`
}

type pointOfInteraction struct {
	TransactionData struct {
		QRCode       string `json:"qr_code"`
		QRCodeBase64 string `json:"qr_code_base64"`
	} `json:"transaction_data"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

func (g *Gateway) CreatePixPayment(ctx context.Context, req paymentdomain.PixPaymentRequest) (*paymentdomain.PixPayment, error) {
	if req.AmountCents <= 0 || strings.TrimSpace(req.PayerEmail) == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}

	body := paymentRequest{
		TransactionAmount: float64(req.AmountCents) / 100,
		Description:       strings.TrimSpace(req.Description),
		PaymentMethodID:   "pix",
		Payer: payer{
			Email:     strings.TrimSpace(req.PayerEmail),
			FirstName: strings.TrimSpace(req.PayerName),
		},
		ExternalReference: strings.TrimSpace(req.ExternalReference),
		NotificationURL:   strings.TrimSpace(req.NotificationURL),
	}
	if req.ExpiresAt != nil {
		body.DateOfExpiration = req.ExpiresAt.Format(expirationLayout)
	}

	return g.doRequest(ctx, http.MethodPost, "/v1/payments", body, req.IdempotencyKey)
}

func (g *Gateway) GetPayment(ctx context.Context, providerID string) (*paymentdomain.PixPayment, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}
	return g.doRequest(ctx, http.MethodGet, "/v1/payments/"+providerID, nil, "")
}

func (g *Gateway) doRequest(ctx context.Context, method, path string, body any, idempotencyKey string) (*paymentdomain.PixPayment, error) {
	if g.accessToken == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var mpErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&mpErr); err != nil {
			return nil, fmt.Errorf("%w: status %d", paymentdomain.ErrProviderRequest, resp.StatusCode)
		}
		message := strings.TrimSpace(mpErr.Message)
		if message == "" {
			message = strings.TrimSpace(mpErr.Error)
		}
		if message == "" {
			message = "status " + strconv.Itoa(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrProviderRequest, message)
	}

	var payment paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrProviderResponse, err)
	}
	if payment.ID == 0 {
		return nil, paymentdomain.ErrProviderResponse
	}
	return toPixPayment(payment), nil
}

func toPixPayment(p paymentResponse) *paymentdomain.PixPayment {
	out := &paymentdomain.PixPayment{
		ProviderID:        strconv.FormatInt(p.ID, 10),
		Status:            strings.ToLower(strings.TrimSpace(p.Status)),
		StatusDetail:      strings.ToLower(strings.TrimSpace(p.StatusDetail)),
		QRCodeText:        p.PointOfInteraction.TransactionData.QRCode,
		QRCodeImageBase64: p.PointOfInteraction.TransactionData.QRCodeBase64,
		ExternalReference: strings.TrimSpace(p.ExternalReference),
		AmountCents:       int64(math.Round(p.TransactionAmount * 100)),
		Currency:          strings.ToUpper(strings.TrimSpace(p.CurrencyID)),
		ExpiresAt:         parseTime(p.DateOfExpiration),
		ApprovedAt:        parseTime(p.DateApproved),
	}
	if out.Status == "cancelled" && out.StatusDetail == "expired" {
		out.Status = "expired"
	}
	return out
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{expirationLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func (g *Gateway) MapStatus(status string) paymentdomain.StatusFamily {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved":
		return paymentdomain.StatusPaid
	case "expired":
		return paymentdomain.StatusExpired
	case "cancelled", "rejected", "refunded", "charged_back":
		return paymentdomain.StatusCanceled
	default:
		return paymentdomain.StatusPending
	}
}

// VerifyWebhookSignature checks the x-signature header against the manifest
// "id:{dataID};request-id:{x-request-id};ts:{ts};". Any missing input fails.
func (g *Gateway) VerifyWebhookSignature(headers http.Header, secret string, dataID string) bool {
	secret = strings.TrimSpace(secret)
	dataID = strings.TrimSpace(dataID)
	requestID := strings.TrimSpace(headers.Get("x-request-id"))
	if secret == "" || dataID == "" || requestID == "" {
		return false
	}

	ts, v1, err := parseSignature(headers.Get("x-signature"))
	if err != nil {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(v1)), []byte(expected))
}

var errMalformedSignature = errors.New("malformed_signature")

func parseSignature(header string) (string, string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "", errMalformedSignature
	}

	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return "", "", errMalformedSignature
	}
	return ts, v1, nil
}
