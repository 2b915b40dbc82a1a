package domain

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Gateway is the outbound contract for an automated PIX provider.
type Gateway interface {
	Provider() string
	CreatePixPayment(ctx context.Context, req PixPaymentRequest) (*PixPayment, error)
	GetPayment(ctx context.Context, providerID string) (*PixPayment, error)
	VerifyWebhookSignature(headers http.Header, secret string, dataID string) bool
	MapStatus(status string) StatusFamily
}

type GatewayConfig struct {
	AccessToken string
	BaseURL     string
	Timeout     time.Duration
}

type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig) (Gateway, error)
}

var (
	ErrProviderNotFound = errors.New("payment_provider_not_found")
	ErrInvalidConfig    = errors.New("payment_provider_invalid_config")
	ErrInvalidRequest   = errors.New("payment_request_invalid")
	ErrProviderRequest  = errors.New("payment_provider_request_failed")
	ErrProviderResponse = errors.New("payment_provider_response_invalid")
	ErrPaymentNotFound  = errors.New("payment_not_found")
)
