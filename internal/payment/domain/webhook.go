package domain

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"gorm.io/gorm"
)

type Repository interface {
	InsertDelivery(ctx context.Context, db *gorm.DB, delivery *WebhookDelivery) error
	ListDeliveries(ctx context.Context, db *gorm.DB, provider, dataID string) ([]WebhookDelivery, error)
}

// WebhookRequest is an inbound provider notification as received over HTTP.
type WebhookRequest struct {
	Provider string
	Query    url.Values
	Headers  http.Header
	Body     []byte
}

type WebhookResult struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
}

type WebhookService interface {
	Handle(ctx context.Context, req WebhookRequest) (*WebhookResult, error)
}

const (
	WebhookOutcomeIgnored          = "ignored"
	WebhookOutcomeInvalidSignature = "invalid_signature"
	WebhookOutcomeProviderError    = "provider_error"
	WebhookOutcomeOrderNotFound    = "order_not_found"
)

var (
	ErrWebhookMissingID       = errors.New("webhook_missing_data_id")
	ErrInvalidSignature       = errors.New("invalid_signature")
	ErrWebhookProviderFailure = errors.New("webhook_provider_unavailable")
)
