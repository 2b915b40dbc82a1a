package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/pixorder/internal/payment/domain"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	Get(ctx context.Context, viewer Viewer, orderID string) (*OrderResponse, error)
	Refresh(ctx context.Context, viewer Viewer, orderID string) (*OrderResponse, error)
	Load(ctx context.Context, id snowflake.ID) (*Order, error)
	MarkPaid(ctx context.Context, id snowflake.ID, paidAt time.Time) (*MarkPaidResult, error)
	TransitionStatus(ctx context.Context, id snowflake.ID, to Status, reason string) (bool, error)
	Reconcile(ctx context.Context, id snowflake.ID, family paymentdomain.StatusFamily, paidAt *time.Time) (*ReconcileResult, error)
	LocateForProviderPayment(ctx context.Context, provider, externalReference, providerReference string) (*Order, error)
}

// CreateGuard throttles and serializes order creation per client.
type CreateGuard interface {
	AllowClient(ctx context.Context, clientID string) (bool, error)
	TryLock(ctx context.Context, clientID, productKey string) (string, bool, error)
	Release(ctx context.Context, clientID, productKey, token string) error
}

type CreateRequest struct {
	ClientID       string
	ProductKey     string
	ProfessionalID *string
	Payer          Payer
}

type ManualInstructions struct {
	PixKey       string `json:"pix_key,omitempty"`
	CopyPaste    string `json:"pix_copy_paste"`
	DisplayName  string `json:"display_name,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type CreateResult struct {
	OrderID       string              `json:"order_id"`
	Status        Status              `json:"status"`
	Provider      string              `json:"provider"`
	AmountCents   int64               `json:"amount_cents"`
	Currency      string              `json:"currency"`
	PricingScope  string              `json:"pricing_scope"`
	PixCopyPaste  *string             `json:"pix_copy_paste,omitempty"`
	PixQRImageURL *string             `json:"pix_qr_image_url,omitempty"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
	Manual        *ManualInstructions `json:"manual,omitempty"`
}

type OrderResponse struct {
	ID                string     `json:"id"`
	ClientID          string     `json:"client_id"`
	ProfessionalID    *string    `json:"professional_id,omitempty"`
	ProductKey        string     `json:"product_key"`
	AmountCents       int64      `json:"amount_cents"`
	Currency          string     `json:"currency"`
	Status            Status     `json:"status"`
	Provider          string     `json:"provider"`
	ProviderReference *string    `json:"provider_reference,omitempty"`
	PixCopyPaste      *string    `json:"pix_copy_paste,omitempty"`
	PixQRImageURL     *string    `json:"pix_qr_image_url,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func NewOrderResponse(o *Order) *OrderResponse {
	return &OrderResponse{
		ID:                o.ID.String(),
		ClientID:          o.ClientID,
		ProfessionalID:    o.ProfessionalID,
		ProductKey:        o.ProductKey,
		AmountCents:       o.AmountCents,
		Currency:          o.Currency,
		Status:            o.Status,
		Provider:          o.Provider,
		ProviderReference: o.ProviderReference,
		PixCopyPaste:      o.PixCopyPaste,
		PixQRImageURL:     o.PixQRImageURL,
		ExpiresAt:         o.ExpiresAt,
		PaidAt:            o.PaidAt,
		CreatedAt:         o.CreatedAt,
	}
}

type MarkPaidResult struct {
	Order               *Order
	AlreadyPaid         bool
	EntitlementsApplied bool
}

const (
	OutcomePaid        = "paid"
	OutcomeAlreadyPaid = "already_paid"
	OutcomeExpired     = "expired"
	OutcomeCanceled    = "canceled"
	OutcomePending     = "pending"
	OutcomeIgnored     = "ignored"
)

type ReconcileResult struct {
	OrderID snowflake.ID
	Outcome string
}

var (
	ErrOrderNotFound          = errors.New("order_not_found")
	ErrInvalidOrderID         = errors.New("invalid_order_id")
	ErrInvalidClient          = errors.New("invalid_client")
	ErrForbidden              = errors.New("order_forbidden")
	ErrInvalidTransition      = errors.New("invalid_status_transition")
	ErrProviderFailure        = errors.New("payment_provider_failure")
	ErrManualPixNotConfigured = errors.New("manual_pix_not_configured")
	ErrCreationInProgress     = errors.New("order_creation_in_progress")
	ErrRateLimited            = errors.New("order_rate_limited")
)
