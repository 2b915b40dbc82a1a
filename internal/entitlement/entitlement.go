// Package entitlement calls the external operation that grants access once
// an order is paid.
package entitlement

import (
	"context"
	"errors"
	"time"
)

// Grant describes the paid order handed to the entitlement service. The
// receiving side treats OrderID as the idempotency key.
type Grant struct {
	OrderID        string    `json:"order_id"`
	ClientID       string    `json:"client_id"`
	ProfessionalID *string   `json:"professional_id,omitempty"`
	ProductKey     string    `json:"product_key"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	PaidAt         time.Time `json:"paid_at"`
}

type Applier interface {
	Apply(ctx context.Context, grant Grant) error
}

var (
	ErrNotConfigured = errors.New("entitlement_not_configured")
	ErrApplyFailed   = errors.New("entitlement_apply_failed")
)
