package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	Get(ctx context.Context) (*SettingsResponse, error)
	Update(ctx context.Context, actorID string, req UpdateRequest) (*SettingsResponse, error)
}

type SettingsResponse struct {
	ActiveProvider          Provider       `json:"active_provider"`
	EffectiveProvider       Provider       `json:"effective_provider"`
	Source                  SnapshotSource `json:"source"`
	Downgraded              bool           `json:"downgraded"`
	MercadoPagoConfigured   bool           `json:"mercadopago_configured"`
	WebhookSecretConfigured bool           `json:"webhook_secret_configured"`
	Manual                  ManualPix      `json:"manual"`
	UpdatedBy               *string        `json:"updated_by,omitempty"`
	UpdatedAt               *time.Time     `json:"updated_at,omitempty"`
}

// UpdateRequest patches the stored settings; nil fields are left unchanged.
type UpdateRequest struct {
	ActiveProvider        *string `json:"active_provider"`
	ManualPixKey          *string `json:"manual_pix_key"`
	ManualPixCopyPaste    *string `json:"manual_pix_copy_paste"`
	ManualPixDisplayName  *string `json:"manual_pix_display_name"`
	ManualPixInstructions *string `json:"manual_pix_instructions"`
}

var (
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrInvalidActor    = errors.New("invalid_actor")
)
