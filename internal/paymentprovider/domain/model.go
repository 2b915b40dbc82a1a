package domain

import (
	"strings"
	"time"
)

type Provider string

const (
	ProviderMercadoPago Provider = "mercadopago"
	ProviderManual      Provider = "manual"
)

// ParseProvider accepts the configured provider names case-insensitively.
func ParseProvider(raw string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderMercadoPago:
		return ProviderMercadoPago, true
	case ProviderManual:
		return ProviderManual, true
	default:
		return "", false
	}
}

func (p Provider) Automated() bool {
	return p == ProviderMercadoPago
}

// Settings is the singleton admin-managed provider configuration row.
type Settings struct {
	ID                    int       `gorm:"primaryKey"`
	ActiveProvider        string    `gorm:"type:text;not null"`
	ManualPixKey          string    `gorm:"type:text;not null"`
	ManualPixCopyPaste    string    `gorm:"type:text;not null"`
	ManualPixDisplayName  string    `gorm:"type:text;not null"`
	ManualPixInstructions string    `gorm:"type:text;not null"`
	UpdatedBy             *string   `gorm:"type:text"`
	UpdatedAt             time.Time `gorm:"not null"`
}

func (Settings) TableName() string { return "payment_provider_settings" }

const SettingsRowID = 1

type ManualPix struct {
	Key          string `json:"pix_key,omitempty"`
	CopyPaste    string `json:"pix_copy_paste,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type SnapshotSource string

const (
	SourceEnvOverride SnapshotSource = "env_override"
	SourceSettings    SnapshotSource = "settings"
	SourceDefault     SnapshotSource = "default"
)

// Snapshot is the payment configuration taken once per request. Provider is
// the effective provider after the credential check.
type Snapshot struct {
	Provider      Provider
	Requested     Provider
	Source        SnapshotSource
	Downgraded    bool
	AccessToken   string
	WebhookSecret string
	Manual        ManualPix
	OrderExpiry   time.Duration
}
