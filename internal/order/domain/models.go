package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusManualReview Status = "manual_review"
	StatusPaid         Status = "paid"
	StatusExpired      Status = "expired"
	StatusCanceled     Status = "canceled"
)

// Order is never deleted; it is the audit trail of a purchase.
type Order struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	ClientID              string       `gorm:"type:text;not null"`
	ProfessionalID        *string      `gorm:"type:text"`
	ProductKey            string       `gorm:"type:text;not null"`
	AmountCents           int64        `gorm:"not null"`
	Currency              string       `gorm:"type:text;not null"`
	Status                Status       `gorm:"type:text;not null"`
	Provider              string       `gorm:"type:text;not null"`
	ProviderReference     *string      `gorm:"type:text"`
	PixCopyPaste          *string      `gorm:"type:text"`
	PixQRImageURL         *string      `gorm:"column:pix_qr_image_url;type:text"`
	ExpiresAt             *time.Time
	PricingRuleID         snowflake.ID `gorm:"not null"`
	PricingScope          string       `gorm:"type:text;not null"`
	FailureReason         *string      `gorm:"type:text"`
	PaidAt                *time.Time
	EntitlementsClaimedAt *time.Time
	EntitlementsAppliedAt *time.Time
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time `gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) OwnedBy(clientID string) bool {
	return o != nil && o.ClientID == clientID
}

func (o *Order) Expired(now time.Time) bool {
	return o != nil && o.Status == StatusPending && o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}

type Payer struct {
	Email string
	Name  string
}

// Viewer is the caller reading an order. Admins may read any order.
type Viewer struct {
	ID      string
	IsAdmin bool
}
