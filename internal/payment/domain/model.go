package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookDelivery is a verified provider notification as received.
type WebhookDelivery struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider   string         `json:"provider" gorm:"type:text;not null"`
	DataID     string         `json:"data_id" gorm:"type:text;not null"`
	RequestID  string         `json:"request_id" gorm:"type:text;not null"`
	EventType  string         `json:"event_type" gorm:"type:text;not null"`
	OrderID    *snowflake.ID  `json:"order_id"`
	Outcome    string         `json:"outcome" gorm:"type:text;not null"`
	Payload    datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt time.Time      `json:"received_at" gorm:"not null"`
}

func (WebhookDelivery) TableName() string { return "payment_webhook_events" }

// StatusFamily is the provider-neutral payment state.
type StatusFamily string

const (
	StatusPending  StatusFamily = "pending"
	StatusPaid     StatusFamily = "paid"
	StatusExpired  StatusFamily = "expired"
	StatusCanceled StatusFamily = "canceled"
)

type PixPaymentRequest struct {
	AmountCents       int64
	Currency          string
	Description       string
	PayerEmail        string
	PayerName         string
	ExternalReference string
	NotificationURL   string
	ExpiresAt         *time.Time
	IdempotencyKey    string
}

type PixPayment struct {
	ProviderID        string
	Status            string
	StatusDetail      string
	QRCodeText        string
	QRCodeImageBase64 string
	ExpiresAt         *time.Time
	ExternalReference string
	AmountCents       int64
	Currency          string
	ApprovedAt        *time.Time
}
