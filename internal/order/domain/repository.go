package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ProviderPayment struct {
	Reference string
	CopyPaste string
	QRImage   *string
	ExpiresAt *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByProviderReference(ctx context.Context, db *gorm.DB, provider, reference string) ([]Order, error)
	AttachProviderPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, payment ProviderPayment, now time.Time) (int64, error)
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt, now time.Time) (int64, error)
	TransitionFromPending(ctx context.Context, db *gorm.DB, id snowflake.ID, to Status, reason *string, now time.Time) (int64, error)
	ClaimEntitlements(ctx context.Context, db *gorm.DB, id snowflake.ID, now, staleBefore time.Time) (int64, error)
	ReleaseEntitlementClaim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkEntitlementsApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
}
