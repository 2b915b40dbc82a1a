package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	"gorm.io/gorm"
)

const orderColumns = `id, client_id, professional_id, product_key, amount_cents, currency, status,
	provider, provider_reference, pix_copy_paste, pix_qr_image_url, expires_at, pricing_rule_id,
	pricing_scope, failure_reason, paid_at, entitlements_claimed_at, entitlements_applied_at,
	created_at, updated_at`

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, o *orderdomain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		o.ClientID,
		o.ProfessionalID,
		o.ProductKey,
		o.AmountCents,
		o.Currency,
		o.Status,
		o.Provider,
		o.ProviderReference,
		o.PixCopyPaste,
		o.PixQRImageURL,
		o.ExpiresAt,
		o.PricingRuleID,
		o.PricingScope,
		o.FailureReason,
		o.PaidAt,
		o.EntitlementsClaimedAt,
		o.EntitlementsAppliedAt,
		o.CreatedAt,
		o.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	var o orderdomain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`,
		id,
	).Scan(&o).Error
	if err != nil {
		return nil, err
	}
	if o.ID == 0 {
		return nil, nil
	}
	return &o, nil
}

func (r *repo) FindByProviderReference(ctx context.Context, db *gorm.DB, provider, reference string) ([]orderdomain.Order, error) {
	var items []orderdomain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders
		 WHERE provider = ? AND provider_reference = ?
		 ORDER BY id DESC`,
		provider,
		reference,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) AttachProviderPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, p orderdomain.ProviderPayment, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET provider_reference = ?, pix_copy_paste = ?, pix_qr_image_url = ?,
		     expires_at = COALESCE(?, expires_at), updated_at = ?
		 WHERE id = ? AND status = ?`,
		p.Reference,
		p.CopyPaste,
		p.QRImage,
		p.ExpiresAt,
		now,
		id,
		orderdomain.StatusPending,
	)
	return res.RowsAffected, res.Error
}

// MarkPaid is the only statement that writes status = 'paid'. It claims the
// entitlement effects in the same update so exactly one caller applies them.
func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, paid_at = ?, entitlements_claimed_at = ?, failure_reason = NULL, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		orderdomain.StatusPaid,
		paidAt,
		now,
		now,
		id,
		orderdomain.StatusPaid,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) TransitionFromPending(ctx context.Context, db *gorm.DB, id snowflake.ID, to orderdomain.Status, reason *string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, failure_reason = COALESCE(?, failure_reason), updated_at = ?
		 WHERE id = ? AND status <> ? AND status = ?`,
		to,
		reason,
		now,
		id,
		orderdomain.StatusPaid,
		orderdomain.StatusPending,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ClaimEntitlements(ctx context.Context, db *gorm.DB, id snowflake.ID, now, staleBefore time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET entitlements_claimed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND entitlements_applied_at IS NULL
		   AND (entitlements_claimed_at IS NULL OR entitlements_claimed_at < ?)`,
		now,
		now,
		id,
		orderdomain.StatusPaid,
		staleBefore,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ReleaseEntitlementClaim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET entitlements_claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND entitlements_applied_at IS NULL`,
		now,
		id,
	).Error
}

func (r *repo) MarkEntitlementsApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET entitlements_applied_at = ?, updated_at = ?
		 WHERE id = ? AND entitlements_applied_at IS NULL`,
		now,
		now,
		id,
	).Error
}
