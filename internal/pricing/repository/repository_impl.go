package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/smallbiznis/pixorder/internal/pricing/domain"
	"gorm.io/gorm"
)

const ruleColumns = `id, scope, owner_id, client_id, product_key, price_cents, currency, active, created_at, updated_at`

type repo struct{}

func Provide() pricingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rule *pricingdomain.PricingRule) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO pricing_rules (`+ruleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.Scope,
		rule.OwnerID,
		rule.ClientID,
		rule.ProductKey,
		rule.PriceCents,
		rule.Currency,
		rule.Active,
		rule.CreatedAt,
		rule.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*pricingdomain.PricingRule, error) {
	var rule pricingdomain.PricingRule
	err := db.WithContext(ctx).Raw(
		`SELECT `+ruleColumns+` FROM pricing_rules WHERE id = ?`,
		id,
	).Scan(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == 0 {
		return nil, nil
	}
	return &rule, nil
}

// FindActive returns the newest active rule matching the filter. Snowflake
// ids are time ordered, so the highest id is the latest replacement.
func (r *repo) FindActive(ctx context.Context, db *gorm.DB, filter pricingdomain.RuleFilter) (*pricingdomain.PricingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM pricing_rules
		WHERE active = ? AND scope = ? AND product_key = ?`
	args := []any{true, filter.Scope, filter.ProductKey}
	if filter.OwnerID != nil {
		query += ` AND owner_id = ?`
		args = append(args, *filter.OwnerID)
	}
	if filter.ClientID != nil {
		query += ` AND client_id = ?`
		args = append(args, *filter.ClientID)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	var rule pricingdomain.PricingRule
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rule).Error; err != nil {
		return nil, err
	}
	if rule.ID == 0 {
		return nil, nil
	}
	return &rule, nil
}

// DeactivateMatching deactivates the active rule for an exact
// (scope, owner, client, product) tuple; nil owner or client match NULL.
func (r *repo) DeactivateMatching(ctx context.Context, db *gorm.DB, filter pricingdomain.RuleFilter, now time.Time) (int64, error) {
	query := `UPDATE pricing_rules SET active = ?, updated_at = ?
		WHERE active = ? AND scope = ? AND product_key = ?`
	args := []any{false, now, true, filter.Scope, filter.ProductKey}
	if filter.OwnerID != nil {
		query += ` AND owner_id = ?`
		args = append(args, *filter.OwnerID)
	} else {
		query += ` AND owner_id IS NULL`
	}
	if filter.ClientID != nil {
		query += ` AND client_id = ?`
		args = append(args, *filter.ClientID)
	} else {
		query += ` AND client_id IS NULL`
	}

	result := db.WithContext(ctx).Exec(query, args...)
	return result.RowsAffected, result.Error
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pricing_rules SET active = ?, updated_at = ? WHERE id = ? AND active = ?`,
		false,
		now,
		id,
		true,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter pricingdomain.ListFilter) ([]pricingdomain.PricingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM pricing_rules WHERE 1 = 1`
	args := []any{}
	if filter.OwnerID != nil {
		query += ` AND owner_id = ?`
		args = append(args, *filter.OwnerID)
	}
	if filter.ProductKey != "" {
		query += ` AND product_key = ?`
		args = append(args, filter.ProductKey)
	}
	if filter.ActiveOnly {
		query += ` AND active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY product_key ASC, id DESC`

	var items []pricingdomain.PricingRule
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
