package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rule *PricingRule) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PricingRule, error)
	FindActive(ctx context.Context, db *gorm.DB, filter RuleFilter) (*PricingRule, error)
	DeactivateMatching(ctx context.Context, db *gorm.DB, filter RuleFilter, now time.Time) (int64, error)
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]PricingRule, error)
}

type ListFilter struct {
	OwnerID    *string
	ProductKey string
	ActiveOnly bool
}
