package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Scope string

const (
	ScopeGlobal         Scope = "global"
	ScopeProfessional   Scope = "professional"
	ScopeClientOverride Scope = "client_override"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeProfessional, ScopeClientOverride:
		return true
	default:
		return false
	}
}

const DefaultCurrency = "BRL"

// PricingRule is one price for a product in a given scope. Rules are never
// deleted; replacing a price deactivates the previous row.
type PricingRule struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Scope      Scope        `gorm:"type:text;not null"`
	OwnerID    *string      `gorm:"type:text"`
	ClientID   *string      `gorm:"type:text"`
	ProductKey string       `gorm:"type:text;not null"`
	PriceCents int64        `gorm:"not null"`
	Currency   string       `gorm:"type:text;not null"`
	Active     bool         `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null"`
	UpdatedAt  time.Time    `gorm:"not null"`
}

func (PricingRule) TableName() string { return "pricing_rules" }

// RuleFilter narrows active rule lookups. Nil pointers are not filtered on.
type RuleFilter struct {
	Scope      Scope
	ProductKey string
	OwnerID    *string
	ClientID   *string
}
