package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Resolve(ctx context.Context, req ResolveRequest) (*ResolvedPrice, error)
	UpsertRule(ctx context.Context, actor Actor, req UpsertRuleRequest) (*RuleResponse, error)
	DeactivateRule(ctx context.Context, actor Actor, id string) error
	ListRules(ctx context.Context, actor Actor, productKey string) ([]RuleResponse, error)
}

type ResolveRequest struct {
	ClientID       string
	ProductKey     string
	ProfessionalID *string
}

// ResolvedPrice is computed per call and never persisted.
type ResolvedPrice struct {
	PriceCents     int64        `json:"price_cents"`
	Currency       string       `json:"currency"`
	SourceScope    Scope        `json:"source_scope"`
	SourceOwnerID  *string      `json:"source_owner_id,omitempty"`
	SourceClientID *string      `json:"source_client_id,omitempty"`
	PricingRuleID  snowflake.ID `json:"pricing_rule_id"`
}

// Actor is the caller managing rules. Professionals may only manage rows
// they own; admins manage every scope.
type Actor struct {
	ID      string
	IsAdmin bool
}

type UpsertRuleRequest struct {
	Scope      Scope   `json:"scope"`
	OwnerID    *string `json:"owner_id"`
	ClientID   *string `json:"client_id"`
	ProductKey string  `json:"product_key"`
	PriceCents int64   `json:"price_cents"`
	Currency   string  `json:"currency"`
}

type RuleResponse struct {
	ID         snowflake.ID `json:"id"`
	Scope      Scope        `json:"scope"`
	OwnerID    *string      `json:"owner_id,omitempty"`
	ClientID   *string      `json:"client_id,omitempty"`
	ProductKey string       `json:"product_key"`
	PriceCents int64        `json:"price_cents"`
	Currency   string       `json:"currency"`
	Active     bool         `json:"active"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

var (
	ErrNoPricingRuleFound = errors.New("pricing_rule_not_found")
	ErrInvalidClient      = errors.New("invalid_client")
	ErrInvalidProductKey  = errors.New("invalid_product_key")
	ErrInvalidScope       = errors.New("invalid_scope")
	ErrInvalidOwner       = errors.New("invalid_owner")
	ErrInvalidPrice       = errors.New("invalid_price")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrInvalidID          = errors.New("invalid_id")
	ErrForbidden          = errors.New("pricing_rule_forbidden")
	ErrConflict           = errors.New("pricing_rule_conflict")
	ErrNotFound           = errors.New("not_found")
)
