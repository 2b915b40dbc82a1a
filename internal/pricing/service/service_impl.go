package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixorder/internal/clock"
	pricingdomain "github.com/smallbiznis/pixorder/internal/pricing/domain"
	"github.com/smallbiznis/pixorder/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  pricingdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  pricingdomain.Repository
}

func New(p Params) pricingdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("pricing.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Resolve picks the effective price: a client override beats the
// professional's rule, which beats the global rule.
func (s *Service) Resolve(ctx context.Context, req pricingdomain.ResolveRequest) (*pricingdomain.ResolvedPrice, error) {
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		return nil, pricingdomain.ErrInvalidClient
	}
	productKey, err := pricingdomain.NormalizeProductKey(req.ProductKey)
	if err != nil {
		return nil, err
	}
	professionalID := trimOptional(req.ProfessionalID)

	rule, err := s.repo.FindActive(ctx, s.db, pricingdomain.RuleFilter{
		Scope:      pricingdomain.ScopeClientOverride,
		ProductKey: productKey,
		ClientID:   &clientID,
		OwnerID:    professionalID,
	})
	if err != nil {
		return nil, err
	}

	if rule == nil && professionalID != nil {
		rule, err = s.repo.FindActive(ctx, s.db, pricingdomain.RuleFilter{
			Scope:      pricingdomain.ScopeProfessional,
			ProductKey: productKey,
			OwnerID:    professionalID,
		})
		if err != nil {
			return nil, err
		}
	}

	if rule == nil {
		rule, err = s.repo.FindActive(ctx, s.db, pricingdomain.RuleFilter{
			Scope:      pricingdomain.ScopeGlobal,
			ProductKey: productKey,
		})
		if err != nil {
			return nil, err
		}
	}

	if rule == nil {
		s.log.Info("no pricing rule",
			zap.String("product_key", productKey),
			zap.Bool("with_professional", professionalID != nil),
		)
		return nil, pricingdomain.ErrNoPricingRuleFound
	}

	return &pricingdomain.ResolvedPrice{
		PriceCents:     rule.PriceCents,
		Currency:       rule.Currency,
		SourceScope:    rule.Scope,
		SourceOwnerID:  rule.OwnerID,
		SourceClientID: rule.ClientID,
		PricingRuleID:  rule.ID,
	}, nil
}

// UpsertRule replaces the active rule for the exact tuple in one transaction.
func (s *Service) UpsertRule(ctx context.Context, actor pricingdomain.Actor, req pricingdomain.UpsertRuleRequest) (*pricingdomain.RuleResponse, error) {
	rule, err := s.buildRule(actor, req)
	if err != nil {
		return nil, err
	}

	filter := pricingdomain.RuleFilter{
		Scope:      rule.Scope,
		ProductKey: rule.ProductKey,
		OwnerID:    rule.OwnerID,
		ClientID:   rule.ClientID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.DeactivateMatching(ctx, tx, filter, rule.UpdatedAt); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, rule)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, pricingdomain.ErrConflict
		}
		return nil, err
	}

	s.log.Info("pricing rule upserted",
		zap.String("rule_id", rule.ID.String()),
		zap.String("scope", string(rule.Scope)),
		zap.String("product_key", rule.ProductKey),
		zap.Int64("price_cents", rule.PriceCents),
		zap.String("actor_id", actor.ID),
	)
	return toResponse(rule), nil
}

func (s *Service) DeactivateRule(ctx context.Context, actor pricingdomain.Actor, id string) error {
	ruleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || ruleID == 0 {
		return pricingdomain.ErrInvalidID
	}

	rule, err := s.repo.FindByID(ctx, s.db, ruleID)
	if err != nil {
		return err
	}
	if rule == nil {
		return pricingdomain.ErrNotFound
	}
	if !actor.IsAdmin && (rule.OwnerID == nil || *rule.OwnerID != actor.ID) {
		return pricingdomain.ErrForbidden
	}

	changed, err := s.repo.Deactivate(ctx, s.db, ruleID, s.clock.Now())
	if err != nil {
		return err
	}
	if changed {
		s.log.Info("pricing rule deactivated",
			zap.String("rule_id", ruleID.String()),
			zap.String("actor_id", actor.ID),
		)
	}
	return nil
}

func (s *Service) ListRules(ctx context.Context, actor pricingdomain.Actor, productKey string) ([]pricingdomain.RuleResponse, error) {
	filter := pricingdomain.ListFilter{}
	if productKey = strings.TrimSpace(productKey); productKey != "" {
		key, err := pricingdomain.NormalizeProductKey(productKey)
		if err != nil {
			return nil, err
		}
		filter.ProductKey = key
	}
	if !actor.IsAdmin {
		if strings.TrimSpace(actor.ID) == "" {
			return nil, pricingdomain.ErrForbidden
		}
		owner := actor.ID
		filter.OwnerID = &owner
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	resp := make([]pricingdomain.RuleResponse, 0, len(items))
	for i := range items {
		resp = append(resp, *toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) buildRule(actor pricingdomain.Actor, req pricingdomain.UpsertRuleRequest) (*pricingdomain.PricingRule, error) {
	scope := pricingdomain.Scope(strings.TrimSpace(string(req.Scope)))
	if !scope.Valid() {
		return nil, pricingdomain.ErrInvalidScope
	}
	productKey, err := pricingdomain.NormalizeProductKey(req.ProductKey)
	if err != nil {
		return nil, err
	}
	if req.PriceCents < 1 {
		return nil, pricingdomain.ErrInvalidPrice
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	ownerID := trimOptional(req.OwnerID)
	clientID := trimOptional(req.ClientID)

	if !actor.IsAdmin {
		if scope == pricingdomain.ScopeGlobal || strings.TrimSpace(actor.ID) == "" {
			return nil, pricingdomain.ErrForbidden
		}
		if ownerID != nil && *ownerID != actor.ID {
			return nil, pricingdomain.ErrForbidden
		}
		self := actor.ID
		ownerID = &self
	}

	switch scope {
	case pricingdomain.ScopeGlobal:
		if ownerID != nil || clientID != nil {
			return nil, pricingdomain.ErrInvalidOwner
		}
	case pricingdomain.ScopeProfessional:
		if ownerID == nil {
			return nil, pricingdomain.ErrInvalidOwner
		}
		if clientID != nil {
			return nil, pricingdomain.ErrInvalidClient
		}
	case pricingdomain.ScopeClientOverride:
		if clientID == nil {
			return nil, pricingdomain.ErrInvalidClient
		}
	}

	now := s.clock.Now()
	return &pricingdomain.PricingRule{
		ID:         s.genID.Generate(),
		Scope:      scope,
		OwnerID:    ownerID,
		ClientID:   clientID,
		ProductKey: productKey,
		PriceCents: req.PriceCents,
		Currency:   currency,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func normalizeCurrency(raw string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		return pricingdomain.DefaultCurrency, nil
	}
	if len(currency) != 3 {
		return "", pricingdomain.ErrInvalidCurrency
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return "", pricingdomain.ErrInvalidCurrency
		}
	}
	return currency, nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func toResponse(rule *pricingdomain.PricingRule) *pricingdomain.RuleResponse {
	return &pricingdomain.RuleResponse{
		ID:         rule.ID,
		Scope:      rule.Scope,
		OwnerID:    rule.OwnerID,
		ClientID:   rule.ClientID,
		ProductKey: rule.ProductKey,
		PriceCents: rule.PriceCents,
		Currency:   rule.Currency,
		Active:     rule.Active,
		CreatedAt:  rule.CreatedAt,
		UpdatedAt:  rule.UpdatedAt,
	}
}
