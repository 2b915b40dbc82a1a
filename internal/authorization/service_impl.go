package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	authdomain "github.com/smallbiznis/pixorder/internal/auth/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectPricingRule     = "pricing_rule"
	ObjectOrder           = "order"
	ObjectManualPixProof  = "manual_pix_proof"
	ObjectPaymentSettings = "payment_settings"
)

const (
	ActionPricingRuleView   = "pricing_rule.view"
	ActionPricingRuleManage = "pricing_rule.manage"

	ActionOrderViewAny = "order.view_any"

	ActionProofView   = "manual_pix_proof.view"
	ActionProofReview = "manual_pix_proof.review"

	ActionPaymentSettingsView   = "payment_settings.view"
	ActionPaymentSettingsManage = "payment_settings.manage"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, identity *authdomain.Identity, object string, action string) error {
	if identity == nil || strings.TrimSpace(identity.SubjectID) == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", strings.TrimSpace(identity.SubjectID))
	roleName := fmt.Sprintf("role:%s", identity.Role)
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("subject", subject),
			zap.String("role", string(identity.Role)),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject. Roles come from the
// token, so a changed role replaces the stored link.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]any, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Professionals manage the rules they own; ownership is checked by the pricing service.
		{"role:professional", ObjectPricingRule, ActionPricingRuleView},
		{"role:professional", ObjectPricingRule, ActionPricingRuleManage},

		// Admin permissions
		{"role:admin", ObjectPricingRule, ActionPricingRuleView},
		{"role:admin", ObjectPricingRule, ActionPricingRuleManage},
		{"role:admin", ObjectOrder, ActionOrderViewAny},
		{"role:admin", ObjectManualPixProof, ActionProofView},
		{"role:admin", ObjectManualPixProof, ActionProofReview},
		{"role:admin", ObjectPaymentSettings, ActionPaymentSettingsView},
		{"role:admin", ObjectPaymentSettings, ActionPaymentSettingsManage},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
