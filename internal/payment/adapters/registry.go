package adapters

import (
	"strings"

	"github.com/smallbiznis/pixorder/internal/payment/domain"
)

// ManualProvider is the admin-reviewed path. It has no gateway and never
// calls out.
const ManualProvider = "manual"

// Reasons Route sends a checkout to manual review.
const (
	FallbackUnsupportedProvider = "unsupported_provider"
	FallbackMissingCredentials  = "missing_credentials"
	FallbackMissingPayerEmail   = "missing_payer_email"
)

// Checkout is the payment path chosen for a new order. Gateway is nil on
// the manual path.
type Checkout struct {
	Provider string
	Gateway  domain.Gateway
	Fallback string
}

func (c *Checkout) Manual() bool {
	return c.Gateway == nil
}

// Registry maps automated provider names to gateway factories.
type Registry struct {
	factories map[string]domain.GatewayFactory
}

func NewRegistry(factories ...domain.GatewayFactory) *Registry {
	registry := &Registry{factories: map[string]domain.GatewayFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalizeProvider(factory.Provider())
		if provider == "" || provider == ManualProvider {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// Supports reports whether provider has an automated gateway. Notifications
// for anything else are ignored.
func (r *Registry) Supports(provider string) bool {
	_, ok := r.factory(provider)
	return ok
}

func (r *Registry) NewGateway(provider string, cfg domain.GatewayConfig) (domain.Gateway, error) {
	factory, ok := r.factory(provider)
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewGateway(cfg)
}

// Route picks the checkout path. Anything that keeps the automated provider
// from taking the payment sends the order to manual review instead of
// failing the checkout.
func (r *Registry) Route(provider string, cfg domain.GatewayConfig, payerEmail string) (*Checkout, error) {
	provider = normalizeProvider(provider)
	if provider == "" || provider == ManualProvider {
		return &Checkout{Provider: ManualProvider}, nil
	}

	factory, ok := r.factory(provider)
	switch {
	case !ok:
		return manualCheckout(FallbackUnsupportedProvider), nil
	case strings.TrimSpace(cfg.AccessToken) == "":
		return manualCheckout(FallbackMissingCredentials), nil
	case strings.TrimSpace(payerEmail) == "":
		return manualCheckout(FallbackMissingPayerEmail), nil
	}

	gateway, err := factory.NewGateway(cfg)
	if err != nil {
		return nil, err
	}
	return &Checkout{Provider: provider, Gateway: gateway}, nil
}

func (r *Registry) factory(provider string) (domain.GatewayFactory, bool) {
	if r == nil {
		return nil, false
	}
	factory, ok := r.factories[normalizeProvider(provider)]
	return factory, ok
}

func manualCheckout(reason string) *Checkout {
	return &Checkout{Provider: ManualProvider, Fallback: reason}
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
