package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixorder/internal/clock"
	"github.com/smallbiznis/pixorder/internal/config"
	"github.com/smallbiznis/pixorder/internal/entitlement"
	obslogger "github.com/smallbiznis/pixorder/internal/observability/logger"
	"github.com/smallbiznis/pixorder/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	"github.com/smallbiznis/pixorder/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/pixorder/internal/payment/domain"
	providerdomain "github.com/smallbiznis/pixorder/internal/paymentprovider/domain"
	pricingdomain "github.com/smallbiznis/pixorder/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// entitlementLease bounds how long a crashed claimant blocks a retry.
	entitlementLease = 2 * time.Minute
	rollbackTimeout  = 5 * time.Second
	qrImagePrefix    = "data:image/png;base64,"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	Repo        orderdomain.Repository
	PricingSvc  pricingdomain.Service
	ProviderSvc providerdomain.Service
	Gateways    *adapters.Registry
	Entitlement entitlement.Applier
	Guard       orderdomain.CreateGuard `optional:"true"`
	Metrics     *metrics.Metrics        `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.Config
	repo        orderdomain.Repository
	pricingSvc  pricingdomain.Service
	providerSvc providerdomain.Service
	gateways    *adapters.Registry
	entitlement entitlement.Applier
	guard       orderdomain.CreateGuard
	metrics     *metrics.Metrics
}

func New(p Params) orderdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("order.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg,
		repo:        p.Repo,
		pricingSvc:  p.PricingSvc,
		providerSvc: p.ProviderSvc,
		gateways:    p.Gateways,
		entitlement: p.Entitlement,
		guard:       p.Guard,
		metrics:     p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req orderdomain.CreateRequest) (*orderdomain.CreateResult, error) {
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		return nil, orderdomain.ErrInvalidClient
	}
	productKey, err := pricingdomain.NormalizeProductKey(req.ProductKey)
	if err != nil {
		return nil, err
	}

	if s.guard != nil {
		allowed, err := s.guard.AllowClient(ctx, clientID)
		if err != nil {
			s.log.Warn("order rate limit check failed", zap.Error(err))
		} else if !allowed {
			return nil, orderdomain.ErrRateLimited
		}

		token, locked, err := s.guard.TryLock(ctx, clientID, productKey)
		if err != nil {
			s.log.Warn("order create lock unavailable", zap.Error(err))
		} else if !locked {
			return nil, orderdomain.ErrCreationInProgress
		} else {
			defer func() {
				if err := s.guard.Release(context.WithoutCancel(ctx), clientID, productKey, token); err != nil {
					s.log.Warn("failed to release order create lock", zap.Error(err))
				}
			}()
		}
	}

	price, err := s.pricingSvc.Resolve(ctx, pricingdomain.ResolveRequest{
		ClientID:       clientID,
		ProductKey:     productKey,
		ProfessionalID: req.ProfessionalID,
	})
	if err != nil {
		return nil, err
	}

	snap, err := s.providerSvc.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	checkout, err := s.gateways.Route(string(snap.Provider), s.gatewayConfig(snap), req.Payer.Email)
	if err != nil {
		return nil, err
	}
	downgraded := snap.Downgraded || checkout.Fallback != ""
	if checkout.Fallback != "" {
		s.log.Warn("automated provider unavailable, using manual review",
			zap.String("provider", string(snap.Provider)),
			zap.String("reason", checkout.Fallback),
		)
	}

	now := s.clock.Now()
	order := &orderdomain.Order{
		ID:             s.genID.Generate(),
		ClientID:       clientID,
		ProfessionalID: trimOptional(req.ProfessionalID),
		ProductKey:     productKey,
		AmountCents:    price.PriceCents,
		Currency:       price.Currency,
		Provider:       checkout.Provider,
		PricingRuleID:  price.PricingRuleID,
		PricingScope:   string(price.SourceScope),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var result *orderdomain.CreateResult
	if checkout.Manual() {
		result, err = s.createManual(ctx, order, snap)
	} else {
		result, err = s.createAutomated(ctx, order, checkout.Gateway, snap, req.Payer)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOrderCreated(ctx, order.Provider, downgraded)
	obslogger.WithOrder(s.log, order.ID.String(), order.Provider).Info("order created",
		zap.String("status", string(result.Status)),
		zap.String("pricing_scope", order.PricingScope),
		zap.Bool("downgraded", downgraded),
	)
	return result, nil
}

func (s *Service) createAutomated(ctx context.Context, order *orderdomain.Order, gateway paymentdomain.Gateway, snap *providerdomain.Snapshot, payer orderdomain.Payer) (*orderdomain.CreateResult, error) {
	expiresAt := order.CreatedAt.Add(snap.OrderExpiry)
	order.Status = orderdomain.StatusPending
	order.ExpiresAt = &expiresAt
	if err := s.repo.Insert(ctx, s.db, order); err != nil {
		return nil, err
	}

	reference := order.ID.String()
	payment, err := gateway.CreatePixPayment(ctx, paymentdomain.PixPaymentRequest{
		AmountCents:       order.AmountCents,
		Currency:          order.Currency,
		Description:       order.ProductKey,
		PayerEmail:        strings.TrimSpace(payer.Email),
		PayerName:         strings.TrimSpace(payer.Name),
		ExternalReference: reference,
		NotificationURL:   s.cfg.WebhookURL(order.Provider),
		ExpiresAt:         &expiresAt,
		IdempotencyKey:    reference,
	})
	if err == nil && strings.TrimSpace(payment.QRCodeText) == "" {
		err = paymentdomain.ErrProviderResponse
	}
	if err != nil {
		obslogger.WithOrder(s.log, reference, order.Provider).Error("pix payment creation failed", zap.Error(err))
		s.rollbackCreate(ctx, order.ID)
		return nil, orderdomain.ErrProviderFailure
	}

	attached := orderdomain.ProviderPayment{
		Reference: payment.ProviderID,
		CopyPaste: payment.QRCodeText,
		ExpiresAt: payment.ExpiresAt,
	}
	if image := strings.TrimSpace(payment.QRCodeImageBase64); image != "" {
		url := qrImagePrefix + image
		attached.QRImage = &url
	}
	if err := s.attachProviderPayment(ctx, order.ID, attached); err != nil {
		obslogger.WithOrder(s.log, reference, order.Provider).Error("failed to store pix payment", zap.Error(err))
		s.rollbackCreate(ctx, order.ID)
		return nil, orderdomain.ErrProviderFailure
	}

	order.ProviderReference = &attached.Reference
	order.PixCopyPaste = &attached.CopyPaste
	order.PixQRImageURL = attached.QRImage
	if attached.ExpiresAt != nil {
		order.ExpiresAt = attached.ExpiresAt
	}

	return &orderdomain.CreateResult{
		OrderID:       reference,
		Status:        order.Status,
		Provider:      order.Provider,
		AmountCents:   order.AmountCents,
		Currency:      order.Currency,
		PricingScope:  order.PricingScope,
		PixCopyPaste:  order.PixCopyPaste,
		PixQRImageURL: order.PixQRImageURL,
		ExpiresAt:     order.ExpiresAt,
	}, nil
}

// attachProviderPayment stores the provider payload once the payment exists
// upstream, detached from the caller so a disconnect cannot strand the order.
func (s *Service) attachProviderPayment(ctx context.Context, id snowflake.ID, p orderdomain.ProviderPayment) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	_, err := s.repo.AttachProviderPayment(ctx, s.db, id, p, s.clock.Now())
	return err
}

// rollbackCreate cancels an order whose provider call failed. It runs even
// when the caller's context was canceled by the timeout that caused it.
func (s *Service) rollbackCreate(ctx context.Context, id snowflake.ID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if _, err := s.TransitionStatus(ctx, id, orderdomain.StatusCanceled, "provider_error"); err != nil {
		s.log.Error("failed to cancel order after provider error",
			zap.String("order_id", id.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) createManual(ctx context.Context, order *orderdomain.Order, snap *providerdomain.Snapshot) (*orderdomain.CreateResult, error) {
	copyPaste := strings.TrimSpace(snap.Manual.CopyPaste)
	if copyPaste == "" {
		s.log.Error("manual pix copy-paste value is not configured")
		return nil, orderdomain.ErrManualPixNotConfigured
	}

	order.Status = orderdomain.StatusManualReview
	order.PixCopyPaste = &copyPaste
	if err := s.repo.Insert(ctx, s.db, order); err != nil {
		return nil, err
	}

	return &orderdomain.CreateResult{
		OrderID:      order.ID.String(),
		Status:       order.Status,
		Provider:     order.Provider,
		AmountCents:  order.AmountCents,
		Currency:     order.Currency,
		PricingScope: order.PricingScope,
		PixCopyPaste: order.PixCopyPaste,
		Manual: &orderdomain.ManualInstructions{
			PixKey:       snap.Manual.Key,
			CopyPaste:    copyPaste,
			DisplayName:  snap.Manual.DisplayName,
			Instructions: snap.Manual.Instructions,
		},
	}, nil
}

func (s *Service) Load(ctx context.Context, id snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}

// Get returns the order, expiring it first when its deadline has passed.
func (s *Service) Get(ctx context.Context, viewer orderdomain.Viewer, orderID string) (*orderdomain.OrderResponse, error) {
	order, err := s.loadForViewer(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	order, err = s.expireIfDue(ctx, order)
	if err != nil {
		return nil, err
	}
	return orderdomain.NewOrderResponse(order), nil
}

// Refresh polls the provider for the order's payment and applies the same
// reconciliation a webhook would.
func (s *Service) Refresh(ctx context.Context, viewer orderdomain.Viewer, orderID string) (*orderdomain.OrderResponse, error) {
	order, err := s.loadForViewer(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}

	reference := ""
	if order.ProviderReference != nil {
		reference = strings.TrimSpace(*order.ProviderReference)
	}
	if order.Status == orderdomain.StatusPaid || reference == "" || !s.gateways.Supports(order.Provider) {
		order, err = s.expireIfDue(ctx, order)
		if err != nil {
			return nil, err
		}
		return orderdomain.NewOrderResponse(order), nil
	}

	snap, err := s.providerSvc.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.NewGateway(order.Provider, s.gatewayConfig(snap))
	if err != nil {
		return nil, err
	}
	payment, err := gateway.GetPayment(ctx, reference)
	if err != nil {
		s.log.Warn("provider payment lookup failed",
			zap.String("order_id", order.ID.String()),
			zap.String("provider_reference", reference),
			zap.Error(err),
		)
		return nil, orderdomain.ErrProviderFailure
	}

	if _, err := s.reconcile(ctx, order.ID, gateway.MapStatus(payment.Status), payment.ApprovedAt, "refresh"); err != nil {
		return nil, err
	}
	order, err = s.Load(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order, err = s.expireIfDue(ctx, order)
	if err != nil {
		return nil, err
	}
	return orderdomain.NewOrderResponse(order), nil
}

func (s *Service) loadForViewer(ctx context.Context, viewer orderdomain.Viewer, orderID string) (*orderdomain.Order, error) {
	id, err := parseID(orderID)
	if err != nil {
		return nil, err
	}
	order, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.IsAdmin && !order.OwnedBy(strings.TrimSpace(viewer.ID)) {
		return nil, orderdomain.ErrForbidden
	}
	return order, nil
}

func (s *Service) expireIfDue(ctx context.Context, order *orderdomain.Order) (*orderdomain.Order, error) {
	if !order.Expired(s.clock.Now()) {
		return order, nil
	}
	if _, err := s.transition(ctx, order.ID, orderdomain.StatusExpired, "expired", "passive_expiry"); err != nil {
		return nil, err
	}
	return s.Load(ctx, order.ID)
}

// MarkPaid moves the order to paid from any non-paid state. Only the caller
// whose update wins applies entitlement effects; a paid order whose effects
// never completed is retried here.
func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, paidAt time.Time) (*orderdomain.MarkPaidResult, error) {
	return s.markPaid(ctx, id, paidAt, "mark_paid")
}

func (s *Service) markPaid(ctx context.Context, id snowflake.ID, paidAt time.Time, source string) (*orderdomain.MarkPaidResult, error) {
	now := s.clock.Now()
	if paidAt.IsZero() {
		paidAt = now
	}

	rows, err := s.repo.MarkPaid(ctx, s.db, id, paidAt.UTC(), now)
	if err != nil {
		return nil, err
	}

	order, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		result := &orderdomain.MarkPaidResult{Order: order, AlreadyPaid: true}
		if order.EntitlementsAppliedAt != nil {
			result.EntitlementsApplied = true
			return result, nil
		}
		claimed, err := s.repo.ClaimEntitlements(ctx, s.db, id, now, now.Add(-entitlementLease))
		if err != nil {
			return nil, err
		}
		if claimed > 0 {
			s.log.Info("retrying entitlement effects", zap.String("order_id", id.String()))
			result.EntitlementsApplied = s.applyEntitlements(ctx, order)
		}
		return result, nil
	}

	s.metrics.RecordOrderTransition(ctx, string(orderdomain.StatusPaid), source)
	s.log.Info("order marked paid",
		zap.String("order_id", id.String()),
		zap.String("provider", order.Provider),
		zap.String("source", source),
	)

	return &orderdomain.MarkPaidResult{
		Order:               order,
		EntitlementsApplied: s.applyEntitlements(ctx, order),
	}, nil
}

// applyEntitlements must only run while holding the claim. On failure the
// claim is released so the next reconciliation can retry.
func (s *Service) applyEntitlements(ctx context.Context, order *orderdomain.Order) bool {
	paidAt := s.clock.Now()
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	err := s.entitlement.Apply(ctx, entitlement.Grant{
		OrderID:        order.ID.String(),
		ClientID:       order.ClientID,
		ProfessionalID: order.ProfessionalID,
		ProductKey:     order.ProductKey,
		AmountCents:    order.AmountCents,
		Currency:       order.Currency,
		PaidAt:         paidAt,
	})

	// Bookkeeping must survive a canceled request once the effects ran.
	bookCtx := context.WithoutCancel(ctx)
	if err != nil {
		reason := "apply_failed"
		if errors.Is(err, entitlement.ErrNotConfigured) {
			reason = "not_configured"
		}
		s.metrics.RecordEntitlementFailure(ctx, reason)
		s.log.Error("entitlement effects failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		if err := s.repo.ReleaseEntitlementClaim(bookCtx, s.db, order.ID, s.clock.Now()); err != nil {
			s.log.Error("failed to release entitlement claim", zap.String("order_id", order.ID.String()), zap.Error(err))
		}
		return false
	}

	if err := s.repo.MarkEntitlementsApplied(bookCtx, s.db, order.ID, s.clock.Now()); err != nil {
		s.log.Error("failed to record applied entitlements", zap.String("order_id", order.ID.String()), zap.Error(err))
		return false
	}
	return true
}

// TransitionStatus applies an expired or canceled signal. Only pending orders
// move; paid and manual_review orders are left untouched.
func (s *Service) TransitionStatus(ctx context.Context, id snowflake.ID, to orderdomain.Status, reason string) (bool, error) {
	return s.transition(ctx, id, to, reason, "transition")
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, to orderdomain.Status, reason, source string) (bool, error) {
	if to != orderdomain.StatusExpired && to != orderdomain.StatusCanceled {
		return false, orderdomain.ErrInvalidTransition
	}

	var reasonPtr *string
	if reason = strings.TrimSpace(reason); reason != "" {
		reasonPtr = &reason
	}
	rows, err := s.repo.TransitionFromPending(ctx, s.db, id, to, reasonPtr, s.clock.Now())
	if err != nil {
		return false, err
	}
	if rows == 0 {
		order, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return false, err
		}
		if order == nil {
			return false, orderdomain.ErrOrderNotFound
		}
		s.log.Debug("status transition ignored",
			zap.String("order_id", id.String()),
			zap.String("current", string(order.Status)),
			zap.String("requested", string(to)),
		)
		return false, nil
	}

	s.metrics.RecordOrderTransition(ctx, string(to), source)
	s.log.Info("order status changed",
		zap.String("order_id", id.String()),
		zap.String("status", string(to)),
		zap.String("source", source),
	)
	return true, nil
}

func (s *Service) Reconcile(ctx context.Context, id snowflake.ID, family paymentdomain.StatusFamily, paidAt *time.Time) (*orderdomain.ReconcileResult, error) {
	return s.reconcile(ctx, id, family, paidAt, "webhook")
}

func (s *Service) reconcile(ctx context.Context, id snowflake.ID, family paymentdomain.StatusFamily, paidAt *time.Time, source string) (*orderdomain.ReconcileResult, error) {
	result := &orderdomain.ReconcileResult{OrderID: id}
	switch family {
	case paymentdomain.StatusPaid:
		at := time.Time{}
		if paidAt != nil {
			at = *paidAt
		}
		res, err := s.markPaid(ctx, id, at, source)
		if err != nil {
			return nil, err
		}
		result.Outcome = orderdomain.OutcomePaid
		if res.AlreadyPaid {
			result.Outcome = orderdomain.OutcomeAlreadyPaid
		}
	case paymentdomain.StatusExpired, paymentdomain.StatusCanceled:
		to := orderdomain.StatusCanceled
		if family == paymentdomain.StatusExpired {
			to = orderdomain.StatusExpired
		}
		changed, err := s.transition(ctx, id, to, string(family), source)
		if err != nil {
			return nil, err
		}
		result.Outcome = orderdomain.OutcomeIgnored
		if changed {
			result.Outcome = string(to)
		}
	default:
		if _, err := s.Load(ctx, id); err != nil {
			return nil, err
		}
		result.Outcome = orderdomain.OutcomePending
	}
	return result, nil
}

// LocateForProviderPayment finds the order for a provider payment: the
// external reference we sent first, then the provider's own payment id.
func (s *Service) LocateForProviderPayment(ctx context.Context, provider, externalReference, providerReference string) (*orderdomain.Order, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))

	if id, err := snowflake.ParseString(strings.TrimSpace(externalReference)); err == nil && id > 0 {
		order, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if order != nil && order.Provider == provider {
			return order, nil
		}
	}

	providerReference = strings.TrimSpace(providerReference)
	if providerReference == "" {
		return nil, orderdomain.ErrOrderNotFound
	}
	items, err := s.repo.FindByProviderReference(ctx, s.db, provider, providerReference)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, orderdomain.ErrOrderNotFound
	}
	if len(items) > 1 {
		s.log.Warn("provider reference matches multiple orders",
			zap.String("provider", provider),
			zap.String("provider_reference", providerReference),
			zap.Int("matches", len(items)),
		)
	}
	return &items[0], nil
}

func (s *Service) gatewayConfig(snap *providerdomain.Snapshot) paymentdomain.GatewayConfig {
	return paymentdomain.GatewayConfig{
		AccessToken: snap.AccessToken,
		BaseURL:     s.cfg.MercadoPago.BaseURL,
		Timeout:     s.cfg.MercadoPago.Timeout,
	}
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, orderdomain.ErrInvalidOrderID
	}
	return id, nil
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
