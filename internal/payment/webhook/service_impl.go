package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixorder/internal/clock"
	"github.com/smallbiznis/pixorder/internal/config"
	"github.com/smallbiznis/pixorder/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	"github.com/smallbiznis/pixorder/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/pixorder/internal/payment/domain"
	providerdomain "github.com/smallbiznis/pixorder/internal/paymentprovider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	Repo        paymentdomain.Repository
	Gateways    *adapters.Registry
	ProviderSvc providerdomain.Service
	OrderSvc    orderdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.Config
	repo        paymentdomain.Repository
	gateways    *adapters.Registry
	providerSvc providerdomain.Service
	orderSvc    orderdomain.Service
	metrics     *metrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.webhook"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg,
		repo:        p.Repo,
		gateways:    p.Gateways,
		providerSvc: p.ProviderSvc,
		orderSvc:    p.OrderSvc,
		metrics:     p.Metrics,
	}
}

// Mismatch is set when the query string and body name different payments.
type notification struct {
	Type     string
	Action   string
	DataID   string
	Mismatch bool
}

// Handle verifies a provider notification, re-fetches the payment it names and
// reconciles the matching order. The notification body is never trusted for
// the payment status.
func (s *Service) Handle(ctx context.Context, req paymentdomain.WebhookRequest) (*paymentdomain.WebhookResult, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(req.Query.Get("provider")))
	}
	if !s.gateways.Supports(provider) {
		s.log.Info("webhook for unsupported provider ignored", zap.String("provider", provider))
		s.metrics.RecordWebhookDelivery(ctx, "unsupported", paymentdomain.WebhookOutcomeIgnored)
		return &paymentdomain.WebhookResult{Status: paymentdomain.WebhookOutcomeIgnored}, nil
	}

	event := parseNotification(req)
	if event.DataID == "" {
		s.metrics.RecordWebhookDelivery(ctx, provider, "missing_id")
		return nil, paymentdomain.ErrWebhookMissingID
	}
	if event.Mismatch {
		s.log.Warn("webhook payment id differs between query and body",
			zap.String("provider", provider),
			zap.String("data_id", event.DataID),
		)
		s.metrics.RecordWebhookDelivery(ctx, provider, paymentdomain.WebhookOutcomeInvalidSignature)
		return nil, paymentdomain.ErrInvalidSignature
	}

	snap, err := s.providerSvc.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	gateway, err := s.gateways.NewGateway(provider, paymentdomain.GatewayConfig{
		AccessToken: snap.AccessToken,
		BaseURL:     s.cfg.MercadoPago.BaseURL,
		Timeout:     s.cfg.MercadoPago.Timeout,
	})
	if err != nil {
		return nil, err
	}

	if !gateway.VerifyWebhookSignature(req.Headers, snap.WebhookSecret, event.DataID) {
		s.log.Warn("webhook signature rejected",
			zap.String("provider", provider),
			zap.String("data_id", event.DataID),
			zap.Bool("secret_configured", snap.WebhookSecret != ""),
		)
		s.metrics.RecordWebhookDelivery(ctx, provider, paymentdomain.WebhookOutcomeInvalidSignature)
		return nil, paymentdomain.ErrInvalidSignature
	}

	delivery := &paymentdomain.WebhookDelivery{
		ID:         s.genID.Generate(),
		Provider:   provider,
		DataID:     event.DataID,
		RequestID:  strings.TrimSpace(req.Headers.Get("x-request-id")),
		EventType:  event.label(),
		Payload:    payloadJSON(req.Body),
		ReceivedAt: s.clock.Now(),
	}

	if !event.isPayment() {
		s.record(ctx, delivery, paymentdomain.WebhookOutcomeIgnored)
		return &paymentdomain.WebhookResult{Status: paymentdomain.WebhookOutcomeIgnored}, nil
	}

	payment, err := gateway.GetPayment(ctx, event.DataID)
	if err != nil {
		s.log.Error("webhook payment lookup failed",
			zap.String("provider", provider),
			zap.String("data_id", event.DataID),
			zap.Error(err),
		)
		s.record(ctx, delivery, paymentdomain.WebhookOutcomeProviderError)
		return nil, paymentdomain.ErrWebhookProviderFailure
	}

	order, err := s.orderSvc.LocateForProviderPayment(ctx, provider, payment.ExternalReference, payment.ProviderID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			s.log.Warn("webhook payment has no matching order",
				zap.String("provider", provider),
				zap.String("provider_reference", payment.ProviderID),
				zap.String("external_reference", payment.ExternalReference),
			)
			s.record(ctx, delivery, paymentdomain.WebhookOutcomeOrderNotFound)
		}
		return nil, err
	}
	delivery.OrderID = &order.ID

	result, err := s.orderSvc.Reconcile(ctx, order.ID, gateway.MapStatus(payment.Status), payment.ApprovedAt)
	if err != nil {
		return nil, err
	}
	s.record(ctx, delivery, result.Outcome)

	s.log.Info("webhook reconciled",
		zap.String("provider", provider),
		zap.String("order_id", order.ID.String()),
		zap.String("payment_status", payment.Status),
		zap.String("outcome", result.Outcome),
	)
	return &paymentdomain.WebhookResult{Status: result.Outcome, OrderID: order.ID.String()}, nil
}

func (s *Service) record(ctx context.Context, delivery *paymentdomain.WebhookDelivery, outcome string) {
	delivery.Outcome = outcome
	s.metrics.RecordWebhookDelivery(ctx, delivery.Provider, outcome)
	if err := s.repo.InsertDelivery(context.WithoutCancel(ctx), s.db, delivery); err != nil {
		s.log.Error("failed to record webhook delivery",
			zap.String("provider", delivery.Provider),
			zap.String("data_id", delivery.DataID),
			zap.Error(err),
		)
	}
}

type notificationBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// parseNotification reads the event type and payment id. The signed manifest
// carries the query data.id, so it wins over the body id when present.
func parseNotification(req paymentdomain.WebhookRequest) notification {
	var body notificationBody
	if len(bytes.TrimSpace(req.Body)) > 0 {
		_ = json.Unmarshal(req.Body, &body)
	}

	event := notification{
		Type:   firstNonEmpty(body.Type, body.Topic, req.Query.Get("type"), req.Query.Get("topic")),
		Action: strings.TrimSpace(body.Action),
	}
	queryID := strings.TrimSpace(req.Query.Get("data.id"))
	bodyID := rawID(body.Data.ID)
	event.DataID = firstNonEmpty(queryID, bodyID, req.Query.Get("id"))
	event.Mismatch = queryID != "" && bodyID != "" && !strings.EqualFold(queryID, bodyID)
	return event
}

func (n notification) isPayment() bool {
	eventType := strings.ToLower(n.Type)
	if eventType == "" {
		return n.Action == "" || strings.HasPrefix(strings.ToLower(n.Action), "payment.")
	}
	return eventType == "payment"
}

func (n notification) label() string {
	if n.Type != "" {
		return n.Type
	}
	if n.Action != "" {
		return n.Action
	}
	return "unknown"
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}

func payloadJSON(body []byte) datatypes.JSON {
	if len(bytes.TrimSpace(body)) == 0 || !json.Valid(body) {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(body)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
