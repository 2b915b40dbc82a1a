package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/pixorder/internal/clock"
	"github.com/smallbiznis/pixorder/internal/config"
	"github.com/smallbiznis/pixorder/internal/paymentprovider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   domain.Repository
	Source config.PaymentSource
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   domain.Repository
	source config.PaymentSource
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("paymentprovider.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		source: p.Source,
	}
}

// Snapshot resolves the provider for a single request. A valid environment
// override wins over the stored setting, and mercadopago without an access
// token is served as manual.
func (s *Service) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	stored, err := s.repo.Get(ctx, s.db)
	if err != nil {
		return nil, err
	}
	env := s.source.Payment()
	return s.resolve(stored, env), nil
}

func (s *Service) resolve(stored *domain.Settings, env config.PaymentEnv) *domain.Snapshot {
	snap := &domain.Snapshot{
		Requested:     domain.ProviderManual,
		Source:        domain.SourceDefault,
		AccessToken:   strings.TrimSpace(env.MercadoPagoAccessToken),
		WebhookSecret: strings.TrimSpace(env.MercadoPagoWebhookSecret),
		OrderExpiry:   env.OrderExpiry(),
	}

	if override := strings.TrimSpace(env.ProviderOverride); override != "" {
		if provider, ok := domain.ParseProvider(override); ok {
			snap.Requested = provider
			snap.Source = domain.SourceEnvOverride
		} else {
			s.log.Warn("ignoring invalid provider override", zap.String("value", override))
		}
	}
	if snap.Source == domain.SourceDefault && stored != nil {
		if provider, ok := domain.ParseProvider(stored.ActiveProvider); ok {
			snap.Requested = provider
			snap.Source = domain.SourceSettings
		}
	}

	snap.Provider = snap.Requested
	if snap.Requested == domain.ProviderMercadoPago && snap.AccessToken == "" {
		s.log.Warn("mercadopago selected without access token, using manual pix",
			zap.String("source", string(snap.Source)),
		)
		snap.Provider = domain.ProviderManual
		snap.Downgraded = true
	}

	snap.Manual = mergeManual(stored, env)
	return snap
}

func mergeManual(stored *domain.Settings, env config.PaymentEnv) domain.ManualPix {
	manual := domain.ManualPix{
		Key:          strings.TrimSpace(env.ManualPixKey),
		CopyPaste:    strings.TrimSpace(env.ManualPixCopyPaste),
		DisplayName:  strings.TrimSpace(env.ManualPixDisplayName),
		Instructions: strings.TrimSpace(env.ManualPixInstructions),
	}
	if stored == nil {
		return manual
	}
	manual.Key = firstNonEmpty(stored.ManualPixKey, manual.Key)
	manual.CopyPaste = firstNonEmpty(stored.ManualPixCopyPaste, manual.CopyPaste)
	manual.DisplayName = firstNonEmpty(stored.ManualPixDisplayName, manual.DisplayName)
	manual.Instructions = firstNonEmpty(stored.ManualPixInstructions, manual.Instructions)
	return manual
}

func (s *Service) Get(ctx context.Context) (*domain.SettingsResponse, error) {
	stored, err := s.repo.Get(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return s.toResponse(stored, s.resolve(stored, s.source.Payment())), nil
}

func (s *Service) Update(ctx context.Context, actorID string, req domain.UpdateRequest) (*domain.SettingsResponse, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, domain.ErrInvalidActor
	}

	var stored *domain.Settings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.Get(ctx, tx)
		if err != nil {
			return err
		}
		if current == nil {
			current = &domain.Settings{
				ID:             domain.SettingsRowID,
				ActiveProvider: string(domain.ProviderManual),
			}
		}

		if req.ActiveProvider != nil {
			provider, ok := domain.ParseProvider(*req.ActiveProvider)
			if !ok {
				return domain.ErrInvalidProvider
			}
			current.ActiveProvider = string(provider)
		}
		if req.ManualPixKey != nil {
			current.ManualPixKey = strings.TrimSpace(*req.ManualPixKey)
		}
		if req.ManualPixCopyPaste != nil {
			current.ManualPixCopyPaste = strings.TrimSpace(*req.ManualPixCopyPaste)
		}
		if req.ManualPixDisplayName != nil {
			current.ManualPixDisplayName = strings.TrimSpace(*req.ManualPixDisplayName)
		}
		if req.ManualPixInstructions != nil {
			current.ManualPixInstructions = strings.TrimSpace(*req.ManualPixInstructions)
		}
		current.UpdatedBy = &actorID
		current.UpdatedAt = s.clock.Now()

		if err := s.repo.Save(ctx, tx, current); err != nil {
			return err
		}
		stored = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment provider settings updated",
		zap.String("actor_id", actorID),
		zap.String("active_provider", stored.ActiveProvider),
	)
	return s.toResponse(stored, s.resolve(stored, s.source.Payment())), nil
}

func (s *Service) toResponse(stored *domain.Settings, snap *domain.Snapshot) *domain.SettingsResponse {
	resp := &domain.SettingsResponse{
		ActiveProvider:          domain.ProviderManual,
		EffectiveProvider:       snap.Provider,
		Source:                  snap.Source,
		Downgraded:              snap.Downgraded,
		MercadoPagoConfigured:   snap.AccessToken != "",
		WebhookSecretConfigured: snap.WebhookSecret != "",
		Manual:                  snap.Manual,
	}
	if stored != nil {
		if provider, ok := domain.ParseProvider(stored.ActiveProvider); ok {
			resp.ActiveProvider = provider
		}
		resp.UpdatedBy = stored.UpdatedBy
		updatedAt := stored.UpdatedAt
		resp.UpdatedAt = &updatedAt
	}
	return resp
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
