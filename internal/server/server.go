package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/pixorder/internal/auth"
	authdomain "github.com/smallbiznis/pixorder/internal/auth/domain"
	"github.com/smallbiznis/pixorder/internal/authorization"
	"github.com/smallbiznis/pixorder/internal/config"
	"github.com/smallbiznis/pixorder/internal/entitlement"
	"github.com/smallbiznis/pixorder/internal/manualreview"
	manualreviewdomain "github.com/smallbiznis/pixorder/internal/manualreview/domain"
	"github.com/smallbiznis/pixorder/internal/observability"
	obsmiddleware "github.com/smallbiznis/pixorder/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pixorder/internal/observability/metrics"
	obstracing "github.com/smallbiznis/pixorder/internal/observability/tracing"
	"github.com/smallbiznis/pixorder/internal/order"
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	"github.com/smallbiznis/pixorder/internal/payment"
	paymentdomain "github.com/smallbiznis/pixorder/internal/payment/domain"
	"github.com/smallbiznis/pixorder/internal/paymentprovider"
	paymentproviderdomain "github.com/smallbiznis/pixorder/internal/paymentprovider/domain"
	"github.com/smallbiznis/pixorder/internal/pricing"
	pricingdomain "github.com/smallbiznis/pixorder/internal/pricing/domain"
	"github.com/smallbiznis/pixorder/internal/proofstorage"
	"github.com/smallbiznis/pixorder/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	auth.Module,
	authorization.Module,
	entitlement.Module,
	ratelimit.Module,
	proofstorage.Module,
	pricing.Module,
	paymentprovider.Module,
	payment.Module,
	order.Module,
	manualreview.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	authsvc     authdomain.Service
	authzSvc    authorization.Service
	pricingSvc  pricingdomain.Service
	orderSvc    orderdomain.Service
	proofSvc    manualreviewdomain.Service
	webhookSvc  paymentdomain.WebhookService
	providerSvc paymentproviderdomain.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Authsvc     authdomain.Service
	AuthzSvc    authorization.Service
	PricingSvc  pricingdomain.Service
	OrderSvc    orderdomain.Service
	ProofSvc    manualreviewdomain.Service
	WebhookSvc  paymentdomain.WebhookService
	ProviderSvc paymentproviderdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		authsvc:     p.Authsvc,
		authzSvc:    p.AuthzSvc,
		pricingSvc:  p.PricingSvc,
		orderSvc:    p.OrderSvc,
		proofSvc:    p.ProofSvc,
		webhookSvc:  p.WebhookSvc,
		providerSvc: p.ProviderSvc,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payment Webhooks --------
	// Provider notifications carry no bearer token; they are verified by signature.
	api.POST("/payments/webhooks", s.HandlePaymentWebhook)
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)

	authed := api.Group("", s.AuthRequired())

	// -------- Pricing --------
	authed.GET("/pricing/resolve", s.ResolvePrice)
	authed.GET("/pricing-rules", s.authorize(authorization.ObjectPricingRule, authorization.ActionPricingRuleView), s.ListPricingRules)
	authed.POST("/pricing-rules", s.authorize(authorization.ObjectPricingRule, authorization.ActionPricingRuleManage), s.UpsertPricingRule)
	authed.POST("/pricing-rules/:id/deactivate", s.authorize(authorization.ObjectPricingRule, authorization.ActionPricingRuleManage), s.DeactivatePricingRule)

	// -------- Orders --------
	authed.POST("/orders", s.CreateOrder)
	authed.GET("/orders/:id", s.GetOrder)
	authed.POST("/orders/:id/refresh", s.RefreshOrder)

	// -------- Manual PIX proofs --------
	authed.POST("/orders/:id/proofs/upload-url", s.CreateProofUploadURL)
	authed.POST("/orders/:id/proofs", s.SubmitProof)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AuthRequired())

	admin.GET("/orders/:id/proofs", s.authorize(authorization.ObjectManualPixProof, authorization.ActionProofView), s.ListOrderProofs)
	admin.POST("/proofs/:id/review", s.authorize(authorization.ObjectManualPixProof, authorization.ActionProofReview), s.ReviewProof)

	admin.GET("/payment-settings", s.authorize(authorization.ObjectPaymentSettings, authorization.ActionPaymentSettingsView), s.GetPaymentSettings)
	admin.PUT("/payment-settings", s.authorize(authorization.ObjectPaymentSettings, authorization.ActionPaymentSettingsManage), s.UpdatePaymentSettings)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
