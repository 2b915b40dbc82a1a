package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const defaultOrderExpiryMinutes = 30

// PaymentEnv is the request-time payment configuration. Values are read on
// every call so credential rotation does not need a restart.
type PaymentEnv struct {
	ProviderOverride         string
	MercadoPagoAccessToken   string
	MercadoPagoWebhookSecret string
	ManualPixKey             string
	ManualPixCopyPaste       string
	ManualPixDisplayName     string
	ManualPixInstructions    string
	OrderExpiryMinutes       int
}

func (e PaymentEnv) OrderExpiry() time.Duration {
	minutes := e.OrderExpiryMinutes
	if minutes <= 0 {
		minutes = defaultOrderExpiryMinutes
	}
	return time.Duration(minutes) * time.Minute
}

type PaymentSource interface {
	Payment() PaymentEnv
}

// StaticPaymentSource returns a fixed configuration.
type StaticPaymentSource PaymentEnv

func (s StaticPaymentSource) Payment() PaymentEnv {
	return PaymentEnv(s)
}

const (
	keyProviderOverride      = "payment_provider_override"
	keyMercadoPagoToken      = "mercadopago_access_token"
	keyMercadoPagoSecret     = "mercadopago_webhook_secret"
	keyManualPixKey          = "manual_pix_key"
	keyManualPixCopyPaste    = "manual_pix_copy_paste"
	keyManualPixDisplayName  = "manual_pix_display_name"
	keyManualPixInstructions = "manual_pix_instructions"
	keyOrderExpiryMinutes    = "pix_expiry_minutes"
)

// ViperPaymentSource layers process environment over an optional
// payments.yml that is hot-reloaded when it changes on disk.
type ViperPaymentSource struct {
	env  *viper.Viper
	file atomic.Value // holds PaymentEnv
}

func NewPaymentSource(log *zap.Logger) (PaymentSource, error) {
	env := viper.New()
	env.AutomaticEnv()

	src := &ViperPaymentSource{env: env}
	src.file.Store(PaymentEnv{})

	file := viper.New()
	file.SetConfigName("payments")
	file.SetConfigType("yml")
	file.AddConfigPath("/etc/pixorder")
	file.AddConfigPath(".")

	if err := file.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		return src, nil
	}
	src.file.Store(readPaymentEnv(file))

	file.OnConfigChange(func(e fsnotify.Event) {
		src.file.Store(readPaymentEnv(file))
		if log != nil {
			log.Info("payment config reloaded", zap.String("file", e.Name))
		}
	})
	file.WatchConfig()

	return src, nil
}

func (s *ViperPaymentSource) Payment() PaymentEnv {
	base, _ := s.file.Load().(PaymentEnv)
	return PaymentEnv{
		ProviderOverride:         s.lookup(keyProviderOverride, base.ProviderOverride),
		MercadoPagoAccessToken:   s.lookup(keyMercadoPagoToken, base.MercadoPagoAccessToken),
		MercadoPagoWebhookSecret: s.lookup(keyMercadoPagoSecret, base.MercadoPagoWebhookSecret),
		ManualPixKey:             s.lookup(keyManualPixKey, base.ManualPixKey),
		ManualPixCopyPaste:       s.lookup(keyManualPixCopyPaste, base.ManualPixCopyPaste),
		ManualPixDisplayName:     s.lookup(keyManualPixDisplayName, base.ManualPixDisplayName),
		ManualPixInstructions:    s.lookup(keyManualPixInstructions, base.ManualPixInstructions),
		OrderExpiryMinutes:       s.lookupInt(keyOrderExpiryMinutes, base.OrderExpiryMinutes),
	}
}

func (s *ViperPaymentSource) lookup(key, fallback string) string {
	if value := strings.TrimSpace(s.env.GetString(key)); value != "" {
		return value
	}
	return strings.TrimSpace(fallback)
}

func (s *ViperPaymentSource) lookupInt(key string, fallback int) int {
	if s.env.IsSet(key) {
		if value := s.env.GetInt(key); value > 0 {
			return value
		}
	}
	return fallback
}

func readPaymentEnv(v *viper.Viper) PaymentEnv {
	return PaymentEnv{
		ProviderOverride:         v.GetString(keyProviderOverride),
		MercadoPagoAccessToken:   v.GetString(keyMercadoPagoToken),
		MercadoPagoWebhookSecret: v.GetString(keyMercadoPagoSecret),
		ManualPixKey:             v.GetString(keyManualPixKey),
		ManualPixCopyPaste:       v.GetString(keyManualPixCopyPaste),
		ManualPixDisplayName:     v.GetString(keyManualPixDisplayName),
		ManualPixInstructions:    v.GetString(keyManualPixInstructions),
		OrderExpiryMinutes:       v.GetInt(keyOrderExpiryMinutes),
	}
}
