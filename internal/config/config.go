package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPaymentSource),
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	NodeID        int
	AuthJWTSecret string
	AuthJWTIssuer string
	PublicBaseURL string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis       RedisConfig
	ProofBucket ProofBucketConfig
	Entitlement EntitlementConfig
	MercadoPago MercadoPagoConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	OrderCreateRate    float64
	OrderCreateBurst   int
	OrderCreateLockTTL time.Duration
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type ProofBucketConfig struct {
	Bucket          string
	Region          string
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	PresignTTL      time.Duration
}

func (c ProofBucketConfig) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

type EntitlementConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type MercadoPagoConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "pixorder"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		NodeID:        getenvInt("SNOWFLAKE_NODE_ID", 1),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer: strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(getenv("PUBLIC_BASE_URL", "")), "/"),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),

			OrderCreateRate:    getenvFloat("ORDER_CREATE_RATE", 0.2),
			OrderCreateBurst:   getenvInt("ORDER_CREATE_BURST", 5),
			OrderCreateLockTTL: getenvDuration("ORDER_CREATE_LOCK_TTL", 30*time.Second),
		},
		ProofBucket: ProofBucketConfig{
			Bucket:          strings.TrimSpace(getenv("PROOF_BUCKET", "")),
			Region:          getenv("PROOF_BUCKET_REGION", "us-east-1"),
			EndpointURL:     strings.TrimSpace(getenv("PROOF_BUCKET_ENDPOINT", "")),
			AccessKeyID:     strings.TrimSpace(getenv("PROOF_BUCKET_ACCESS_KEY_ID", "")),
			SecretAccessKey: strings.TrimSpace(getenv("PROOF_BUCKET_SECRET_ACCESS_KEY", "")),
			PresignTTL:      getenvDuration("PROOF_UPLOAD_URL_TTL", 15*time.Minute),
		},
		Entitlement: EntitlementConfig{
			URL:     strings.TrimSpace(getenv("ENTITLEMENT_EFFECTS_URL", "")),
			Token:   strings.TrimSpace(getenv("ENTITLEMENT_EFFECTS_TOKEN", "")),
			Timeout: getenvDuration("ENTITLEMENT_EFFECTS_TIMEOUT", 10*time.Second),
		},
		MercadoPago: MercadoPagoConfig{
			BaseURL: strings.TrimRight(getenv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"), "/"),
			Timeout: getenvDuration("PROVIDER_HTTP_TIMEOUT", 15*time.Second),
		},
	}

	return cfg
}

// WebhookURL is the notification URL handed to the automated provider.
func (c Config) WebhookURL(provider string) string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return c.PublicBaseURL + "/api/payments/webhooks?provider=" + provider
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
