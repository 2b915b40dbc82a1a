package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pixorder/internal/config"
)

const keyOrderCreateClient = "order:create:rate:%s"

// OrderCreateLimiter throttles order creation per client and collapses
// concurrent submissions for the same client and product.
type OrderCreateLimiter struct {
	enabled bool

	bucket *TokenBucket
	lock   *CreateLock

	rate  float64
	burst int
}

// NewOrderCreateLimiter returns nil when Redis is not configured.
func NewOrderCreateLimiter(cfg config.Config) (*OrderCreateLimiter, error) {
	redisCfg := cfg.Redis
	if !redisCfg.Enabled() {
		return nil, nil
	}
	if redisCfg.OrderCreateRate <= 0 || redisCfg.OrderCreateBurst <= 0 {
		return nil, errors.New("order create rate limit must be positive")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(redisCfg.Addr),
		Password: strings.TrimSpace(redisCfg.Password),
		DB:       redisCfg.DB,
	})

	return &OrderCreateLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		lock:    NewCreateLock(client, redisCfg.OrderCreateLockTTL),
		rate:    redisCfg.OrderCreateRate,
		burst:   redisCfg.OrderCreateBurst,
	}, nil
}

func (l *OrderCreateLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *OrderCreateLimiter) AllowClient(ctx context.Context, clientID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyOrderCreateClient, strings.TrimSpace(clientID)), l.rate, l.burst)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *OrderCreateLimiter) TryLock(ctx context.Context, clientID, productKey string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.lock.Acquire(ctx, clientID, productKey)
}

func (l *OrderCreateLimiter) Release(ctx context.Context, clientID, productKey, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.lock.Release(ctx, clientID, productKey, token)
}
