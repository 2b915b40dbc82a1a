package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyOrderCreateLock     = "order:create:%s:%s"
	defaultCreateLockTTL   = 30 * time.Second
	createLockReleaseGuard = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`
)

var (
	ErrLockNotConfigured = errors.New("create_lock_not_configured")
	ErrInvalidLockKey    = errors.New("create_lock_invalid_key")
)

// CreateLock holds one order creation per client and product at a time, so
// a double submit cannot open two PIX charges. The holder's token must match
// on release; an expired lock is never deleted by its former holder.
type CreateLock struct {
	client  *redis.Client
	release *redis.Script
	ttl     time.Duration
}

func NewCreateLock(client *redis.Client, ttl time.Duration) *CreateLock {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultCreateLockTTL
	}
	return &CreateLock{
		client:  client,
		release: redis.NewScript(createLockReleaseGuard),
		ttl:     ttl,
	}
}

func (l *CreateLock) TTL() time.Duration {
	if l == nil {
		return 0
	}
	return l.ttl
}

// CreateLockKey is the redis key guarding one client's checkout of a product.
func CreateLockKey(clientID, productKey string) (string, error) {
	clientID = strings.TrimSpace(clientID)
	productKey = strings.ToLower(strings.TrimSpace(productKey))
	if clientID == "" || productKey == "" {
		return "", ErrInvalidLockKey
	}
	return fmt.Sprintf(keyOrderCreateLock, clientID, productKey), nil
}

// Acquire returns the holder token when the lock was taken.
func (l *CreateLock) Acquire(ctx context.Context, clientID, productKey string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLockNotConfigured
	}
	key, err := CreateLockKey(clientID, productKey)
	if err != nil {
		return "", false, err
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *CreateLock) Release(ctx context.Context, clientID, productKey, token string) error {
	if l == nil || l.client == nil || token == "" {
		return nil
	}
	key, err := CreateLockKey(clientID, productKey)
	if err != nil {
		return err
	}
	return l.release.Run(ctx, l.client, []string{key}, token).Err()
}
