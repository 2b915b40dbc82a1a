package domain

import (
	"context"
	"time"
)

type Service interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
	Issue(identity Identity, ttl time.Duration) (string, error)
}
