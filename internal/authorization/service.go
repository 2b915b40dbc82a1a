package authorization

import (
	"context"

	authdomain "github.com/smallbiznis/pixorder/internal/auth/domain"
)

type Service interface {
	Authorize(ctx context.Context, identity *authdomain.Identity, object string, action string) error
}
