package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/pixorder/internal/auth/domain"
	"github.com/smallbiznis/pixorder/internal/clock"
	"github.com/smallbiznis/pixorder/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const clockSkew = 30 * time.Second

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	log    *zap.Logger
	clock  clock.Clock
	secret []byte
	issuer string
}

// Claims carries the identity fields asserted by the identity provider. The
// subject is the stable client id.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func New(p Params) domain.Service {
	svc := &Service{
		log:    p.Log.Named("auth.service"),
		clock:  p.Clock,
		secret: []byte(p.Cfg.AuthJWTSecret),
		issuer: p.Cfg.AuthJWTIssuer,
	}
	if len(svc.secret) == 0 {
		svc.log.Warn("AUTH_JWT_SECRET is empty; all authenticated routes will reject requests")
	}
	return svc
}

func (s *Service) Authenticate(ctx context.Context, raw string) (*domain.Identity, error) {
	if len(s.secret) == 0 {
		return nil, domain.ErrNotConfigured
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(s.clock.Now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrInvalidToken
	}
	if !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, domain.ErrInvalidSubject
	}
	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		role = domain.RoleClient
	}

	return &domain.Identity{
		SubjectID: subject,
		Role:      role,
		Email:     strings.TrimSpace(claims.Email),
		Name:      strings.TrimSpace(claims.Name),
	}, nil
}

// Issue signs a token for identity. It backs local tooling and tests; the
// identity provider issues production tokens with the same secret.
func (s *Service) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", domain.ErrNotConfigured
	}
	if strings.TrimSpace(identity.SubjectID) == "" {
		return "", domain.ErrInvalidSubject
	}
	now := s.clock.Now()
	claims := &Claims{
		Role:  string(identity.Role),
		Email: identity.Email,
		Name:  identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
