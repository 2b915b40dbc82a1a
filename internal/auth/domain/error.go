package domain

import "errors"

var (
	ErrMissingToken   = errors.New("missing token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrNotConfigured  = errors.New("token verification not configured")
	ErrInvalidSubject = errors.New("invalid subject")
)
