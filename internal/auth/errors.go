package auth

import "errors"

var (
	// ErrInvalidToken indicates an access or refresh token failed validation.
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrUnauthorized     = errors.New("auth: unauthorized")
	ErrInvalidInput     = errors.New("auth: invalid input")
	errMissingSecret    = errors.New("auth: secret is not configured")
	errMalformedRefresh = errors.New("auth: invalid refresh token format")
)
