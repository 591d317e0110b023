package auth

import "errors"

var (
	// ErrUnauthorized indicates a request without credentials.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrForbidden indicates a role below the one required.
	ErrForbidden = errors.New("auth: forbidden")
	// ErrInvalidToken indicates a malformed, expired or unsigned token.
	ErrInvalidToken = errors.New("auth: invalid token")
)
