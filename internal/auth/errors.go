package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrConflict      = errors.New("auth: resource conflict")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")
	ErrRoleInUse     = errors.New("auth: role is still assigned to users")
	ErrInvalidPolicy = errors.New("auth: invalid policy")
)

// Token errors. Callers branch on these with errors.Is to choose a response code.
var (
	ErrTokenExpired          = errors.New("auth: token expired")
	ErrTokenMalformed        = errors.New("auth: token malformed")
	ErrInvalidSignature      = errors.New("auth: invalid token signature")
	ErrInvalidTokenType      = errors.New("auth: invalid token type")
	ErrSigningKeyUnavailable = errors.New("auth: signing key is not configured")
)
