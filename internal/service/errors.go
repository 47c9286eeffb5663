package service

import "errors"

// Failure taxonomy surfaced to the transport layer. The HTTP layer maps
// these onto the response envelope; anything else is an internal error and
// must not reach the client verbatim.
var (
	ErrInvalidRole        = errors.New("invalid user role")
	ErrEmailTaken         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)
