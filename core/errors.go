package core

import "errors"

var (
	ErrUpstreamAuth          = errors.New("github authentication failed")
	ErrNoIdentitySession     = errors.New("no github identity in session")
	ErrNoVerificationSession = errors.New("no verification session")
	ErrSessionExpired        = errors.New("verification session expired")
	ErrInvalidAddress        = errors.New("invalid wallet address")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrOracleUnavailable     = errors.New("nonce oracle unavailable")
	ErrInvalidState          = errors.New("invalid oauth state")
	ErrInvalidToken          = errors.New("invalid token")
	ErrNotFound              = errors.New("not found")
)
