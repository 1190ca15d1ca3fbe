package domain

import "errors"

// Error kinds. Concrete errors wrap one of these so callers can branch with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidOrExpired  = errors.New("coupon is invalid or expired")
	ErrConflict          = errors.New("conflict")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrForbidden         = errors.New("forbidden")
)
