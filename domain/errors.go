package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrTransient       = errors.New("temporarily unavailable")
	ErrInvalidActivity = errors.New("invalid activity")
	ErrInvalidInput    = errors.New("invalid input")
)
