// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across service/transport layers.
var (
	// ErrInvalidInput indicates a caller-supplied value failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates failed authentication of an operator request.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a temporary block after repeated failures.
	ErrRateLimited = errors.New("rate limited")

	// ErrSecretMissing indicates the token signing secret is not configured.
	// It is a deployment error, never a per-request outcome.
	ErrSecretMissing = errors.New("token secret missing")

	// ErrAlreadyExists indicates a unique key collision on insert.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDisabled indicates a feature that is switched off by configuration.
	ErrDisabled = errors.New("disabled")
)
