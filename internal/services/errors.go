// Package services implements the identity layer: identity registration and
// profile management, session token issuance, and maintenance of the derived
// uniqueness index.
//
// This file centralizes the service-level error values. Callers match them
// with errors.Is; translation into HTTP status codes and client-facing
// statuses happens in the handler layer.
package services

import "errors"

var (
	// ErrInvalidArgument is returned when an input fails validation. It is
	// usually wrapped with the offending field, e.g. "invalid argument:
	// username too long".
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUsernameTaken is returned when the requested username belongs to
	// another identity.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrEmailTaken is returned when the requested email belongs to another
	// identity.
	ErrEmailTaken = errors.New("email already registered")

	// ErrLoginFailed covers both an unknown identifier and a wrong password.
	ErrLoginFailed = errors.New("wrong login info")

	// ErrNotFound is returned for unknown identities and unknown tokens.
	ErrNotFound = errors.New("not found")

	// ErrIndexUnavailable wraps Index store failures.
	ErrIndexUnavailable = errors.New("index unavailable")
)
