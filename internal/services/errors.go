package services

import "errors"

var (
	// ErrForbidden is returned when the caller does not own the target record.
	ErrForbidden = errors.New("forbidden")

	// ErrEmailTaken is returned when an email is already registered.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned on a password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for malformed, expired or revoked tokens.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrImageRequired is returned when a listing is created without a photo.
	ErrImageRequired = errors.New("image is required")
)
