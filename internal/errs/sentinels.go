// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across client/relay layers.
var (
	// ErrDecryption indicates a wrong family key or a corrupted envelope.
	// Both cases surface identically; recoverable only by re-entering credentials.
	ErrDecryption = errors.New("decryption failed")

	// ErrNotFound indicates no session/invite exists for the given credentials.
	// A wrong key and an unknown family id are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the relay could not be reached; callers fall
	// back to the local cache and treat sync as best-effort.
	ErrUnavailable = errors.New("relay unavailable")

	// ErrValidation indicates missing or malformed input caught before any I/O.
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited indicates a temporary lock on invite lookups.
	ErrRateLimited = errors.New("rate limited")
)
