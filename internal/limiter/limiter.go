// Package limiter rate-limits invite code lookups. Invite codes are short,
// so unauthenticated guessing against GET /api/invite/{code} must be throttled.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls lookup attempts and temporary lockouts per client.
type Limiter interface {
	// Allow reports whether a lookup is currently allowed and optional retry-after.
	Allow(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful lookup.
	Success(ctx context.Context, scope string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error)
}

// ScopeInvite is the scope under which invite lookups are limited.
const ScopeInvite = "invite"

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
