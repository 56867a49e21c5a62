// Package limiter defines interfaces and implementations for failure-based rate limiting
// of credential checks (magic-link activation, operator key).
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Scopes used by the service.
const (
	ScopeActivate = "activate"
	ScopeOperator = "operator"
)

// Limiter counts failures per (scope, key) and places temporary blocks.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and, if not, the remaining block time.
	Allow(ctx context.Context, scope string, keyHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, scope string, keyHash []byte) error
	// Failure records a failed attempt; it may place a temporary block.
	Failure(ctx context.Context, scope string, keyHash []byte) (bool, time.Duration, error)
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
