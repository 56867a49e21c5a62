// Package entitlement derives the premium/free state of a request from the presented access token.
package entitlement

import (
	"github.com/and161185/weightcalc/internal/token"
)

// Verifier is the subset of token.Codec the resolver depends on.
type Verifier interface {
	Verify(tok string) (token.Claim, error)
}

// State is the derived entitlement of one request. It is never stored.
type State struct {
	Premium bool
	// Subject is set only when Premium.
	Subject string
	// Reason is set only when not Premium.
	Reason token.Reason
}

// Premium returns the entitled state for subject.
func Premium(subject string) State { return State{Premium: true, Subject: subject} }

// Free returns the unentitled state with the reason it was reached.
func Free(reason token.Reason) State { return State{Reason: reason} }

// Resolver answers "is this request premium?".
type Resolver struct {
	tokens Verifier
}

// NewResolver constructs a Resolver over v.
func NewResolver(v Verifier) *Resolver {
	return &Resolver{tokens: v}
}

// Resolve maps the raw cookie value to a State. Every call re-verifies; nothing is cached.
// A non-nil error is returned only for configuration failures (missing secret).
func (r *Resolver) Resolve(cookieValue string) (State, error) {
	if cookieValue == "" {
		return Free(token.ReasonNoToken), nil
	}
	claim, err := r.tokens.Verify(cookieValue)
	if err == nil {
		return Premium(claim.Subject), nil
	}
	if reason, ok := token.ReasonOf(err); ok {
		return Free(reason), nil
	}
	return State{}, err
}
