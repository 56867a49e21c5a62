// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Grant is one issued premium access: the token handed to the buyer and the link that activates it.
// Token and AccessURL are never persisted.
type Grant struct {
	ID        uuid.UUID
	Email     string // normalized: trimmed, lower-case
	Open      string // optional calculator slug to land on after activation
	Token     string
	AccessURL string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
