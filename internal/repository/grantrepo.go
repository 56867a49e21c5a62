// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/weightcalc/internal/model"
)

// GrantRepository is an append-only audit log of issued grants.
// Verification never consults it.
type GrantRepository interface {
	// Record stores grant metadata (not the token).
	Record(ctx context.Context, g *model.Grant) error
	// ListByEmail returns grants for a normalized e-mail, newest first.
	ListByEmail(ctx context.Context, email string) ([]model.Grant, error)
}
