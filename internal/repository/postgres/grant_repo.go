package postgres

import (
	"context"

	"github.com/and161185/weightcalc/internal/errs"
	"github.com/and161185/weightcalc/internal/model"
	"github.com/and161185/weightcalc/internal/repository"
)

// GrantRepo implements GrantRepository using PostgreSQL.
type GrantRepo struct{ db *DB }

var _ repository.GrantRepository = (*GrantRepo)(nil)

// NewGrantRepo constructs a grant repository.
func NewGrantRepo(db *DB) *GrantRepo { return &GrantRepo{db: db} }

// Record inserts a grant row.
func (r *GrantRepo) Record(ctx context.Context, g *model.Grant) error {
	const q = `
INSERT INTO grants (id, email, open_slug, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, g.ID, g.Email, g.Open, g.IssuedAt, g.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// ListByEmail selects grants for email, newest first.
func (r *GrantRepo) ListByEmail(ctx context.Context, email string) ([]model.Grant, error) {
	const q = `
SELECT id, email, open_slug, issued_at, expires_at
FROM grants WHERE email=$1
ORDER BY issued_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Grant
	for rows.Next() {
		var g model.Grant
		if err := rows.Scan(&g.ID, &g.Email, &g.Open, &g.IssuedAt, &g.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
