package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the part of *pgxpool.Pool the limiter needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG is a PostgreSQL-backed limiter with a failure window and lockout.
type PG struct {
	db       Querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewPG constructs a PostgreSQL-backed limiter over the access_limiter table.
func NewPG(db Querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{db: db, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether attempts are currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, scope string, keyHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM access_limiter WHERE scope=$1 AND key_hash=$2`
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, q, scope, keyHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if now := l.now(); blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (scope, key).
func (l *PG) Success(ctx context.Context, scope string, keyHash []byte) error {
	const q = `
INSERT INTO access_limiter (scope, key_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,0,'epoch',now())
ON CONFLICT (scope, key_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.db.Exec(ctx, q, scope, keyHash)
	return err
}

// Failure records a failed attempt; the counter restarts when the previous failure is older than the window.
func (l *PG) Failure(ctx context.Context, scope string, keyHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO access_limiter (scope, key_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',now())
ON CONFLICT (scope, key_hash) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - access_limiter.updated_at > $3::interval THEN 1 ELSE access_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.db.QueryRow(ctx, q, scope, keyHash, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}

	const upd = `UPDATE access_limiter SET blocked_until=$3 WHERE scope=$1 AND key_hash=$2`
	if _, err := l.db.Exec(ctx, upd, scope, keyHash, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
