package limiter

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed limiter with a sliding window and lockout.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: pool, window: window, maxFails: maxFails, blockFor: blockFor}
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter over any querier.
func NewPGWithQuerier(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor}
}

// Allow reports whether attempts are allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, practitionerID uuid.UUID) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM secret_limiter WHERE practitioner_id=$1`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, practitionerID).Scan(&blockedUntil)
	switch err {
	case nil:
		if blockedUntil.After(time.Now()) {
			return false, time.Until(blockedUntil), nil
		}
		return true, 0, nil
	case pgx.ErrNoRows:
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for the practitioner.
func (l *PG) Success(ctx context.Context, practitionerID uuid.UUID) error {
	const q = `
INSERT INTO secret_limiter (practitioner_id, fail_count, blocked_until, updated_at)
VALUES ($1,0,'epoch',now())
ON CONFLICT (practitioner_id)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, practitionerID)
	return err
}

// Failure records a bad secret; may set a block until a future time.
func (l *PG) Failure(ctx context.Context, practitionerID uuid.UUID) (bool, time.Duration, error) {
	now := time.Now()

	const q = `
INSERT INTO secret_limiter (practitioner_id, fail_count, blocked_until, updated_at)
VALUES ($1,1,'epoch',now())
ON CONFLICT (practitioner_id) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - secret_limiter.updated_at > $2::interval THEN 1 ELSE secret_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, practitionerID, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails >= l.maxFails {
		blockUntil := now.Add(l.blockFor)
		const upd = `UPDATE secret_limiter SET blocked_until=$2 WHERE practitioner_id=$1`
		if _, err := l.pool.Exec(ctx, upd, practitionerID, blockUntil); err != nil {
			return false, 0, err
		}
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
