package postgres

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"wellvault/internal/model"
)

// AuditRepo implements AuditRepository using PostgreSQL. The audit_entries
// table is insert-only; no repository method updates or deletes rows.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// execQuerier is satisfied by pgx.Tx and by pool mocks; audit appends run
// inside whatever transaction proves the action.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// chainHash binds an entry to its predecessor. Field order is fixed; any
// post-hoc edit of a stored entry breaks every hash after it.
func chainHash(prev []byte, e *model.AuditEntry) []byte {
	h := sha256.New()
	h.Write(prev)
	h.Write(e.RecordID.Bytes())
	h.Write(e.ActorID.Bytes())
	h.Write([]byte(e.Action))
	h.Write([]byte(e.Outcome))
	h.Write([]byte(e.Detail))
	h.Write([]byte(e.At.UTC().Format(time.RFC3339Nano)))
	return h.Sum(nil)
}

// appendTx links the entry to the record's chain and inserts it. Callers
// must hold the record's row lock (or be creating the record) so chain
// linkage is serialized per record.
func appendTx(ctx context.Context, q execQuerier, e *model.AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	const last = `SELECT entry_hash FROM audit_entries WHERE record_id=$1 ORDER BY id DESC LIMIT 1`
	var prev []byte
	if err := q.QueryRow(ctx, last, e.RecordID).Scan(&prev); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		prev = nil
	}
	e.PrevHash = prev
	e.EntryHash = chainHash(prev, e)

	const ins = `
INSERT INTO audit_entries (record_id, actor_id, action, outcome, detail, prev_hash, entry_hash, at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id`
	return q.QueryRow(ctx, ins,
		e.RecordID, e.ActorID, string(e.Action), string(e.Outcome), e.Detail,
		e.PrevHash, e.EntryHash, e.At,
	).Scan(&e.ID)
}

// lockRecord serializes concurrent appends and grant-set mutations on one
// record. A missing row is not an error here: denial entries may outlive
// the record they reference.
func lockRecord(ctx context.Context, q execQuerier, recordID uuid.UUID) error {
	const q1 = `SELECT id FROM wellbeing_records WHERE id=$1 FOR UPDATE`
	var id uuid.UUID
	if err := q.QueryRow(ctx, q1, recordID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	return nil
}

// Append writes one entry in its own transaction. Used for denial entries,
// which have no accompanying mutation.
func (r *AuditRepo) Append(ctx context.Context, entry *model.AuditEntry) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if err = lockRecord(ctx, tx, entry.RecordID); err != nil {
		return err
	}
	return appendTx(ctx, tx, entry)
}

// Trail returns the record's entries in append order.
func (r *AuditRepo) Trail(ctx context.Context, recordID uuid.UUID) ([]model.AuditEntry, error) {
	const q = `
SELECT id, record_id, actor_id, action, outcome, detail, prev_hash, entry_hash, at
FROM audit_entries
WHERE record_id=$1
ORDER BY id ASC`
	rows, err := r.db.Pool.Query(ctx, q, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var action, outcome string
		if err := rows.Scan(&e.ID, &e.RecordID, &e.ActorID, &action, &outcome, &e.Detail, &e.PrevHash, &e.EntryHash, &e.At); err != nil {
			return nil, err
		}
		e.Action = model.AuditAction(action)
		e.Outcome = model.AuditOutcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}
