package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"wellvault/internal/errs"
	"wellvault/internal/model"
)

// GrantRepo implements GrantRepository using PostgreSQL. Mutations lock the
// owning record row so grant and revoke on the same record serialize, and
// the last-grant invariant is checked under that lock.
type GrantRepo struct{ db *DB }

// NewGrantRepo constructs a grant repository.
func NewGrantRepo(db *DB) *GrantRepo { return &GrantRepo{db: db} }

// Get returns the wrapped key for (record, practitioner).
func (r *GrantRepo) Get(ctx context.Context, recordID, practitionerID uuid.UUID) (*model.WrappedContentKey, error) {
	const q = `
SELECT record_id, practitioner_id, wrapped_key, wrapped_by, created_at
FROM wrapped_content_keys
WHERE record_id=$1 AND practitioner_id=$2`
	row := r.db.Pool.QueryRow(ctx, q, recordID, practitionerID)
	var w model.WrappedContentKey
	if err := row.Scan(&w.RecordID, &w.PractitionerID, &w.WrappedKey, &w.WrappedBy, &w.CreatedAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNoGrant
	}
	return &w, nil
}

// Insert adds a grant row and its audit entry atomically.
func (r *GrantRepo) Insert(ctx context.Context, wck *model.WrappedContentKey, entry *model.AuditEntry) (err error) {
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

	const sel = `SELECT id FROM wellbeing_records WHERE id=$1 FOR UPDATE`
	var got uuid.UUID
	if err = tx.QueryRow(ctx, sel, wck.RecordID).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}

	const ins = `
INSERT INTO wrapped_content_keys (record_id, practitioner_id, wrapped_key, wrapped_by)
VALUES ($1,$2,$3,$4)`
	if _, err = tx.Exec(ctx, ins, wck.RecordID, wck.PractitionerID, wck.WrappedKey, wck.WrappedBy); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyGranted
		}
		return err
	}

	return appendTx(ctx, tx, entry)
}

// Delete revokes one grant under the record lock. Removing the sole
// remaining grant is refused unless allowLast is set (admin revoke-all goes
// through DeleteAll instead).
func (r *GrantRepo) Delete(
	ctx context.Context, recordID, practitionerID uuid.UUID, allowLast bool, entry *model.AuditEntry,
) (err error) {
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

	const sel = `SELECT id FROM wellbeing_records WHERE id=$1 FOR UPDATE`
	var got uuid.UUID
	if err = tx.QueryRow(ctx, sel, recordID).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}

	const cnt = `SELECT count(*) FROM wrapped_content_keys WHERE record_id=$1`
	var total int64
	if err = tx.QueryRow(ctx, cnt, recordID).Scan(&total); err != nil {
		return err
	}

	const del = `DELETE FROM wrapped_content_keys WHERE record_id=$1 AND practitioner_id=$2`
	tag, err := tx.Exec(ctx, del, recordID, practitionerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNoGrant
	}
	if total <= 1 && !allowLast {
		return errs.ErrLastGrantProtected
	}

	return appendTx(ctx, tx, entry)
}

// DeleteAll removes every grant for the record. The caller's entry must
// carry the irrecoverable-data acknowledgment; it is committed atomically
// with the deletion.
func (r *GrantRepo) DeleteAll(ctx context.Context, recordID uuid.UUID, entry *model.AuditEntry) (err error) {
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

	const sel = `SELECT id FROM wellbeing_records WHERE id=$1 FOR UPDATE`
	var got uuid.UUID
	if err = tx.QueryRow(ctx, sel, recordID).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM wrapped_content_keys WHERE record_id=$1`, recordID); err != nil {
		return err
	}
	return appendTx(ctx, tx, entry)
}

// ListGrantees returns practitioner IDs holding a grant for the record.
func (r *GrantRepo) ListGrantees(ctx context.Context, recordID uuid.UUID) ([]uuid.UUID, error) {
	const q = `
SELECT practitioner_id FROM wrapped_content_keys
WHERE record_id=$1
ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
