package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"wellvault/internal/errs"
	"wellvault/internal/model"
)

// RecordRepo implements RecordRepository using PostgreSQL. Every mutation
// writes its audit entry in the same transaction.
type RecordRepo struct{ db *DB }

// NewRecordRepo constructs a record repository.
func NewRecordRepo(db *DB) *RecordRepo { return &RecordRepo{db: db} }

// Create inserts the record, the creator's wrapped key, and the create audit
// entry atomically. A record is never persisted without at least one grant.
func (r *RecordRepo) Create(
	ctx context.Context, rec *model.WellbeingRecord, wck *model.WrappedContentKey, entry *model.AuditEntry,
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

	const insRec = `
INSERT INTO wellbeing_records (id, case_id, client_id, ciphertext, nonce, tag)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING created_at, updated_at`
	if err = tx.QueryRow(ctx, insRec,
		rec.ID, rec.CaseID, rec.ClientID, rec.Ciphertext, rec.Nonce, rec.Tag,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return err
	}

	const insKey = `
INSERT INTO wrapped_content_keys (record_id, practitioner_id, wrapped_key, wrapped_by)
VALUES ($1,$2,$3,$4)`
	if _, err = tx.Exec(ctx, insKey, wck.RecordID, wck.PractitionerID, wck.WrappedKey, wck.WrappedBy); err != nil {
		return err
	}

	return appendTx(ctx, tx, entry)
}

// Get loads a record envelope by ID.
func (r *RecordRepo) Get(ctx context.Context, id uuid.UUID) (*model.WellbeingRecord, error) {
	const q = `
SELECT id, case_id, client_id, ciphertext, nonce, tag, created_at, updated_at
FROM wellbeing_records WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var rec model.WellbeingRecord
	if err := row.Scan(&rec.ID, &rec.CaseID, &rec.ClientID, &rec.Ciphertext, &rec.Nonce, &rec.Tag, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &rec, nil
}

// UpdateCiphertext replaces the payload under the record's row lock and
// audits the update in the same transaction.
func (r *RecordRepo) UpdateCiphertext(
	ctx context.Context, id uuid.UUID, ciphertext, nonce, tag []byte, entry *model.AuditEntry,
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
	if err = tx.QueryRow(ctx, sel, id).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}

	const upd = `
UPDATE wellbeing_records SET ciphertext=$2, nonce=$3, tag=$4, updated_at=now()
WHERE id=$1`
	if _, err = tx.Exec(ctx, upd, id, ciphertext, nonce, tag); err != nil {
		return err
	}

	return appendTx(ctx, tx, entry)
}

// Delete removes the record and all its wrapped keys, appending a final
// audit entry first. Audit rows are kept: the trail outlives the record.
func (r *RecordRepo) Delete(ctx context.Context, id uuid.UUID, entry *model.AuditEntry) (err error) {
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
	if err = tx.QueryRow(ctx, sel, id).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}

	if err = appendTx(ctx, tx, entry); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM wrapped_content_keys WHERE record_id=$1`, id); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM wellbeing_records WHERE id=$1`, id); err != nil {
		return err
	}
	return nil
}

// List returns metadata-only summaries matching the filter.
func (r *RecordRepo) List(ctx context.Context, f model.RecordFilter) ([]model.RecordSummary, error) {
	q := `
SELECT id, case_id, client_id, created_at, updated_at
FROM wellbeing_records
WHERE 1=1`
	args := []any{}
	if f.CaseID != uuid.Nil {
		args = append(args, f.CaseID)
		q += fmt.Sprintf(" AND case_id=$%d", len(args))
	}
	if f.ClientID != uuid.Nil {
		args = append(args, f.ClientID)
		q += fmt.Sprintf(" AND client_id=$%d", len(args))
	}
	q += " ORDER BY created_at ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RecordSummary
	for rows.Next() {
		var s model.RecordSummary
		if err := rows.Scan(&s.ID, &s.CaseID, &s.ClientID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
