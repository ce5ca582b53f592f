package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"wellvault/internal/errs"
	"wellvault/internal/model"
)

// PractitionerRepo implements PractitionerRepository using PostgreSQL.
type PractitionerRepo struct{ db *DB }

// NewPractitionerRepo constructs a practitioner repository.
func NewPractitionerRepo(db *DB) *PractitionerRepo { return &PractitionerRepo{db: db} }

// Create inserts a new practitioner row.
func (r *PractitionerRepo) Create(ctx context.Context, p *model.Practitioner) error {
	const q = `
INSERT INTO practitioners (id, username, display_name, role, auth_salt, secret_verifier, kek_salt, pub_key, wrapped_priv_key)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.db.Pool.Exec(ctx, q,
		p.ID, p.Username, p.DisplayName, string(p.Role),
		p.AuthSalt, p.SecretVerifier, p.KekSalt, p.PubKey, p.WrappedPrivKey)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a practitioner by ID.
func (r *PractitionerRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Practitioner, error) {
	const q = `
SELECT id, username, display_name, role, auth_salt, secret_verifier, kek_salt, pub_key, wrapped_priv_key, created_at
FROM practitioners WHERE id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUsername selects a practitioner by username.
func (r *PractitionerRepo) GetByUsername(ctx context.Context, username string) (*model.Practitioner, error) {
	const q = `
SELECT id, username, display_name, role, auth_salt, secret_verifier, kek_salt, pub_key, wrapped_priv_key, created_at
FROM practitioners WHERE username=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, username))
}

type rowScanner interface{ Scan(dest ...any) error }

func (r *PractitionerRepo) scanOne(row rowScanner) (*model.Practitioner, error) {
	var p model.Practitioner
	var role string
	if err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &role,
		&p.AuthSalt, &p.SecretVerifier, &p.KekSalt, &p.PubKey, &p.WrappedPrivKey, &p.CreatedAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	p.Role = model.Role(role)
	return &p, nil
}
