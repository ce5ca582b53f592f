// Package authz consumes the case-membership facts owned by the surrounding
// case platform. It answers one question: may this practitioner act on this
// case. Roles and sessions are the authentication layer's concern.
package authz

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CaseAccess reports whether a practitioner is a member of a case.
type CaseAccess interface {
	CanAccess(ctx context.Context, practitionerID, caseID uuid.UUID) (bool, error)
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG answers case-membership lookups from the case_members table.
type PG struct{ pool pgxQuerier }

// NewPG constructs a PostgreSQL-backed membership checker.
func NewPG(pool pgxQuerier) *PG { return &PG{pool: pool} }

// CanAccess reports membership; absence of a row means no access.
func (a *PG) CanAccess(ctx context.Context, practitionerID, caseID uuid.UUID) (bool, error) {
	const q = `SELECT 1 FROM case_members WHERE case_id=$1 AND practitioner_id=$2`
	var one int
	err := a.pool.QueryRow(ctx, q, caseID, practitionerID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddMember records a membership fact. Exposed for the surrounding platform
// and for seeding; the vault itself never grants memberships.
func (a *PG) AddMember(ctx context.Context, practitionerID, caseID uuid.UUID) error {
	const q = `
INSERT INTO case_members (case_id, practitioner_id) VALUES ($1,$2)
ON CONFLICT DO NOTHING`
	_, err := a.pool.Exec(ctx, q, caseID, practitionerID)
	return err
}
