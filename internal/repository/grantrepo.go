package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"wellvault/internal/model"
)

// GrantRepository tracks wrapped content keys. All mutations serialize on
// the owning record's row so a concurrent grant and revoke cannot leave a
// record with zero grants unobserved.
type GrantRepository interface {
	// Get returns the wrapped key for (record, practitioner), or errs.ErrNoGrant.
	Get(ctx context.Context, recordID, practitionerID uuid.UUID) (*model.WrappedContentKey, error)

	// Insert adds a grant and its audit entry atomically. Returns
	// errs.ErrAlreadyGranted if the recipient already holds a key.
	Insert(ctx context.Context, wck *model.WrappedContentKey, entry *model.AuditEntry) error

	// Delete revokes one practitioner's grant. Unless allowLast is set it
	// refuses to remove the sole remaining grant with
	// errs.ErrLastGrantProtected and rolls the transaction back.
	Delete(ctx context.Context, recordID, practitionerID uuid.UUID, allowLast bool, entry *model.AuditEntry) error

	// DeleteAll removes every grant for the record (admin offboarding).
	// The entry must carry the irrecoverable-data acknowledgment.
	DeleteAll(ctx context.Context, recordID uuid.UUID, entry *model.AuditEntry) error

	// ListGrantees returns practitioner IDs holding a grant; never key bytes.
	ListGrantees(ctx context.Context, recordID uuid.UUID) ([]uuid.UUID, error)
}
