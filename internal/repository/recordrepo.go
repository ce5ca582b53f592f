package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"wellvault/internal/model"
)

// RecordRepository persists encrypted wellbeing records. Mutations take the
// audit entry that proves them and write it in the same transaction, so no
// mutation can land un-audited.
type RecordRepository interface {
	// Create inserts a record together with its initial wrapped content key
	// (the creator's) and the create audit entry, atomically.
	Create(ctx context.Context, rec *model.WellbeingRecord, wck *model.WrappedContentKey, entry *model.AuditEntry) error

	// Get loads a record envelope (ciphertext, never plaintext).
	Get(ctx context.Context, id uuid.UUID) (*model.WellbeingRecord, error)

	// UpdateCiphertext replaces the encrypted payload and audits the update.
	UpdateCiphertext(ctx context.Context, id uuid.UUID, ciphertext, nonce, tag []byte, entry *model.AuditEntry) error

	// Delete removes the record and every wrapped key for it, appending a
	// final audit entry. The trail itself survives deletion.
	Delete(ctx context.Context, id uuid.UUID, entry *model.AuditEntry) error

	// List returns metadata-only summaries matching the filter.
	List(ctx context.Context, f model.RecordFilter) ([]model.RecordSummary, error)
}
