package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"wellvault/internal/model"
)

// AuditRepository is the append-only audit trail. There is deliberately no
// update or delete operation; entries are hash-chained per record on append.
type AuditRepository interface {
	// Append writes one entry. Used directly for denial entries; successful
	// mutations append through their own repository transaction instead.
	Append(ctx context.Context, entry *model.AuditEntry) error

	// Trail returns the record's entries in append order.
	Trail(ctx context.Context, recordID uuid.UUID) ([]model.AuditEntry, error)
}
