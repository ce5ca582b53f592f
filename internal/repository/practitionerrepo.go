// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"wellvault/internal/model"
)

// PractitionerRepository provides access to enrolled practitioners and their
// public key material. Secrets and KEKs are never stored.
type PractitionerRepository interface {
	// Create inserts a new practitioner.
	Create(ctx context.Context, p *model.Practitioner) error
	// GetByID loads a practitioner by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Practitioner, error)
	// GetByUsername loads a practitioner by username.
	GetByUsername(ctx context.Context, username string) (*model.Practitioner, error)
}
