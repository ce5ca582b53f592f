// Package limiter rate-limits unlocking-secret attempts to blunt
// secret-guessing against the access gate.
package limiter

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Limiter controls secret attempts per practitioner and temporary lockouts.
type Limiter interface {
	// Allow reports whether gate attempts are currently allowed and an
	// optional retry-after.
	Allow(ctx context.Context, practitionerID uuid.UUID) (bool, time.Duration, error)
	// Success resets counters after a correct secret.
	Success(ctx context.Context, practitionerID uuid.UUID) error
	// Failure records a bad secret; may place a temporary block.
	Failure(ctx context.Context, practitionerID uuid.UUID) (bool, time.Duration, error)
}
