// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotAuthorized indicates the caller fails role/case-membership checks.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNoGrant indicates the caller holds no wrapped content key for the record.
	ErrNoGrant = errors.New("no grant")

	// ErrBadSecret indicates the supplied unlocking secret does not unwrap the key material.
	ErrBadSecret = errors.New("bad secret")

	// ErrAlreadyGranted indicates the recipient already holds a wrapped key for the record.
	ErrAlreadyGranted = errors.New("already granted")

	// ErrLastGrantProtected indicates a revoke that would remove the sole remaining grant.
	ErrLastGrantProtected = errors.New("last grant protected")

	// ErrAuditUnavailable indicates the audit sink is down; the triggering action must fail.
	ErrAuditUnavailable = errors.New("audit unavailable")

	// ErrCorruptRecord indicates ciphertext or tag failed authentication with a valid key.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrRateLimited indicates temporary lockout after repeated bad secrets.
	ErrRateLimited = errors.New("rate limited")
)

// IsDenial reports whether err belongs to the denial class that callers must
// see as a single generic "access denied" (no oracle distinguishing the cause).
func IsDenial(err error) bool {
	return errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrNoGrant) ||
		errors.Is(err, ErrBadSecret) ||
		errors.Is(err, ErrRateLimited)
}
