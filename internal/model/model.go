// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the caller's asserted role, supplied by the authentication layer.
type Role string

const (
	RolePractitioner Role = "practitioner"
	RoleAdmin        Role = "admin"
)

// Wellbeing record status values.
const (
	StatusActive       = "Active"
	StatusOnHold       = "On Hold"
	StatusCompleted    = "Completed"
	StatusDiscontinued = "Discontinued"
)

// Practitioner is a wellbeing professional enrolled in the vault.
// Key material: only a salted verifier of the unlocking secret is stored;
// the KEK is rederived transiently per request. The Curve25519 public key is
// the wrap target for grants; its private half is stored AEAD-wrapped under
// the KEK and can only be unlocked with the practitioner's secret.
type Practitioner struct {
	ID             uuid.UUID
	Username       string // unique
	DisplayName    string
	Role           Role
	AuthSalt       []byte // per-practitioner verifier salt
	SecretVerifier []byte // Argon2id(secret, AuthSalt)
	KekSalt        []byte // per-practitioner KEK salt
	PubKey         []byte // Curve25519 wrap target (32 bytes)
	WrappedPrivKey []byte // AEAD(privkey) under KEK
	CreatedAt      time.Time
}

// RecordFields is the clinical payload of a wellbeing record. It is
// serialized as a single JSON unit and encrypted as a whole; none of these
// fields ever persist in plaintext.
type RecordFields struct {
	AssessmentDate time.Time `json:"assessment_date"`
	TreatmentPlan  string    `json:"treatment_plan"`
	CurrentStatus  string    `json:"current_status"`
	Notes          string    `json:"notes"`
}

// WellbeingRecord is the persisted envelope around an encrypted clinical
// payload. It is unreadable without a wrapped content key for the caller.
type WellbeingRecord struct {
	ID         uuid.UUID
	CaseID     uuid.UUID
	ClientID   uuid.UUID
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WrappedContentKey is one grant: the record's CEK sealed to one
// practitioner's wrap target. Deleting the row is revocation; a record with
// zero rows is permanently unrecoverable.
type WrappedContentKey struct {
	RecordID       uuid.UUID
	PractitionerID uuid.UUID
	WrappedKey     []byte    // sealed box of the CEK to PractitionerID's pubkey
	WrappedBy      uuid.UUID // practitioner who produced this wrap
	CreatedAt      time.Time
}

// AuditAction is the kind of action an audit entry records.
type AuditAction string

const (
	AuditCreate    AuditAction = "create"
	AuditRead      AuditAction = "read"
	AuditUpdate    AuditAction = "update"
	AuditGrant     AuditAction = "grant"
	AuditRevoke    AuditAction = "revoke"
	AuditRevokeAll AuditAction = "revoke_all"
	AuditDelete    AuditAction = "delete"
)

// AuditOutcome distinguishes successful actions from denied attempts.
type AuditOutcome string

const (
	OutcomeOK     AuditOutcome = "ok"
	OutcomeDenied AuditOutcome = "denied"
)

// AuditEntry is one immutable line in a record's append-only audit trail.
// Detail carries a reason code (never plaintext content or key material);
// PrevHash/EntryHash form a per-record SHA-256 chain so post-hoc edits of
// the trail are detectable.
type AuditEntry struct {
	ID        int64
	RecordID  uuid.UUID
	ActorID   uuid.UUID
	Action    AuditAction
	Outcome   AuditOutcome
	Detail    string
	PrevHash  []byte
	EntryHash []byte
	At        time.Time
}

// RecordSummary is the metadata-only view used for listing; it carries no
// clinical content.
type RecordSummary struct {
	ID        uuid.UUID
	CaseID    uuid.UUID
	ClientID  uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordFilter narrows a metadata listing.
type RecordFilter struct {
	CaseID   uuid.UUID // uuid.Nil means no case filter
	ClientID uuid.UUID // uuid.Nil means no client filter
	Offset   int
	Limit    int
}
