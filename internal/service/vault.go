package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"wellvault/internal/authz"
	pkgcrypto "wellvault/internal/crypto"
	"wellvault/internal/errs"
	"wellvault/internal/limiter"
	"wellvault/internal/metrics"
	"wellvault/internal/model"
	"wellvault/internal/repository"
)

// Caller is the identity asserted by the authentication layer. The vault
// consumes it as fact; issuing it is not this subsystem's concern.
type Caller struct {
	ID   uuid.UUID
	Role model.Role
}

// VaultService exposes the confidentiality operations. Every read or
// mutation goes through the access gate; every attempt, success or denial,
// leaves exactly one audit entry.
type VaultService interface {
	CreateRecord(ctx context.Context, caller Caller, caseID, clientID uuid.UUID, fields model.RecordFields, secret []byte) (uuid.UUID, error)
	ReadRecord(ctx context.Context, caller Caller, recordID uuid.UUID, secret []byte) (*model.RecordFields, error)
	UpdateRecord(ctx context.Context, caller Caller, recordID uuid.UUID, fields model.RecordFields, secret []byte) error
	DeleteRecord(ctx context.Context, caller Caller, recordID uuid.UUID, secret []byte) error
	GrantAccess(ctx context.Context, caller Caller, recordID, recipientID uuid.UUID, secret []byte) error
	RevokeAccess(ctx context.Context, caller Caller, recordID, targetID uuid.UUID, secret []byte) error
	// RevokeAllAdmin removes every grant, making the record permanently
	// unrecoverable. Admin-only; requires the irrecoverable-data
	// acknowledgment, which is recorded in the audit trail.
	RevokeAllAdmin(ctx context.Context, caller Caller, recordID uuid.UUID, acknowledged bool) error
	ListGrantees(ctx context.Context, caller Caller, recordID uuid.UUID) ([]uuid.UUID, error)
	GetAuditTrail(ctx context.Context, caller Caller, recordID uuid.UUID) ([]model.AuditEntry, error)
	ListRecords(ctx context.Context, caller Caller, f model.RecordFilter) ([]model.RecordSummary, error)
}

type VaultServiceImpl struct {
	practitioners repository.PractitionerRepository
	records       repository.RecordRepository
	grants        repository.GrantRepository
	audit         repository.AuditRepository
	access        authz.CaseAccess
	lim           limiter.Limiter
	kdf           pkgcrypto.Argon2Params
	met           *metrics.Metrics
	log           *zap.Logger
}

// NewVaultService constructs VaultService with required dependencies.
func NewVaultService(
	practitioners repository.PractitionerRepository,
	records repository.RecordRepository,
	grants repository.GrantRepository,
	audit repository.AuditRepository,
	access authz.CaseAccess,
	lim limiter.Limiter,
	kdf pkgcrypto.Argon2Params,
	met *metrics.Metrics,
	log *zap.Logger,
) *VaultServiceImpl {
	return &VaultServiceImpl{
		practitioners: practitioners,
		records:       records,
		grants:        grants,
		audit:         audit,
		access:        access,
		lim:           lim,
		kdf:           kdf,
		met:           met,
		log:           log,
	}
}

// deny appends the denial audit entry and returns cause. Auditability is a
// precondition: if the entry cannot be written the caller sees
// ErrAuditUnavailable instead of the denial.
func (s *VaultServiceImpl) deny(
	ctx context.Context, recordID, actor uuid.UUID, action model.AuditAction, reason string, cause error,
) error {
	entry := &model.AuditEntry{
		RecordID: recordID,
		ActorID:  actor,
		Action:   action,
		Outcome:  model.OutcomeDenied,
		Detail:   reason,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Error("audit append failed", zap.Error(err))
		return fmt.Errorf("append denial entry: %w", errs.ErrAuditUnavailable)
	}
	s.met.ObserveDecision(string(action), "denied")
	s.log.Info("denied",
		zap.String("action", string(action)),
		zap.String("reason", reason),
		zap.String("record_id", recordID.String()),
		zap.String("actor_id", actor.String()),
	)
	return cause
}

// appendOK audits a successful non-mutating action (reads). Mutations audit
// inside their repository transaction instead.
func (s *VaultServiceImpl) appendOK(
	ctx context.Context, recordID, actor uuid.UUID, action model.AuditAction, detail string,
) error {
	entry := &model.AuditEntry{
		RecordID: recordID,
		ActorID:  actor,
		Action:   action,
		Outcome:  model.OutcomeOK,
		Detail:   detail,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Error("audit append failed", zap.Error(err))
		return fmt.Errorf("append entry: %w", errs.ErrAuditUnavailable)
	}
	s.met.ObserveDecision(string(action), "ok")
	return nil
}

// unlockCEK rederives the caller's KEK from their secret, unlocks their
// private wrap key and opens the sealed CEK. All intermediate key material
// is wiped before returning; only the CEK leaves, owned by the caller.
func (s *VaultServiceImpl) unlockCEK(p *model.Practitioner, wrappedKey, secret []byte) ([]byte, error) {
	if !pkgcrypto.VerifySecret(secret, p.AuthSalt, p.SecretVerifier, s.kdf) {
		return nil, errs.ErrBadSecret
	}
	start := time.Now()
	kek := pkgcrypto.DeriveKEK(secret, p.KekSalt, s.kdf)
	s.met.ObserveKDF(time.Since(start))
	defer pkgcrypto.Wipe(kek)

	priv, err := pkgcrypto.UnwrapKey(kek, p.WrappedPrivKey)
	if err != nil {
		return nil, err
	}
	defer pkgcrypto.Wipe(priv)

	return pkgcrypto.OpenFromTarget(wrappedKey, p.PubKey, priv)
}

// gate is the single choke point for every operation touching record
// content: case membership, lockout check, grant lookup, secret
// verification, CEK unwrap. Each denial branch audits exactly once. The
// returned CEK is scoped to this request; the caller must wipe it.
func (s *VaultServiceImpl) gate(
	ctx context.Context, caller Caller, rec *model.WellbeingRecord, action model.AuditAction, secret []byte,
) ([]byte, error) {
	ok, err := s.access.CanAccess(ctx, caller.ID, rec.CaseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.deny(ctx, rec.ID, caller.ID, action, "no_case_access", errs.ErrNotAuthorized)
	}

	allowed, _, err := s.lim.Allow(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, s.deny(ctx, rec.ID, caller.ID, action, "rate_limited", errs.ErrRateLimited)
	}

	wck, err := s.grants.Get(ctx, rec.ID, caller.ID)
	if err != nil {
		if errors.Is(err, errs.ErrNoGrant) {
			return nil, s.deny(ctx, rec.ID, caller.ID, action, "no_grant", errs.ErrNoGrant)
		}
		return nil, err
	}

	p, err := s.practitioners.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	cek, err := s.unlockCEK(p, wck.WrappedKey, secret)
	if err != nil {
		// Wrong secret and corrupted wrap are indistinguishable on purpose.
		if blocked, _, ferr := s.lim.Failure(ctx, caller.ID); ferr == nil && blocked {
			return nil, s.deny(ctx, rec.ID, caller.ID, action, "rate_limited", errs.ErrRateLimited)
		}
		return nil, s.deny(ctx, rec.ID, caller.ID, action, "bad_secret", errs.ErrBadSecret)
	}
	_ = s.lim.Success(ctx, caller.ID)
	return cek, nil
}

func (s *VaultServiceImpl) encryptFields(cek []byte, recordID uuid.UUID, fields model.RecordFields) (ciphertext, nonce, tag []byte, err error) {
	plain, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, nil, err
	}
	defer pkgcrypto.Wipe(plain)
	return pkgcrypto.Encrypt(cek, plain, recordID.Bytes())
}

func normalizeFields(f *model.RecordFields) error {
	if f.CurrentStatus == "" {
		f.CurrentStatus = model.StatusActive
	}
	switch f.CurrentStatus {
	case model.StatusActive, model.StatusOnHold, model.StatusCompleted, model.StatusDiscontinued:
	default:
		return fmt.Errorf("validation: unknown status %q", f.CurrentStatus)
	}
	if f.AssessmentDate.IsZero() {
		f.AssessmentDate = time.Now().UTC()
	}
	return nil
}

// CreateRecord encrypts the fields under a fresh CEK and persists the record
// together with the creator's grant and the create audit entry atomically.
// A record is never created without at least one grant.
func (s *VaultServiceImpl) CreateRecord(
	ctx context.Context, caller Caller, caseID, clientID uuid.UUID, fields model.RecordFields, secret []byte,
) (uuid.UUID, error) {
	if caller.ID == uuid.Nil || caseID == uuid.Nil || clientID == uuid.Nil {
		return uuid.Nil, errors.New("validation: empty caller/case/client id")
	}
	if err := normalizeFields(&fields); err != nil {
		return uuid.Nil, err
	}

	recordID, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}

	ok, err := s.access.CanAccess(ctx, caller.ID, caseID)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, s.deny(ctx, recordID, caller.ID, model.AuditCreate, "no_case_access", errs.ErrNotAuthorized)
	}

	allowed, _, err := s.lim.Allow(ctx, caller.ID)
	if err != nil {
		return uuid.Nil, err
	}
	if !allowed {
		return uuid.Nil, s.deny(ctx, recordID, caller.ID, model.AuditCreate, "rate_limited", errs.ErrRateLimited)
	}

	p, err := s.practitioners.GetByID(ctx, caller.ID)
	if err != nil {
		return uuid.Nil, err
	}
	// The secret must be correct at creation time, or the creator ends up
	// with a record they can never open.
	if !pkgcrypto.VerifySecret(secret, p.AuthSalt, p.SecretVerifier, s.kdf) {
		_, _, _ = s.lim.Failure(ctx, caller.ID)
		return uuid.Nil, s.deny(ctx, recordID, caller.ID, model.AuditCreate, "bad_secret", errs.ErrBadSecret)
	}
	_ = s.lim.Success(ctx, caller.ID)

	cek, err := pkgcrypto.GenerateCEK()
	if err != nil {
		return uuid.Nil, err
	}
	defer pkgcrypto.Wipe(cek)

	ciphertext, nonce, tag, err := s.encryptFields(cek, recordID, fields)
	if err != nil {
		return uuid.Nil, err
	}
	sealed, err := pkgcrypto.SealToTarget(cek, p.PubKey)
	if err != nil {
		return uuid.Nil, err
	}

	rec := &model.WellbeingRecord{
		ID:         recordID,
		CaseID:     caseID,
		ClientID:   clientID,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Tag:        tag,
	}
	wck := &model.WrappedContentKey{
		RecordID:       recordID,
		PractitionerID: caller.ID,
		WrappedKey:     sealed,
		WrappedBy:      caller.ID,
	}
	entry := &model.AuditEntry{
		RecordID: recordID,
		ActorID:  caller.ID,
		Action:   model.AuditCreate,
		Outcome:  model.OutcomeOK,
	}
	if err := s.records.Create(ctx, rec, wck, entry); err != nil {
		return uuid.Nil, fmt.Errorf("create record: %w", err)
	}
	s.met.ObserveDecision(string(model.AuditCreate), "ok")
	s.met.GrantsIssued.Inc()
	return recordID, nil
}

// ReadRecord decrypts the record for an authorized caller. The read audit
// entry is committed before any plaintext is returned.
func (s *VaultServiceImpl) ReadRecord(
	ctx context.Context, caller Caller, recordID uuid.UUID, secret []byte,
) (*model.RecordFields, error) {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	cek, err := s.gate(ctx, caller, rec, model.AuditRead, secret)
	if err != nil {
		return nil, err
	}
	defer pkgcrypto.Wipe(cek)

	plain, err := pkgcrypto.Decrypt(cek, rec.Ciphertext, rec.Nonce, rec.Tag, rec.ID.Bytes())
	if err != nil {
		// Valid grant and secret but the stored blob fails authentication:
		// storage tampering, fatal to the read.
		return nil, s.deny(ctx, rec.ID, caller.ID, model.AuditRead, "corrupt_record", errs.ErrCorruptRecord)
	}
	defer pkgcrypto.Wipe(plain)

	if err := s.appendOK(ctx, rec.ID, caller.ID, model.AuditRead, ""); err != nil {
		return nil, err
	}

	var fields model.RecordFields
	if err := json.Unmarshal(plain, &fields); err != nil {
		return nil, err
	}
	return &fields, nil
}

// UpdateRecord re-encrypts new fields under the record's existing CEK. No
// re-wrap is needed; existing grants keep working.
func (s *VaultServiceImpl) UpdateRecord(
	ctx context.Context, caller Caller, recordID uuid.UUID, fields model.RecordFields, secret []byte,
) error {
	if err := normalizeFields(&fields); err != nil {
		return err
	}
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return err
	}
	cek, err := s.gate(ctx, caller, rec, model.AuditUpdate, secret)
	if err != nil {
		return err
	}
	defer pkgcrypto.Wipe(cek)

	ciphertext, nonce, tag, err := s.encryptFields(cek, rec.ID, fields)
	if err != nil {
		return err
	}
	entry := &model.AuditEntry{
		RecordID: rec.ID,
		ActorID:  caller.ID,
		Action:   model.AuditUpdate,
		Outcome:  model.OutcomeOK,
	}
	if err := s.records.UpdateCiphertext(ctx, rec.ID, ciphertext, nonce, tag, entry); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	s.met.ObserveDecision(string(model.AuditUpdate), "ok")
	return nil
}

// DeleteRecord removes the record and every wrapped key for it. Requires a
// usable grant, same as a read.
func (s *VaultServiceImpl) DeleteRecord(
	ctx context.Context, caller Caller, recordID uuid.UUID, secret []byte,
) error {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return err
	}
	cek, err := s.gate(ctx, caller, rec, model.AuditDelete, secret)
	if err != nil {
		return err
	}
	pkgcrypto.Wipe(cek) // the gate proved access; the key itself is not needed

	entry := &model.AuditEntry{
		RecordID: rec.ID,
		ActorID:  caller.ID,
		Action:   model.AuditDelete,
		Outcome:  model.OutcomeOK,
	}
	if err := s.records.Delete(ctx, rec.ID, entry); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	s.met.ObserveDecision(string(model.AuditDelete), "ok")
	return nil
}

// GrantAccess unwraps the CEK with the grantor's secret and seals it to the
// recipient's wrap target. The recipient's secret is never involved.
func (s *VaultServiceImpl) GrantAccess(
	ctx context.Context, caller Caller, recordID, recipientID uuid.UUID, secret []byte,
) error {
	if recipientID == uuid.Nil {
		return errors.New("validation: empty recipient id")
	}
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return err
	}
	cek, err := s.gate(ctx, caller, rec, model.AuditGrant, secret)
	if err != nil {
		return err
	}
	defer pkgcrypto.Wipe(cek)

	recipient, err := s.practitioners.GetByID(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	sealed, err := pkgcrypto.SealToTarget(cek, recipient.PubKey)
	if err != nil {
		return err
	}

	wck := &model.WrappedContentKey{
		RecordID:       rec.ID,
		PractitionerID: recipientID,
		WrappedKey:     sealed,
		WrappedBy:      caller.ID,
	}
	entry := &model.AuditEntry{
		RecordID: rec.ID,
		ActorID:  caller.ID,
		Action:   model.AuditGrant,
		Outcome:  model.OutcomeOK,
		Detail:   "recipient=" + recipientID.String(),
	}
	if err := s.grants.Insert(ctx, wck, entry); err != nil {
		if errors.Is(err, errs.ErrAlreadyGranted) {
			return s.deny(ctx, rec.ID, caller.ID, model.AuditGrant, "already_granted", errs.ErrAlreadyGranted)
		}
		return fmt.Errorf("insert grant: %w", err)
	}
	s.met.ObserveDecision(string(model.AuditGrant), "ok")
	s.met.GrantsIssued.Inc()
	return nil
}

// RevokeAccess deletes the target's wrapped key. The caller must prove
// their own access through the gate first; removing the sole remaining
// grant is refused.
func (s *VaultServiceImpl) RevokeAccess(
	ctx context.Context, caller Caller, recordID, targetID uuid.UUID, secret []byte,
) error {
	if targetID == uuid.Nil {
		return errors.New("validation: empty target id")
	}
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return err
	}
	cek, err := s.gate(ctx, caller, rec, model.AuditRevoke, secret)
	if err != nil {
		return err
	}
	pkgcrypto.Wipe(cek) // proof of access only

	entry := &model.AuditEntry{
		RecordID: rec.ID,
		ActorID:  caller.ID,
		Action:   model.AuditRevoke,
		Outcome:  model.OutcomeOK,
		Detail:   "target=" + targetID.String(),
	}
	if err := s.grants.Delete(ctx, rec.ID, targetID, false, entry); err != nil {
		switch {
		case errors.Is(err, errs.ErrLastGrantProtected):
			return s.deny(ctx, rec.ID, caller.ID, model.AuditRevoke, "last_grant", errs.ErrLastGrantProtected)
		case errors.Is(err, errs.ErrNoGrant):
			return s.deny(ctx, rec.ID, caller.ID, model.AuditRevoke, "target_no_grant", errs.ErrNotFound)
		default:
			return fmt.Errorf("delete grant: %w", err)
		}
	}
	s.met.ObserveDecision(string(model.AuditRevoke), "ok")
	s.met.GrantsRevoked.Inc()
	return nil
}

// RevokeAllAdmin is the only action allowed to remove the last grant. It is
// deliberately a distinct operation, not a variant of ordinary revoke, and
// there is no corresponding decrypt-without-grant path.
func (s *VaultServiceImpl) RevokeAllAdmin(
	ctx context.Context, caller Caller, recordID uuid.UUID, acknowledged bool,
) error {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if caller.Role != model.RoleAdmin {
		return s.deny(ctx, rec.ID, caller.ID, model.AuditRevokeAll, "not_admin", errs.ErrNotAuthorized)
	}
	if !acknowledged {
		return errors.New("validation: irrecoverable-data acknowledgment required")
	}

	entry := &model.AuditEntry{
		RecordID: rec.ID,
		ActorID:  caller.ID,
		Action:   model.AuditRevokeAll,
		Outcome:  model.OutcomeOK,
		Detail:   "irrecoverable_acknowledged",
	}
	if err := s.grants.DeleteAll(ctx, rec.ID, entry); err != nil {
		return fmt.Errorf("revoke all: %w", err)
	}
	s.met.ObserveDecision(string(model.AuditRevokeAll), "ok")
	s.met.GrantsRevoked.Inc()
	s.log.Warn("all grants revoked; record is unrecoverable",
		zap.String("record_id", rec.ID.String()),
		zap.String("actor_id", caller.ID.String()),
	)
	return nil
}

// ListGrantees returns who currently holds access. Requires the caller to
// be a case member holding a grant; exposes IDs only, never key bytes.
func (s *VaultServiceImpl) ListGrantees(
	ctx context.Context, caller Caller, recordID uuid.UUID,
) ([]uuid.UUID, error) {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.requireHolder(ctx, caller, rec); err != nil {
		return nil, err
	}
	return s.grants.ListGrantees(ctx, rec.ID)
}

// GetAuditTrail returns the record's entries in order, behind the same
// membership+grant requirement as ListGrantees.
func (s *VaultServiceImpl) GetAuditTrail(
	ctx context.Context, caller Caller, recordID uuid.UUID,
) ([]model.AuditEntry, error) {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.requireHolder(ctx, caller, rec); err != nil {
		return nil, err
	}
	return s.audit.Trail(ctx, rec.ID)
}

// requireHolder checks membership and grant-row existence without spending
// KDF work. Used by the metadata queries, which return no record content.
func (s *VaultServiceImpl) requireHolder(ctx context.Context, caller Caller, rec *model.WellbeingRecord) error {
	ok, err := s.access.CanAccess(ctx, caller.ID, rec.CaseID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotAuthorized
	}
	if _, err := s.grants.Get(ctx, rec.ID, caller.ID); err != nil {
		return err
	}
	return nil
}

// ListRecords returns metadata-only summaries. With a case filter the
// caller must be a member of that case; without one, results are trimmed to
// cases the caller belongs to.
func (s *VaultServiceImpl) ListRecords(
	ctx context.Context, caller Caller, f model.RecordFilter,
) ([]model.RecordSummary, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if f.CaseID != uuid.Nil {
		ok, err := s.access.CanAccess(ctx, caller.ID, f.CaseID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.ErrNotAuthorized
		}
		return s.records.List(ctx, f)
	}

	all, err := s.records.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]model.RecordSummary, 0, len(all))
	for _, rec := range all {
		ok, err := s.access.CanAccess(ctx, caller.ID, rec.CaseID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
