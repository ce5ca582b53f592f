package service

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"wellvault/internal/errs"
	"wellvault/internal/limiter"
	"wellvault/internal/model"
	"wellvault/internal/repository"
)

// In-memory fakes mirroring the repository contracts, including the
// audit-with-mutation atomicity: successful mutations append to the shared
// fake audit log, and an audit failure fails the mutation.

type fakeAudit struct {
	entries   []model.AuditEntry
	appendErr error
}

var _ repository.AuditRepository = (*fakeAudit)(nil)

func (f *fakeAudit) Append(_ context.Context, e *model.AuditEntry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) Trail(_ context.Context, recordID uuid.UUID) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	for _, e := range f.entries {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePractitioners struct {
	byID map[uuid.UUID]*model.Practitioner
}

var _ repository.PractitionerRepository = (*fakePractitioners)(nil)

func (f *fakePractitioners) Create(_ context.Context, p *model.Practitioner) error {
	if f.byID == nil {
		f.byID = map[uuid.UUID]*model.Practitioner{}
	}
	for _, got := range f.byID {
		if got.Username == p.Username {
			return errs.ErrAlreadyExists
		}
	}
	cpy := *p
	f.byID[p.ID] = &cpy
	return nil
}

func (f *fakePractitioners) GetByID(_ context.Context, id uuid.UUID) (*model.Practitioner, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (f *fakePractitioners) GetByUsername(_ context.Context, username string) (*model.Practitioner, error) {
	for _, p := range f.byID {
		if p.Username == username {
			c := *p
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

type grantKey struct{ record, practitioner uuid.UUID }

type fakeGrants struct {
	rows  map[grantKey]*model.WrappedContentKey
	order []grantKey
	audit *fakeAudit
}

var _ repository.GrantRepository = (*fakeGrants)(nil)

func (f *fakeGrants) Get(_ context.Context, recordID, practitionerID uuid.UUID) (*model.WrappedContentKey, error) {
	w, ok := f.rows[grantKey{recordID, practitionerID}]
	if !ok {
		return nil, errs.ErrNoGrant
	}
	c := *w
	return &c, nil
}

func (f *fakeGrants) put(w *model.WrappedContentKey) {
	if f.rows == nil {
		f.rows = map[grantKey]*model.WrappedContentKey{}
	}
	k := grantKey{w.RecordID, w.PractitionerID}
	c := *w
	c.CreatedAt = time.Now().UTC()
	f.rows[k] = &c
	f.order = append(f.order, k)
}

func (f *fakeGrants) count(recordID uuid.UUID) int {
	n := 0
	for k := range f.rows {
		if k.record == recordID {
			n++
		}
	}
	return n
}

func (f *fakeGrants) Insert(ctx context.Context, w *model.WrappedContentKey, entry *model.AuditEntry) error {
	if _, exists := f.rows[grantKey{w.RecordID, w.PractitionerID}]; exists {
		return errs.ErrAlreadyGranted
	}
	if err := f.audit.Append(ctx, entry); err != nil {
		return err
	}
	f.put(w)
	return nil
}

func (f *fakeGrants) Delete(ctx context.Context, recordID, practitionerID uuid.UUID, allowLast bool, entry *model.AuditEntry) error {
	k := grantKey{recordID, practitionerID}
	if _, ok := f.rows[k]; !ok {
		return errs.ErrNoGrant
	}
	if f.count(recordID) <= 1 && !allowLast {
		return errs.ErrLastGrantProtected
	}
	if err := f.audit.Append(ctx, entry); err != nil {
		return err
	}
	delete(f.rows, k)
	return nil
}

func (f *fakeGrants) DeleteAll(ctx context.Context, recordID uuid.UUID, entry *model.AuditEntry) error {
	if err := f.audit.Append(ctx, entry); err != nil {
		return err
	}
	for k := range f.rows {
		if k.record == recordID {
			delete(f.rows, k)
		}
	}
	return nil
}

func (f *fakeGrants) ListGrantees(_ context.Context, recordID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, k := range f.order {
		if k.record == recordID {
			if _, live := f.rows[k]; live {
				out = append(out, k.practitioner)
			}
		}
	}
	return out, nil
}

type fakeRecords struct {
	byID   map[uuid.UUID]*model.WellbeingRecord
	grants *fakeGrants
	audit  *fakeAudit
}

var _ repository.RecordRepository = (*fakeRecords)(nil)

func (f *fakeRecords) Create(ctx context.Context, rec *model.WellbeingRecord, wck *model.WrappedContentKey, entry *model.AuditEntry) error {
	if f.byID == nil {
		f.byID = map[uuid.UUID]*model.WellbeingRecord{}
	}
	if err := f.audit.Append(ctx, entry); err != nil {
		return err
	}
	now := time.Now().UTC()
	c := *rec
	c.CreatedAt, c.UpdatedAt = now, now
	f.byID[rec.ID] = &c
	rec.CreatedAt, rec.UpdatedAt = now, now
	f.grants.put(wck)
	return nil
}

func (f *fakeRecords) Get(_ context.Context, id uuid.UUID) (*model.WellbeingRecord, error) {
	rec, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (f *fakeRecords) UpdateCiphertext(ctx context.Context, id uuid.UUID, ciphertext, nonce, tag []byte, entry *model.AuditEntry) error {
	rec, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	if err := f.audit.Append(ctx, entry); err != nil {
		return err
	}
	rec.Ciphertext = append([]byte(nil), ciphertext...)
	rec.Nonce = append([]byte(nil), nonce...)
	rec.Tag = append([]byte(nil), tag...)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeRecords) Delete(ctx context.Context, id uuid.UUID, entry *model.AuditEntry) error {
	if _, ok := f.byID[id]; !ok {
		return errs.ErrNotFound
	}
	if err := f.audit.Append(ctx, entry); err != nil {
		return err
	}
	delete(f.byID, id)
	for k := range f.grants.rows {
		if k.record == id {
			delete(f.grants.rows, k)
		}
	}
	return nil
}

func (f *fakeRecords) List(_ context.Context, flt model.RecordFilter) ([]model.RecordSummary, error) {
	var out []model.RecordSummary
	for _, rec := range f.byID {
		if flt.CaseID != uuid.Nil && rec.CaseID != flt.CaseID {
			continue
		}
		if flt.ClientID != uuid.Nil && rec.ClientID != flt.ClientID {
			continue
		}
		out = append(out, model.RecordSummary{
			ID: rec.ID, CaseID: rec.CaseID, ClientID: rec.ClientID,
			CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
		})
	}
	return out, nil
}

type fakeAccess struct {
	members map[uuid.UUID]map[uuid.UUID]bool // caseID -> practitionerID set
}

func (f *fakeAccess) allow(practitionerID, caseID uuid.UUID) {
	if f.members == nil {
		f.members = map[uuid.UUID]map[uuid.UUID]bool{}
	}
	if f.members[caseID] == nil {
		f.members[caseID] = map[uuid.UUID]bool{}
	}
	f.members[caseID][practitionerID] = true
}

func (f *fakeAccess) CanAccess(_ context.Context, practitionerID, caseID uuid.UUID) (bool, error) {
	return f.members[caseID][practitionerID], nil
}

type fakeLimiter struct {
	blocked      bool
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, uuid.UUID) (bool, time.Duration, error) {
	return !l.blocked, 0, nil
}

func (l *fakeLimiter) Success(context.Context, uuid.UUID) error {
	l.successCalls++
	return nil
}

func (l *fakeLimiter) Failure(context.Context, uuid.UUID) (bool, time.Duration, error) {
	l.failureCalls++
	return false, 0, nil
}
