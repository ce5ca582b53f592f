package service

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pkgcrypto "wellvault/internal/crypto"
	"wellvault/internal/errs"
	"wellvault/internal/metrics"
	"wellvault/internal/model"
)

// cheap KDF for tests only
var testKDF = pkgcrypto.Argon2Params{Time: 1, Memory: 16, Threads: 1}

type fixture struct {
	svc      *VaultServiceImpl
	enroll   *PractitionerServiceImpl
	audit    *fakeAudit
	grants   *fakeGrants
	records  *fakeRecords
	access   *fakeAccess
	lim      *fakeLimiter
	caseID   uuid.UUID
	clientID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	audit := &fakeAudit{}
	grants := &fakeGrants{audit: audit}
	records := &fakeRecords{grants: grants, audit: audit}
	pract := &fakePractitioners{}
	access := &fakeAccess{}
	lim := &fakeLimiter{}

	met := metrics.NewWith(prometheus.NewRegistry())
	svc := NewVaultService(pract, records, grants, audit, access, lim, testKDF, met, zap.NewNop())

	return &fixture{
		svc:      svc,
		enroll:   NewPractitionerService(pract, testKDF),
		audit:    audit,
		grants:   grants,
		records:  records,
		access:   access,
		lim:      lim,
		caseID:   uuid.Must(uuid.NewV4()),
		clientID: uuid.Must(uuid.NewV4()),
	}
}

// enrollMember enrolls a practitioner and adds them to the fixture case.
func (f *fixture) enrollMember(t *testing.T, username string, role model.Role) Caller {
	t.Helper()
	id, err := f.enroll.Enroll(context.Background(), username, username, role, []byte(username+"-secret"))
	require.NoError(t, err)
	f.access.allow(id, f.caseID)
	return Caller{ID: id, Role: role}
}

func secretOf(username string) []byte { return []byte(username + "-secret") }

func (f *fixture) actions(t *testing.T, recordID uuid.UUID) []string {
	t.Helper()
	trail, err := f.audit.Trail(context.Background(), recordID)
	require.NoError(t, err)
	out := make([]string, 0, len(trail))
	for _, e := range trail {
		s := string(e.Action)
		if e.Outcome == model.OutcomeDenied {
			s = "denied-" + s
		}
		out = append(out, s)
	}
	return out
}

// The end-to-end scenario: A creates, grants B, B reads, A revokes B, B's
// next read is denied, and the trail shows exactly that sequence.
func TestVault_CreateGrantReadRevokeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	b := f.enrollMember(t, "bob", model.RolePractitioner)

	fields := model.RecordFields{TreatmentPlan: "CBT weekly"}
	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, fields, secretOf("alice"))
	require.NoError(t, err)

	require.NoError(t, f.svc.GrantAccess(ctx, a, recID, b.ID, secretOf("alice")))

	got, err := f.svc.ReadRecord(ctx, b, recID, secretOf("bob"))
	require.NoError(t, err)
	require.Equal(t, "CBT weekly", got.TreatmentPlan)
	require.Equal(t, model.StatusActive, got.CurrentStatus)

	require.NoError(t, f.svc.RevokeAccess(ctx, a, recID, b.ID, secretOf("alice")))

	_, err = f.svc.ReadRecord(ctx, b, recID, secretOf("bob"))
	require.ErrorIs(t, err, errs.ErrNoGrant)

	require.Equal(t,
		[]string{"create", "grant", "read", "revoke", "denied-read"},
		f.actions(t, recID))
}

func TestVault_ReadWithoutGrant_DeniedRegardlessOfSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	b := f.enrollMember(t, "bob", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{Notes: "n"}, secretOf("alice"))
	require.NoError(t, err)

	// Correct secret, wrong secret, empty secret: all NoGrant.
	for _, secret := range [][]byte{secretOf("bob"), []byte("wrong"), nil} {
		_, err = f.svc.ReadRecord(ctx, b, recID, secret)
		require.ErrorIs(t, err, errs.ErrNoGrant)
	}
}

func TestVault_ReadWrongSecret_DeniedAndCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{}, secretOf("alice"))
	require.NoError(t, err)

	_, err = f.svc.ReadRecord(ctx, a, recID, []byte("guess"))
	require.ErrorIs(t, err, errs.ErrBadSecret)
	require.Equal(t, 1, f.lim.failureCalls)
	require.Equal(t, []string{"create", "denied-read"}, f.actions(t, recID))
}

func TestVault_ReadNotCaseMember_Denied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	outsider, err := f.enroll.Enroll(ctx, "mallory", "mallory", model.RolePractitioner, secretOf("mallory"))
	require.NoError(t, err)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{}, secretOf("alice"))
	require.NoError(t, err)

	_, err = f.svc.ReadRecord(ctx, Caller{ID: outsider, Role: model.RolePractitioner}, recID, secretOf("mallory"))
	require.ErrorIs(t, err, errs.ErrNotAuthorized)
}

func TestVault_RevokeLastGrantProtected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	b := f.enrollMember(t, "bob", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{}, secretOf("alice"))
	require.NoError(t, err)

	// Sole grantee cannot self-revoke.
	err = f.svc.RevokeAccess(ctx, a, recID, a.ID, secretOf("alice"))
	require.ErrorIs(t, err, errs.ErrLastGrantProtected)

	// Grant a second practitioner first, then revoking the first succeeds.
	require.NoError(t, f.svc.GrantAccess(ctx, a, recID, b.ID, secretOf("alice")))
	require.NoError(t, f.svc.RevokeAccess(ctx, a, recID, a.ID, secretOf("alice")))

	_, err = f.svc.ReadRecord(ctx, a, recID, secretOf("alice"))
	require.ErrorIs(t, err, errs.ErrNoGrant)

	got, err := f.svc.ReadRecord(ctx, b, recID, secretOf("bob"))
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestVault_TwoGranteesDecryptIndependently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	b := f.enrollMember(t, "bob", model.RolePractitioner)

	fields := model.RecordFields{TreatmentPlan: "plan", Notes: "notes"}
	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, fields, secretOf("alice"))
	require.NoError(t, err)
	require.NoError(t, f.svc.GrantAccess(ctx, a, recID, b.ID, secretOf("alice")))

	gotA, err := f.svc.ReadRecord(ctx, a, recID, secretOf("alice"))
	require.NoError(t, err)
	gotB, err := f.svc.ReadRecord(ctx, b, recID, secretOf("bob"))
	require.NoError(t, err)
	require.Equal(t, gotA, gotB)

	// B cannot read with A's secret.
	_, err = f.svc.ReadRecord(ctx, b, recID, secretOf("alice"))
	require.ErrorIs(t, err, errs.ErrBadSecret)
}

func TestVault_UpdateReencryptsForAllGrantees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	b := f.enrollMember(t, "bob", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{TreatmentPlan: "v1"}, secretOf("alice"))
	require.NoError(t, err)
	require.NoError(t, f.svc.GrantAccess(ctx, a, recID, b.ID, secretOf("alice")))

	require.NoError(t, f.svc.UpdateRecord(ctx, a, recID, model.RecordFields{TreatmentPlan: "v2", CurrentStatus: model.StatusOnHold}, secretOf("alice")))

	// No re-grant needed: the CEK is unchanged.
	got, err := f.svc.ReadRecord(ctx, b, recID, secretOf("bob"))
	require.NoError(t, err)
	require.Equal(t, "v2", got.TreatmentPlan)
	require.Equal(t, model.StatusOnHold, got.CurrentStatus)
}

func TestVault_GrantTwice_AlreadyGranted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	b := f.enrollMember(t, "bob", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{}, secretOf("alice"))
	require.NoError(t, err)
	require.NoError(t, f.svc.GrantAccess(ctx, a, recID, b.ID, secretOf("alice")))

	err = f.svc.GrantAccess(ctx, a, recID, b.ID, secretOf("alice"))
	require.ErrorIs(t, err, errs.ErrAlreadyGranted)
}

func TestVault_GrantByNonHolder_Denied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	b := f.enrollMember(t, "bob", model.RolePractitioner)
	c := f.enrollMember(t, "carol", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{}, secretOf("alice"))
	require.NoError(t, err)

	// B holds no key, so B cannot grant C, case membership notwithstanding.
	err = f.svc.GrantAccess(ctx, b, recID, c.ID, secretOf("bob"))
	require.ErrorIs(t, err, errs.ErrNoGrant)
}

func TestVault_AuditUnavailable_BlocksRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{Notes: "x"}, secretOf("alice"))
	require.NoError(t, err)

	f.audit.appendErr = context.DeadlineExceeded
	got, err := f.svc.ReadRecord(ctx, a, recID, secretOf("alice"))
	require.ErrorIs(t, err, errs.ErrAuditUnavailable)
	require.Nil(t, got)
}

func TestVault_CorruptCiphertext_FatalRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{Notes: "x"}, secretOf("alice"))
	require.NoError(t, err)

	f.records.byID[recID].Ciphertext[0] ^= 0x01

	_, err = f.svc.ReadRecord(ctx, a, recID, secretOf("alice"))
	require.ErrorIs(t, err, errs.ErrCorruptRecord)
	require.Equal(t, []string{"create", "denied-read"}, f.actions(t, recID))
}

func TestVault_RevokeAllAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	admin := f.enrollMember(t, "root", model.RoleAdmin)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{}, secretOf("alice"))
	require.NoError(t, err)

	// Ordinary practitioners may not revoke-all.
	err = f.svc.RevokeAllAdmin(ctx, a, recID, true)
	require.ErrorIs(t, err, errs.ErrNotAuthorized)

	// Missing acknowledgment is a validation failure, nothing is removed.
	err = f.svc.RevokeAllAdmin(ctx, admin, recID, false)
	require.Error(t, err)
	require.Equal(t, 1, f.grants.count(recID))

	require.NoError(t, f.svc.RevokeAllAdmin(ctx, admin, recID, true))
	require.Equal(t, 0, f.grants.count(recID))

	// The record is now permanently unrecoverable: even the creator with
	// the correct secret gets NoGrant, and there is no override path.
	_, err = f.svc.ReadRecord(ctx, a, recID, secretOf("alice"))
	require.ErrorIs(t, err, errs.ErrNoGrant)

	trail, err := f.audit.Trail(ctx, recID)
	require.NoError(t, err)
	last := trail[len(trail)-2] // followed by the denied read
	require.Equal(t, model.AuditRevokeAll, last.Action)
	require.Equal(t, "irrecoverable_acknowledged", last.Detail)
}

func TestVault_EveryCallAuditsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	b := f.enrollMember(t, "bob", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{}, secretOf("alice"))
	require.NoError(t, err)
	require.Len(t, f.audit.entries, 1)

	_, err = f.svc.ReadRecord(ctx, a, recID, secretOf("alice"))
	require.NoError(t, err)
	require.Len(t, f.audit.entries, 2)

	require.NoError(t, f.svc.UpdateRecord(ctx, a, recID, model.RecordFields{Notes: "u"}, secretOf("alice")))
	require.Len(t, f.audit.entries, 3)

	require.NoError(t, f.svc.GrantAccess(ctx, a, recID, b.ID, secretOf("alice")))
	require.Len(t, f.audit.entries, 4)

	require.NoError(t, f.svc.RevokeAccess(ctx, a, recID, b.ID, secretOf("alice")))
	require.Len(t, f.audit.entries, 5)

	_, err = f.svc.ReadRecord(ctx, b, recID, secretOf("bob"))
	require.ErrorIs(t, err, errs.ErrNoGrant)
	require.Len(t, f.audit.entries, 6)

	for i, e := range f.audit.entries {
		require.Equal(t, recID, e.RecordID, "entry %d", i)
	}
}

func TestVault_ListGranteesAndTrailRequireHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)
	b := f.enrollMember(t, "bob", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{}, secretOf("alice"))
	require.NoError(t, err)

	_, err = f.svc.ListGrantees(ctx, b, recID)
	require.ErrorIs(t, err, errs.ErrNoGrant)
	_, err = f.svc.GetAuditTrail(ctx, b, recID)
	require.ErrorIs(t, err, errs.ErrNoGrant)

	require.NoError(t, f.svc.GrantAccess(ctx, a, recID, b.ID, secretOf("alice")))

	ids, err := f.svc.ListGrantees(ctx, b, recID)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids)

	trail, err := f.svc.GetAuditTrail(ctx, b, recID)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
}

func TestVault_DeleteRecordRemovesGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)

	recID, err := f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{}, secretOf("alice"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteRecord(ctx, a, recID, secretOf("alice")))
	require.Equal(t, 0, f.grants.count(recID))

	_, err = f.svc.ReadRecord(ctx, a, recID, secretOf("alice"))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestVault_ListRecordsFiltersByMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.enrollMember(t, "alice", model.RolePractitioner)

	otherCase := uuid.Must(uuid.NewV4())
	c, err := f.enroll.Enroll(ctx, "carol", "carol", model.RolePractitioner, secretOf("carol"))
	require.NoError(t, err)
	f.access.allow(c, otherCase)
	carol := Caller{ID: c, Role: model.RolePractitioner}

	_, err = f.svc.CreateRecord(ctx, a, f.caseID, f.clientID, model.RecordFields{}, secretOf("alice"))
	require.NoError(t, err)
	recC, err := f.svc.CreateRecord(ctx, carol, otherCase, f.clientID, model.RecordFields{}, secretOf("carol"))
	require.NoError(t, err)

	// Unfiltered listing trims to the caller's cases.
	got, err := f.svc.ListRecords(ctx, carol, model.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, recC, got[0].ID)

	// A case filter on a foreign case is refused outright.
	_, err = f.svc.ListRecords(ctx, carol, model.RecordFilter{CaseID: f.caseID})
	require.ErrorIs(t, err, errs.ErrNotAuthorized)
}

func TestVault_CreateRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	a := f.enrollMember(t, "alice", model.RolePractitioner)

	_, err := f.svc.CreateRecord(context.Background(), a, f.caseID, f.clientID,
		model.RecordFields{CurrentStatus: "Paused"}, secretOf("alice"))
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrBadSecret)
}
