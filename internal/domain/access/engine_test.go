package access_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mem "health-access-ledger/internal/adapters/storage/memory"
	"health-access-ledger/internal/domain/access"
	"health-access-ledger/internal/domain/accessgrants"
	"health-access-ledger/internal/domain/audit"
	"health-access-ledger/internal/domain/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyAudit struct {
	*mem.AuditRepo
	down atomic.Bool
}

func (f *flakyAudit) Append(ctx context.Context, e audit.Entry) error {
	if f.down.Load() {
		return errors.New("audit volume offline")
	}
	return f.AuditRepo.Append(ctx, e)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	clock   *clock
	audit   *flakyAudit
	log     *audit.Log
	grants  *accessgrants.Service
	records *records.Service
	engine  *access.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clock: &clock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)},
		audit: &flakyAudit{AuditRepo: mem.NewAuditRepo()},
	}
	e.log = audit.NewLog(e.audit, audit.WithClock(e.clock.Now))
	e.grants = accessgrants.NewService(mem.NewAccessGrantsRepo(e.audit), e.log, accessgrants.WithClock(e.clock.Now))
	e.records = records.NewService(mem.NewRecordsRepo(), records.WithClock(e.clock.Now))
	e.engine = access.NewEngine(e.grants, e.records, e.log, access.WithClock(e.clock.Now))
	e.records.SetAuthorizer(e.engine)
	return e
}

func (e *env) record(t *testing.T, owner string, rt records.RecordType) records.Record {
	t.Helper()
	rec, err := e.records.CreateRecord(context.Background(), records.CreateInput{OwnerID: owner, Type: rt, ContentRef: "sha256-" + string(rt)})
	require.NoError(t, err)
	return rec
}

func (e *env) grant(t *testing.T, in accessgrants.GrantInput) accessgrants.Grant {
	t.Helper()
	g, err := e.grants.Grant(context.Background(), in)
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	return g
}

func (e *env) check(t *testing.T, requester, owner, recordID string, perm accessgrants.Permission) access.Decision {
	t.Helper()
	d, err := e.engine.CheckAccess(context.Background(), requester, owner, recordID, perm)
	require.NoError(t, err)
	return d
}

func (e *env) auditCount(t *testing.T, owner string, action audit.Action) int {
	t.Helper()
	n := 0
	for entry, err := range e.log.QueryByOwner(context.Background(), owner, time.Time{}, time.Time{}) {
		require.NoError(t, err)
		if entry.Action == action {
			n++
		}
	}
	return n
}

func category(v string) accessgrants.RecordFilter {
	return accessgrants.RecordFilter{Kind: accessgrants.FilterCategory, Value: v}
}

func recordOnly(id string) accessgrants.RecordFilter {
	return accessgrants.RecordFilter{Kind: accessgrants.FilterRecord, Value: id}
}

func TestCheckAccess_OwnerAlwaysAllowed(t *testing.T) {
	e := newEnv(t)

	d := e.check(t, "P1", "P1", "any-record", accessgrants.PermissionWrite)
	assert.True(t, d.Allowed)
	assert.Equal(t, access.ReasonOwnerSelfAccess, d.Reason)
	assert.Nil(t, d.Grant)
	assert.NotEmpty(t, d.AuditEntryID)
}

func TestCheckAccess_NoGrantDenies(t *testing.T) {
	e := newEnv(t)
	rec := e.record(t, "P1", records.TypeLabResult)

	d := e.check(t, "Dr1", "P1", rec.ID, accessgrants.PermissionRead)
	assert.False(t, d.Allowed)
	assert.Equal(t, access.ReasonNoMatchingGrant, d.Reason)
}

func TestCheckAccess_GrantThenRevoke(t *testing.T) {
	e := newEnv(t)
	rec := e.record(t, "P1", records.TypeConsultation)
	until := e.clock.Now().Add(7 * 24 * time.Hour)
	g := e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeRead, ValidUntil: &until})

	d := e.check(t, "Dr1", "P1", rec.ID, accessgrants.PermissionRead)
	require.True(t, d.Allowed)
	assert.Equal(t, access.ReasonGrantMatch, d.Reason)
	require.NotNil(t, d.Grant)
	assert.Equal(t, g.ID, d.Grant.ID)

	_, err := e.grants.Revoke(context.Background(), "P1", g.ID)
	require.NoError(t, err)

	d = e.check(t, "Dr1", "P1", rec.ID, accessgrants.PermissionRead)
	assert.False(t, d.Allowed)
	assert.Equal(t, access.ReasonNoMatchingGrant, d.Reason)
}

func TestCheckAccess_MostSpecificWins(t *testing.T) {
	e := newEnv(t)
	recX := e.record(t, "P1", records.TypeImaging)
	recY := e.record(t, "P1", records.TypeImaging)

	write := e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr2", Scope: accessgrants.ScopeWrite, Filter: recordOnly(recX.ID)})
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr2", Scope: accessgrants.ScopeRead})

	d := e.check(t, "Dr2", "P1", recX.ID, accessgrants.PermissionWrite)
	require.True(t, d.Allowed)
	assert.Equal(t, write.ID, d.Grant.ID)

	// Lectura sobre recX: el grant por record es más específico que el "all" más nuevo.
	d = e.check(t, "Dr2", "P1", recX.ID, accessgrants.PermissionRead)
	require.True(t, d.Allowed)
	assert.Equal(t, write.ID, d.Grant.ID)

	d = e.check(t, "Dr2", "P1", recY.ID, accessgrants.PermissionWrite)
	assert.False(t, d.Allowed)
	assert.Equal(t, access.ReasonNoMatchingGrant, d.Reason)
}

func TestCheckAccess_CategoryBeatsAll(t *testing.T) {
	e := newEnv(t)
	rec := e.record(t, "P1", records.TypePrescription)

	cat := e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeRead, Filter: category("prescription")})
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeRead})

	d := e.check(t, "Dr1", "P1", rec.ID, accessgrants.PermissionRead)
	require.True(t, d.Allowed)
	assert.Equal(t, cat.ID, d.Grant.ID)
}

func TestCheckAccess_NewestWinsAtSameSpecificity(t *testing.T) {
	e := newEnv(t)
	rec := e.record(t, "P1", records.TypeOther)

	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeWrite})
	newer := e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeRead})

	d := e.check(t, "Dr1", "P1", rec.ID, accessgrants.PermissionRead)
	require.True(t, d.Allowed)
	assert.Equal(t, newer.ID, d.Grant.ID)
}

func TestCheckAccess_ScopeCoverage(t *testing.T) {
	e := newEnv(t)
	rec := e.record(t, "P1", records.TypeLabResult)

	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Reader", Scope: accessgrants.ScopeRead})
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Writer", Scope: accessgrants.ScopeWrite})

	assert.True(t, e.check(t, "Reader", "P1", rec.ID, accessgrants.PermissionRead).Allowed)
	assert.False(t, e.check(t, "Reader", "P1", rec.ID, accessgrants.PermissionWrite).Allowed)
	assert.True(t, e.check(t, "Writer", "P1", rec.ID, accessgrants.PermissionRead).Allowed)
	assert.True(t, e.check(t, "Writer", "P1", rec.ID, accessgrants.PermissionWrite).Allowed)
}

func TestCheckAccess_WindowBounds(t *testing.T) {
	e := newEnv(t)
	rec := e.record(t, "P1", records.TypeConsultation)
	start := e.clock.Now().Add(time.Hour)
	until := start.Add(time.Hour)
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeRead, ValidFrom: start, ValidUntil: &until})

	assert.False(t, e.check(t, "Dr1", "P1", rec.ID, accessgrants.PermissionRead).Allowed, "before valid_from")

	e.clock.Advance(time.Hour)
	assert.True(t, e.check(t, "Dr1", "P1", rec.ID, accessgrants.PermissionRead).Allowed, "inside window")

	e.clock.Advance(time.Hour)
	d := e.check(t, "Dr1", "P1", rec.ID, accessgrants.PermissionRead)
	assert.False(t, d.Allowed, "at valid_until")
	assert.Equal(t, access.ReasonNoMatchingGrant, d.Reason)
}

func TestCheckAccess_RecordOfAnotherOwner(t *testing.T) {
	e := newEnv(t)
	foreign := e.record(t, "P2", records.TypeLabResult)
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeRead})

	d := e.check(t, "Dr1", "P1", foreign.ID, accessgrants.PermissionRead)
	assert.False(t, d.Allowed)
	assert.Equal(t, access.ReasonRecordOwnerMismatch, d.Reason)
}

func TestCheckAccess_UnknownRecordOnlyMatchesAllOrRecordFilter(t *testing.T) {
	e := newEnv(t)
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Cat", Scope: accessgrants.ScopeRead, Filter: category("imaging")})
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Rec", Scope: accessgrants.ScopeRead, Filter: recordOnly("ext-1")})
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "All", Scope: accessgrants.ScopeRead})

	assert.False(t, e.check(t, "Cat", "P1", "ext-1", accessgrants.PermissionRead).Allowed)
	assert.True(t, e.check(t, "Rec", "P1", "ext-1", accessgrants.PermissionRead).Allowed)
	assert.True(t, e.check(t, "All", "P1", "ext-1", accessgrants.PermissionRead).Allowed)
}

func TestCheckAccess_InvalidInput(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := []struct {
		name                       string
		requester, owner, recordID string
		perm                       accessgrants.Permission
	}{
		{"empty requester", "", "P1", "r1", accessgrants.PermissionRead},
		{"empty owner", "Dr1", " ", "r1", accessgrants.PermissionRead},
		{"empty record", "Dr1", "P1", "", accessgrants.PermissionRead},
		{"bad permission", "Dr1", "P1", "r1", accessgrants.Permission("admin")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.engine.CheckAccess(ctx, tc.requester, tc.owner, tc.recordID, tc.perm)
			assert.ErrorIs(t, err, access.ErrInvalidInput)
		})
	}
	assert.Zero(t, e.auditCount(t, "P1", audit.ActionAccessCheck))
}

func TestCheckAccess_EveryCallAuditedOnce(t *testing.T) {
	e := newEnv(t)
	rec := e.record(t, "P1", records.TypeLabResult)
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeRead})

	e.check(t, "P1", "P1", rec.ID, accessgrants.PermissionWrite)
	allow := e.check(t, "Dr1", "P1", rec.ID, accessgrants.PermissionRead)
	deny := e.check(t, "Dr9", "P1", rec.ID, accessgrants.PermissionRead)

	var checks []audit.Entry
	for entry, err := range e.log.QueryByOwner(context.Background(), "P1", time.Time{}, time.Time{}) {
		require.NoError(t, err)
		if entry.Action == audit.ActionAccessCheck {
			checks = append(checks, entry)
		}
	}
	require.Len(t, checks, 3)

	assert.Equal(t, allow.AuditEntryID, checks[1].ID)
	assert.Equal(t, audit.ResultAllow, checks[1].Result)
	assert.Equal(t, allow.Grant.ID, checks[1].GrantID)
	assert.Equal(t, string(access.ReasonGrantMatch), checks[1].Reason)

	assert.Equal(t, deny.AuditEntryID, checks[2].ID)
	assert.Equal(t, audit.ResultDeny, checks[2].Result)
	assert.Equal(t, "Dr9", checks[2].ActorID)
	assert.Equal(t, rec.ID, checks[2].RecordID)
}

func TestCheckAccess_AuditFailureYieldsNoDecision(t *testing.T) {
	e := newEnv(t)
	rec := e.record(t, "P1", records.TypeLabResult)
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeRead})

	e.audit.down.Store(true)
	d, err := e.engine.CheckAccess(context.Background(), "Dr1", "P1", rec.ID, accessgrants.PermissionRead)
	require.ErrorIs(t, err, audit.ErrUnavailable)
	assert.False(t, d.Allowed)
	assert.Empty(t, d.Reason)

	_, err = e.engine.CheckAccess(context.Background(), "P1", "P1", rec.ID, accessgrants.PermissionRead)
	assert.ErrorIs(t, err, audit.ErrUnavailable)
}

func TestCheckNewRecord_RecordFilterNeverCoversNewRecords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Rec", Scope: accessgrants.ScopeWrite, Filter: recordOnly("r1")})
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Cat", Scope: accessgrants.ScopeWrite, Filter: category("lab-result")})
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "RO", Scope: accessgrants.ScopeRead})

	d, err := e.engine.CheckNewRecord(ctx, "Rec", "P1", records.TypeLabResult)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = e.engine.CheckNewRecord(ctx, "Cat", "P1", records.TypeLabResult)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.engine.CheckNewRecord(ctx, "Cat", "P1", records.TypeImaging)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = e.engine.CheckNewRecord(ctx, "RO", "P1", records.TypeLabResult)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestRecordsService_UsesEngine(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := e.record(t, "P1", records.TypeImaging)

	_, err := e.records.ReadRecord(ctx, "Dr1", rec.ID)
	assert.ErrorIs(t, err, records.ErrForbidden)

	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeWrite, Filter: category("imaging")})

	got, err := e.records.ReadRecord(ctx, "Dr1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	amended, err := e.records.Amend(ctx, "Dr1", rec.ID, "sha256-v2")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, amended.SupersedesID)
	assert.Equal(t, "Dr1", amended.AuthorID)

	_, err = e.records.Submit(ctx, "Dr1", records.CreateInput{OwnerID: "P1", Type: records.TypeLabResult, ContentRef: "sha256-lab"})
	assert.ErrorIs(t, err, records.ErrForbidden)
}

func TestCheckAccess_Concurrent(t *testing.T) {
	e := newEnv(t)
	rec := e.record(t, "P1", records.TypeLabResult)
	e.grant(t, accessgrants.GrantInput{OwnerID: "P1", GranteeID: "Dr1", Scope: accessgrants.ScopeRead})

	const n = 20
	var wg sync.WaitGroup
	var allowed atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := e.engine.CheckAccess(context.Background(), "Dr1", "P1", rec.ID, accessgrants.PermissionRead)
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), allowed.Load())
	assert.Equal(t, n, e.auditCount(t, "P1", audit.ActionAccessCheck))
}
