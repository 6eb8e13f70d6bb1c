//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"health-access-ledger/internal/domain/access"
	"health-access-ledger/internal/domain/accessgrants"
	"health-access-ledger/internal/domain/audit"
	"health-access-ledger/internal/domain/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgC, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("ledger"),
		tcpostgres.WithPassword("ledger"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		os.Exit(1)
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err == nil {
		testDB, err = Open(dsn)
	}
	if err == nil {
		_, err = Migrate(ctx, testDB)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "prepare database: %v\n", err)
		_ = testcontainers.TerminateContainer(pgC)
		os.Exit(1)
	}

	code := m.Run()
	_ = testDB.Close()
	_ = testcontainers.TerminateContainer(pgC)
	os.Exit(code)
}

func newLedger(t *testing.T) (*accessgrants.Service, *audit.Log) {
	t.Helper()
	auditLog := audit.NewLog(NewAuditRepo(testDB))
	return accessgrants.NewService(NewAccessGrantsRepo(testDB), auditLog), auditLog
}

func uniq(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestMigrate_IsIdempotent(t *testing.T) {
	applied, err := Migrate(context.Background(), testDB)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestGrant_RegrantRevokesPriorAndAudits(t *testing.T) {
	ctx := context.Background()
	svc, auditLog := newLedger(t)
	owner, grantee := uniq("P"), uniq("Dr")

	first, err := svc.Grant(ctx, accessgrants.GrantInput{OwnerID: owner, GranteeID: grantee, Scope: accessgrants.ScopeRead})
	require.NoError(t, err)
	second, err := svc.Grant(ctx, accessgrants.GrantInput{OwnerID: owner, GranteeID: grantee, Scope: accessgrants.ScopeRead})
	require.NoError(t, err)

	all, err := svc.ListGrants(ctx, owner, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, accessgrants.StatusActive, all[0].Status)
	assert.Equal(t, first.ID, all[1].ID)
	assert.Equal(t, accessgrants.StatusRevoked, all[1].Status)
	assert.Equal(t, int64(2), all[1].Version)

	entries, _, err := auditLog.Page(ctx, audit.Query{OwnerID: owner})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGrant_ConcurrentSameKeyLeavesOneActive(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)
	owner, grantee := uniq("P"), uniq("Dr")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Grant(ctx, accessgrants.GrantInput{OwnerID: owner, GranteeID: grantee, Scope: accessgrants.ScopeRead})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	active, err := svc.ListGrants(ctx, owner, false)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRevoke_TwiceReturnsAlreadyRevoked(t *testing.T) {
	ctx := context.Background()
	svc, _ := newLedger(t)
	owner, grantee := uniq("P"), uniq("Dr")

	g, err := svc.Grant(ctx, accessgrants.GrantInput{OwnerID: owner, GranteeID: grantee, Scope: accessgrants.ScopeWrite})
	require.NoError(t, err)

	_, err = svc.Revoke(ctx, owner, g.ID)
	require.NoError(t, err)
	_, err = svc.Revoke(ctx, owner, g.ID)
	assert.ErrorIs(t, err, accessgrants.ErrAlreadyRevoked)
}

func TestRecords_ListNewestFirstWithCursor(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordsRepo(testDB)
	owner := uniq("P")
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, records.Record{
			ID:         fmt.Sprintf("%s-r%d", owner, i),
			OwnerID:    owner,
			Type:       records.TypeLabResult,
			ContentRef: "sha256-x",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := repo.ListByOwner(ctx, owner, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, owner+"-r2", page[0].ID)
	assert.Equal(t, owner+"-r1", page[1].ID)

	c := page[1].Cursor()
	rest, err := repo.ListByOwner(ctx, owner, &c, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, owner+"-r0", rest[0].ID)
}

func TestEngine_AgainstPostgres(t *testing.T) {
	ctx := context.Background()
	svc, auditLog := newLedger(t)
	recSvc := records.NewService(NewRecordsRepo(testDB))
	engine := access.NewEngine(svc, recSvc, auditLog)
	owner, dr := uniq("P"), uniq("Dr")

	rec, err := recSvc.CreateRecord(ctx, records.CreateInput{OwnerID: owner, Type: records.TypeImaging, ContentRef: "sha256-y"})
	require.NoError(t, err)

	d, err := engine.CheckAccess(ctx, dr, owner, rec.ID, accessgrants.PermissionRead)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	_, err = svc.Grant(ctx, accessgrants.GrantInput{
		OwnerID:   owner,
		GranteeID: dr,
		Scope:     accessgrants.ScopeRead,
		Filter:    accessgrants.RecordFilter{Kind: accessgrants.FilterCategory, Value: "imaging"},
	})
	require.NoError(t, err)

	d, err = engine.CheckAccess(ctx, dr, owner, rec.ID, accessgrants.PermissionRead)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, access.ReasonGrantMatch, d.Reason)

	var ts []time.Time
	for e, err := range auditLog.QueryByOwner(ctx, owner, time.Time{}, time.Time{}) {
		require.NoError(t, err)
		ts = append(ts, e.Timestamp)
	}
	require.Len(t, ts, 3)
	for i := 1; i < len(ts); i++ {
		assert.False(t, ts[i].Before(ts[i-1]))
	}
}
