package memory

import (
	"context"
	"testing"
	"time"

	"health-access-ledger/internal/domain/audit"
	"health-access-ledger/internal/domain/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRepo_KeepsTotalOrderOnOutOfOrderAppends(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditRepo()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for _, e := range []audit.Entry{
		{ID: "c", Timestamp: base.Add(2 * time.Second), SubjectOwnerID: "P1", Action: audit.ActionGrant},
		{ID: "a", Timestamp: base, SubjectOwnerID: "P1", Action: audit.ActionGrant},
		{ID: "b2", Timestamp: base.Add(time.Second), SubjectOwnerID: "P1", Action: audit.ActionRevoke},
		{ID: "b1", Timestamp: base.Add(time.Second), SubjectOwnerID: "P1", Action: audit.ActionRevoke},
		{ID: "x", Timestamp: base, SubjectOwnerID: "P2", Action: audit.ActionGrant},
	} {
		require.NoError(t, repo.Append(ctx, e))
	}

	got, err := repo.QueryByOwner(ctx, audit.Query{OwnerID: "P1"})
	require.NoError(t, err)
	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, ids)

	after := got[1].Position()
	rest, err := repo.QueryByOwner(ctx, audit.Query{OwnerID: "P1", After: &after, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "b2", rest[0].ID)
}

func TestAuditRepo_RejectsDuplicateAndMissingID(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditRepo()

	require.NoError(t, repo.Append(ctx, audit.Entry{ID: "e1", SubjectOwnerID: "P1"}))
	assert.Error(t, repo.Append(ctx, audit.Entry{ID: "e1", SubjectOwnerID: "P1"}))
	assert.Error(t, repo.Append(ctx, audit.Entry{SubjectOwnerID: "P1"}))
}

func TestRecordsRepo_CursorPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordsRepo()
	ts := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	// r1 y r2 comparten createdAt: desempata el id.
	for _, r := range []records.Record{
		{ID: "r0", OwnerID: "P1", CreatedAt: ts},
		{ID: "r1", OwnerID: "P1", CreatedAt: ts.Add(time.Minute)},
		{ID: "r2", OwnerID: "P1", CreatedAt: ts.Add(time.Minute)},
		{ID: "q0", OwnerID: "P2", CreatedAt: ts},
	} {
		require.NoError(t, repo.Create(ctx, r))
	}
	assert.ErrorIs(t, repo.Create(ctx, records.Record{ID: "r0", OwnerID: "P1"}), records.ErrStoreUnavailable)
	assert.ErrorIs(t, repo.Create(ctx, records.Record{OwnerID: "P1"}), records.ErrInvalidInput)

	page, err := repo.ListByOwner(ctx, "P1", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "r2", page[0].ID)
	assert.Equal(t, "r1", page[1].ID)

	c := page[1].Cursor()
	rest, err := repo.ListByOwner(ctx, "P1", &c, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "r0", rest[0].ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, records.ErrNotFound)
}
