package audit_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	mem "health-access-ledger/internal/adapters/storage/memory"
	"health-access-ledger/internal/domain/audit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenRepo struct{}

func (brokenRepo) Append(context.Context, audit.Entry) error { return errors.New("connection reset") }
func (brokenRepo) QueryByOwner(context.Context, audit.Query) ([]audit.Entry, error) {
	return nil, errors.New("connection reset")
}

var t0 = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

// seed agrega n entradas de access_check para owner, una por minuto desde t0.
func seed(t *testing.T, l *audit.Log, owner string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.Append(context.Background(), audit.Entry{
			Timestamp:      t0.Add(time.Duration(i) * time.Minute),
			ActorID:        fmt.Sprintf("Dr%d", i),
			Action:         audit.ActionAccessCheck,
			SubjectOwnerID: owner,
			Result:         audit.ResultDeny,
		})
		require.NoError(t, err)
	}
}

func TestAppend_AssignsIDAndTimestamp(t *testing.T) {
	repo := mem.NewAuditRepo()
	l := audit.NewLog(repo, audit.WithClock(func() time.Time { return t0 }))

	id, err := l.Append(context.Background(), audit.Entry{ActorID: "P1", Action: audit.ActionGrant, SubjectOwnerID: "P1", Result: audit.ResultSuccess})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	items, next, err := l.Page(context.Background(), audit.Query{OwnerID: "P1"})
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.True(t, items[0].Timestamp.Equal(t0))
}

func TestAppend_Validation(t *testing.T) {
	l := audit.NewLog(mem.NewAuditRepo())

	_, err := l.Append(context.Background(), audit.Entry{Action: audit.ActionGrant})
	assert.ErrorIs(t, err, audit.ErrInvalidInput)

	_, err = l.Append(context.Background(), audit.Entry{SubjectOwnerID: "P1"})
	assert.ErrorIs(t, err, audit.ErrInvalidInput)
}

func TestAppend_StorageFailureIsSurfaced(t *testing.T) {
	l := audit.NewLog(brokenRepo{})

	_, err := l.Append(context.Background(), audit.Entry{Action: audit.ActionRevoke, SubjectOwnerID: "P1"})
	assert.ErrorIs(t, err, audit.ErrUnavailable)

	_, _, err = l.Page(context.Background(), audit.Query{OwnerID: "P1"})
	assert.ErrorIs(t, err, audit.ErrUnavailable)
}

func TestPage_CursorWalksInOrder(t *testing.T) {
	l := audit.NewLog(mem.NewAuditRepo())
	seed(t, l, "P1", 5)
	seed(t, l, "P2", 2)

	var got []string
	q := audit.Query{OwnerID: "P1", Limit: 2}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5)
		items, next, err := l.Page(context.Background(), q)
		require.NoError(t, err)
		for _, e := range items {
			got = append(got, e.ActorID)
		}
		if next == nil {
			break
		}
		q.After = next
	}
	assert.Equal(t, []string{"Dr0", "Dr1", "Dr2", "Dr3", "Dr4"}, got)
}

func TestPage_LimitIsCappedByPageSize(t *testing.T) {
	l := audit.NewLog(mem.NewAuditRepo(), audit.WithPageSize(3))
	seed(t, l, "P1", 4)

	items, next, err := l.Page(context.Background(), audit.Query{OwnerID: "P1", Limit: 50})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	require.NotNil(t, next)
	assert.Equal(t, items[2].ID, next.ID)
}

func TestQueryByOwner_TimeRange(t *testing.T) {
	l := audit.NewLog(mem.NewAuditRepo(), audit.WithPageSize(2))
	seed(t, l, "P1", 6)

	var got []string
	from, to := t0.Add(time.Minute), t0.Add(4*time.Minute)
	for e, err := range l.QueryByOwner(context.Background(), "P1", from, to) {
		require.NoError(t, err)
		got = append(got, e.ActorID)
	}
	// From inclusivo, To exclusivo.
	assert.Equal(t, []string{"Dr1", "Dr2", "Dr3"}, got)
}

func TestQueryByOwner_NonDecreasingAndRestartable(t *testing.T) {
	l := audit.NewLog(mem.NewAuditRepo(), audit.WithPageSize(2))
	seed(t, l, "P1", 5)
	// Entrada con timestamp repetido: el orden total desempata por id.
	_, err := l.Append(context.Background(), audit.Entry{Timestamp: t0, Action: audit.ActionGrant, SubjectOwnerID: "P1"})
	require.NoError(t, err)

	var first []audit.Entry
	for e, err := range l.QueryByOwner(context.Background(), "P1", time.Time{}, time.Time{}) {
		require.NoError(t, err)
		first = append(first, e)
	}
	require.Len(t, first, 6)
	for i := 1; i < len(first); i++ {
		assert.False(t, first[i].Timestamp.Before(first[i-1].Timestamp))
	}

	// Reanudar desde la tercera entrada consumida.
	pos := first[2].Position()
	var rest []audit.Entry
	for e, err := range l.Scan(context.Background(), audit.Query{OwnerID: "P1", After: &pos}) {
		require.NoError(t, err)
		rest = append(rest, e)
	}
	assert.Equal(t, first[3:], rest)
}

func TestScan_StopsEarly(t *testing.T) {
	l := audit.NewLog(mem.NewAuditRepo(), audit.WithPageSize(2))
	seed(t, l, "P1", 5)

	n := 0
	for _, err := range l.QueryByOwner(context.Background(), "P1", time.Time{}, time.Time{}) {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestScan_YieldsStorageError(t *testing.T) {
	l := audit.NewLog(brokenRepo{})

	var errs []error
	for _, err := range l.QueryByOwner(context.Background(), "P1", time.Time{}, time.Time{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], audit.ErrUnavailable)
}
