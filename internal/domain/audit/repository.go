package audit

import (
	"context"
	"time"
)

type Repository interface {
	Append(ctx context.Context, e Entry) error
	QueryByOwner(ctx context.Context, q Query) ([]Entry, error)
}

// Query devuelve entradas de un owner en orden ascendente (timestamp, id).
// From es inclusivo y To exclusivo; cero = sin límite.
type Query struct {
	OwnerID string
	From    time.Time
	To      time.Time
	After   *Position
	Limit   int
}

// Matches aplica los filtros de la query a una entrada (usado por repos in-memory).
func (q Query) Matches(e Entry) bool {
	if e.SubjectOwnerID != q.OwnerID {
		return false
	}
	if !q.From.IsZero() && e.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !e.Timestamp.Before(q.To) {
		return false
	}
	if q.After != nil && !e.After(*q.After) {
		return false
	}
	return true
}
