package records

import "context"

// Repository es append-only: no hay update ni delete.
type Repository interface {
	Create(ctx context.Context, r Record) error
	GetByID(ctx context.Context, id string) (Record, error)
	// ListByOwner devuelve hasta limit registros newest-first, estrictamente
	// posteriores a before en ese orden (nil = desde el más reciente).
	ListByOwner(ctx context.Context, ownerID string, before *Cursor, limit int) ([]Record, error)
}
