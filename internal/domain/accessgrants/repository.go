package accessgrants

import (
	"context"
	"time"

	"health-access-ledger/internal/domain/audit"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (Grant, error)
	// ListByOwner devuelve todos los grants del owner, createdAt descendente.
	ListByOwner(ctx context.Context, ownerID string) ([]Grant, error)
	ListByGrantee(ctx context.Context, granteeID string) ([]Grant, error)

	// WithinKey ejecuta fn de forma atómica y serializada respecto de otras
	// llamadas con la misma key. Keys distintas no comparten lock.
	WithinKey(ctx context.Context, key Key, fn func(tx Tx) error) error
	// Within ejecuta fn de forma atómica sin tomar lock de key.
	Within(ctx context.Context, fn func(tx Tx) error) error
}

// Tx agrupa escrituras que se confirman juntas, incluida la entrada de
// auditoría. Si fn devuelve error no se aplica nada.
type Tx interface {
	ActiveByKey(ctx context.Context, key Key) ([]Grant, error)
	Insert(ctx context.Context, g Grant) error
	// MarkRevoked aplica compare-and-swap sobre Version; si cambió devuelve
	// ErrConcurrentModification.
	MarkRevoked(ctx context.Context, g Grant, revokedAt time.Time) (Grant, error)
	AppendAudit(ctx context.Context, e audit.Entry) error
}
