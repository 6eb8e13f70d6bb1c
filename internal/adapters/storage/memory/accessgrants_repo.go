package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"health-access-ledger/internal/domain/accessgrants"
	"health-access-ledger/internal/domain/audit"
)

// GrantsRepo guarda grants en memoria. Las escrituras pasan por una tx
// staged que se aplica completa (incluida la auditoría) o no se aplica.
type GrantsRepo struct {
	mu    sync.RWMutex
	byID  map[string]accessgrants.Grant
	audit audit.Repository
	locks *keyLocks
}

// NewAccessGrantsRepo recibe el repo de auditoría donde la tx appendea.
func NewAccessGrantsRepo(auditRepo audit.Repository) *GrantsRepo {
	return &GrantsRepo{
		byID:  make(map[string]accessgrants.Grant),
		audit: auditRepo,
		locks: newKeyLocks(),
	}
}

func (r *GrantsRepo) GetByID(ctx context.Context, id string) (accessgrants.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byID[id]
	if !ok {
		return accessgrants.Grant{}, accessgrants.ErrNotFound
	}
	return g, nil
}

func (r *GrantsRepo) ListByOwner(ctx context.Context, ownerID string) ([]accessgrants.Grant, error) {
	return r.list(func(g accessgrants.Grant) bool { return g.OwnerID == ownerID }), nil
}

func (r *GrantsRepo) ListByGrantee(ctx context.Context, granteeID string) ([]accessgrants.Grant, error) {
	return r.list(func(g accessgrants.Grant) bool { return g.GranteeID == granteeID }), nil
}

func (r *GrantsRepo) list(keep func(accessgrants.Grant) bool) []accessgrants.Grant {
	r.mu.RLock()
	out := make([]accessgrants.Grant, 0)
	for _, g := range r.byID {
		if keep(g) {
			out = append(out, g)
		}
	}
	r.mu.RUnlock()

	accessgrants.SortNewestFirst(out)
	return out
}

func (r *GrantsRepo) WithinKey(ctx context.Context, key accessgrants.Key, fn func(tx accessgrants.Tx) error) error {
	unlock := r.locks.lock(key.String())
	defer unlock()
	return r.run(ctx, fn)
}

func (r *GrantsRepo) Within(ctx context.Context, fn func(tx accessgrants.Tx) error) error {
	return r.run(ctx, fn)
}

func (r *GrantsRepo) run(ctx context.Context, fn func(tx accessgrants.Tx) error) error {
	tx := &stagedTx{repo: r}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.commit(ctx, tx)
}

// commit valida versiones y unicidad de activos, appendea auditoría y recién
// entonces aplica. Si algo falla no queda ningún cambio.
func (r *GrantsRepo) commit(ctx context.Context, tx *stagedTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	revoking := make(map[string]struct{}, len(tx.revokes))
	for _, rv := range tx.revokes {
		cur, ok := r.byID[rv.before.ID]
		if !ok {
			return accessgrants.ErrNotFound
		}
		if cur.Version != rv.before.Version || cur.Status != accessgrants.StatusActive {
			return accessgrants.ErrConcurrentModification
		}
		revoking[cur.ID] = struct{}{}
	}

	for _, g := range tx.inserts {
		if _, exists := r.byID[g.ID]; exists {
			return errors.New("grant already exists")
		}
		for _, cur := range r.byID {
			if _, ok := revoking[cur.ID]; ok {
				continue
			}
			if cur.Status == accessgrants.StatusActive && cur.Key() == g.Key() {
				return accessgrants.ErrConcurrentModification
			}
		}
	}

	for _, e := range tx.entries {
		if err := r.audit.Append(ctx, e); err != nil {
			return fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
		}
	}

	for _, rv := range tx.revokes {
		r.byID[rv.after.ID] = rv.after
	}
	for _, g := range tx.inserts {
		r.byID[g.ID] = g
	}
	return nil
}

type stagedRevoke struct {
	before accessgrants.Grant
	after  accessgrants.Grant
}

type stagedTx struct {
	repo    *GrantsRepo
	revokes []stagedRevoke
	inserts []accessgrants.Grant
	entries []audit.Entry
}

func (tx *stagedTx) ActiveByKey(ctx context.Context, key accessgrants.Key) ([]accessgrants.Grant, error) {
	revoked := make(map[string]struct{}, len(tx.revokes))
	for _, rv := range tx.revokes {
		revoked[rv.before.ID] = struct{}{}
	}

	out := make([]accessgrants.Grant, 0, 1)
	tx.repo.mu.RLock()
	for _, g := range tx.repo.byID {
		if g.Status != accessgrants.StatusActive || g.Key() != key {
			continue
		}
		if _, ok := revoked[g.ID]; ok {
			continue
		}
		out = append(out, g)
	}
	tx.repo.mu.RUnlock()

	for _, g := range tx.inserts {
		if g.Key() == key {
			out = append(out, g)
		}
	}
	return out, nil
}

func (tx *stagedTx) Insert(ctx context.Context, g accessgrants.Grant) error {
	if strings.TrimSpace(g.ID) == "" {
		return errors.New("grant id required")
	}
	tx.inserts = append(tx.inserts, g)
	return nil
}

func (tx *stagedTx) MarkRevoked(ctx context.Context, g accessgrants.Grant, revokedAt time.Time) (accessgrants.Grant, error) {
	cur, err := tx.repo.GetByID(ctx, g.ID)
	if err != nil {
		return accessgrants.Grant{}, err
	}
	if cur.Version != g.Version || cur.Status != accessgrants.StatusActive {
		return accessgrants.Grant{}, accessgrants.ErrConcurrentModification
	}

	after := cur
	after.Status = accessgrants.StatusRevoked
	at := revokedAt
	after.RevokedAt = &at
	after.Version = cur.Version + 1

	tx.revokes = append(tx.revokes, stagedRevoke{before: cur, after: after})
	return after, nil
}

func (tx *stagedTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	tx.entries = append(tx.entries, e)
	return nil
}

// keyLocks es un mapa de mutex por key; las entradas se liberan cuando
// nadie las referencia.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[string]*keyLock)}
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
