package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"health-access-ledger/internal/domain/audit"
)

// AuditRepo guarda entradas por owner, ordenadas por (timestamp, id).
type AuditRepo struct {
	mu      sync.RWMutex
	ids     map[string]struct{}
	byOwner map[string][]audit.Entry
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{
		ids:     make(map[string]struct{}),
		byOwner: make(map[string][]audit.Entry),
	}
}

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("audit entry id required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[e.ID]; exists {
		return errors.New("audit entry already exists")
	}

	items := r.byOwner[e.SubjectOwnerID]
	// Casi siempre llega en orden: inserción al final.
	i := sort.Search(len(items), func(i int) bool { return audit.Less(e, items[i]) })
	items = append(items, audit.Entry{})
	copy(items[i+1:], items[i:])
	items[i] = e

	r.byOwner[e.SubjectOwnerID] = items
	r.ids[e.ID] = struct{}{}
	return nil
}

func (r *AuditRepo) QueryByOwner(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]audit.Entry, 0)
	for _, e := range r.byOwner[q.OwnerID] {
		if !q.Matches(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}
