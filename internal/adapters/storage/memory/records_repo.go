package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"health-access-ledger/internal/domain/records"
)

type recordRepo struct {
	mu   sync.RWMutex
	byID map[string]records.Record
}

func NewRecordsRepo() records.Repository {
	return &recordRepo{
		byID: make(map[string]records.Record),
	}
}

func (r *recordRepo) Create(ctx context.Context, rec records.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("%w: record id required", records.ErrInvalidInput)
	}
	// mismo mapeo que la violación de PK en postgres
	if _, exists := r.byID[rec.ID]; exists {
		return fmt.Errorf("%w: record %s already exists", records.ErrStoreUnavailable, rec.ID)
	}
	r.byID[rec.ID] = rec
	return nil
}

func (r *recordRepo) GetByID(ctx context.Context, id string) (records.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok {
		return records.Record{}, records.ErrNotFound
	}
	return rec, nil
}

func (r *recordRepo) ListByOwner(ctx context.Context, ownerID string, before *records.Cursor, limit int) ([]records.Record, error) {
	r.mu.RLock()
	out := make([]records.Record, 0)
	for _, rec := range r.byID {
		if rec.OwnerID != ownerID {
			continue
		}
		if before != nil && !rec.Before(*before) {
			continue
		}
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return records.NewerFirst(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
