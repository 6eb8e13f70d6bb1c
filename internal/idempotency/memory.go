package idempotency

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	resp      Response
	expiresAt time.Time
}

// MemoryStore se usa cuando no hay Redis configurado.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]memEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, items: make(map[string]memEntry)}
}

// live devuelve la entrada vigente; las vencidas se borran al pasar. Requiere mu.
func (s *MemoryStore) live(key string, now time.Time) (memEntry, bool) {
	e, ok := s.items[key]
	if !ok {
		return memEntry{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(s.items, key)
		return memEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Get(_ context.Context, key string) (Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key, s.now())
	if !ok {
		return Response{}, false, nil
	}
	return e.resp, true, nil
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, ok := s.live(key, now); ok {
		return false, nil
	}
	s.items[key] = memEntry{
		resp:      Response{Fingerprint: fingerprint, Pending: true},
		expiresAt: now.Add(PendingTTL),
	}
	return true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.live(key, now); ok && !e.resp.Pending {
		return ErrExists
	}
	resp.Pending = false
	resp.Body = append([]byte(nil), resp.Body...)
	s.items[key] = memEntry{resp: resp, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.live(key, s.now()); ok && e.resp.Pending {
		delete(s.items, key)
	}
	return nil
}
