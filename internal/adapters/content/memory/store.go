package memory

import (
	"context"
	"sync"

	"health-access-ledger/internal/ports/content"
)

// Store es un content store direccionado por sha256, en memoria.
type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewStore() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	id := content.IDFor(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		s.blobs[id] = append([]byte(nil), data...)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, contentID string) ([]byte, error) {
	if !content.ValidID(contentID) {
		return nil, content.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[contentID]
	if !ok {
		return nil, content.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}
