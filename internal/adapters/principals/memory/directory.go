package memory

import (
	"context"
	"strings"
	"sync"
)

// Directory es un directorio de principals en memoria.
// En modo abierto (sin seed) cualquier id no vacío existe; útil en dev.
type Directory struct {
	mu   sync.RWMutex
	ids  map[string]struct{}
	open bool
}

func NewDirectory(ids ...string) *Directory {
	d := &Directory{ids: make(map[string]struct{})}
	for _, id := range ids {
		d.Add(id)
	}
	return d
}

func NewOpenDirectory() *Directory {
	return &Directory{ids: make(map[string]struct{}), open: true}
}

func (d *Directory) Add(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	d.mu.Lock()
	d.ids[id] = struct{}{}
	d.mu.Unlock()
}

func (d *Directory) Exists(ctx context.Context, principalID string) (bool, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return false, nil
	}
	if d.open {
		return true, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[principalID]
	return ok, nil
}
