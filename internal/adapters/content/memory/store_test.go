package memory

import (
	"context"
	"testing"

	"health-access-ledger/internal/ports/content"
)

func TestStore_PutIsContentAddressed(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	a, err := st.Put(ctx, []byte("report"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	b, _ := st.Put(ctx, []byte("report"))
	if a != b {
		t.Fatalf("same bytes must yield same id: %s vs %s", a, b)
	}

	got, err := st.Get(ctx, a)
	if err != nil || string(got) != "report" {
		t.Fatalf("get: %q %v", got, err)
	}

	if _, err := st.Get(ctx, content.IDFor([]byte("other"))); err != content.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
