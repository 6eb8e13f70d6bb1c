package idempotency

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := Key("P1", uuid.NewString())

	_, found, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := s.Reserve(ctx, key, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Reserve(ctx, key, "fp")
	require.NoError(t, err)
	assert.False(t, ok, "second reservation must lose")

	pending, found, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, pending.Pending)
	assert.Equal(t, "fp", pending.Fingerprint)

	resp := Response{Fingerprint: "fp", Status: 201, ContentType: "application/json", Body: []byte(`{"id":"r1"}`)}
	require.NoError(t, s.Put(ctx, key, resp))
	assert.ErrorIs(t, s.Put(ctx, key, Response{Fingerprint: "other"}), ErrExists)

	// una respuesta final no se libera ni se vuelve a reservar
	require.NoError(t, s.Release(ctx, key))
	ok, err = s.Reserve(ctx, key, "fp")
	require.NoError(t, err)
	assert.False(t, ok)

	got, found, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, resp, got)

	released := Key("P1", uuid.NewString())
	ok, err = s.Reserve(ctx, released, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Release(ctx, released))
	_, found, err = s.Get(ctx, released)
	require.NoError(t, err)
	assert.False(t, found)
	ok, err = s.Reserve(ctx, released, "fp2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStore_Expires(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", Response{Fingerprint: "a", Status: 201}))
	now = now.Add(time.Minute)

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, s.Put(ctx, "k", Response{Fingerprint: "b", Status: 201}))
}

func TestMemoryStore_StaleReservationExpires(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := s.Reserve(ctx, "k", "a")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(PendingTTL)
	ok, err = s.Reserve(ctx, "k", "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_ConcurrentReserveHasOneWinner(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Reserve(context.Background(), "k", "fp")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	client, err := NewRedisClient(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	exerciseStore(t, NewRedisStore(client, time.Minute))
}

func TestFingerprint_DependsOnBody(t *testing.T) {
	a := Fingerprint("POST", "/records", []byte(`{"a":1}`))
	assert.Equal(t, a, Fingerprint("POST", "/records", []byte(`{"a":1}`)))
	assert.NotEqual(t, a, Fingerprint("POST", "/records", []byte(`{"a":2}`)))
	assert.NotEqual(t, a, Fingerprint("POST", "/records/content", []byte(`{"a":1}`)))
}
