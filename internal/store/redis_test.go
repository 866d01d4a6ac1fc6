package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Redis integration tests run only against a live server:
//
//	TIERCACHE_REDIS_ADDR=localhost:6379 go test ./internal/store/
func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("TIERCACHE_REDIS_ADDR")
	if addr == "" {
		t.Skip("TIERCACHE_REDIS_ADDR not set, skipping Redis integration test")
	}

	config := DefaultRedisConfig()
	config.Address = addr
	config.KeyPrefix = fmt.Sprintf("tiercache-test-%d:", time.Now().UnixNano())

	s := NewRedisStore(config, nil)
	t.Cleanup(func() {
		_ = s.Clear(context.Background())
		_ = s.Close()
	})
	return s
}

func TestRedisStore_RoundTrip(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "market:SPY", []byte("quote"), time.Minute))

	data, err := s.Get(ctx, "market:SPY")
	require.NoError(t, err)
	assert.Equal(t, []byte("quote"), data)

	require.NoError(t, s.Delete(ctx, "market:SPY"))
	data, err = s.Get(ctx, "market:SPY")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRedisStore_TTL(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "short", []byte("v"), time.Second))
	time.Sleep(1500 * time.Millisecond)

	data, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.Nil(t, data, "entry should expire")
}

func TestRedisStore_ListByPrefix(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("reports:%d", i), []byte("r"), time.Minute))
	}
	require.NoError(t, s.Put(ctx, "other:x", []byte("o"), time.Minute))

	seen := make(map[string]bool)
	cursor := ""
	for {
		result, err := s.List(ctx, "reports:", cursor)
		require.NoError(t, err)
		for _, key := range result.Keys {
			seen[key] = true
		}
		if result.Complete {
			break
		}
		cursor = result.Cursor
	}

	assert.Len(t, seen, 5)
	assert.False(t, seen["other:x"])
}

func TestRedisStore_ClearScopedToPrefix(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Put(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, s.Clear(ctx))

	data, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRedisStore_Health(t *testing.T) {
	s := newRedisStore(t)

	status, err := s.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}
