package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sfykart/api/internal/platform/config"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "sfy_cart_v1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "sfy_cart_v1", `{"lines":[]}`))
	value, ok, err := store.Get(ctx, "sfy_cart_v1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"lines":[]}`, value)

	require.NoError(t, store.Set(ctx, "sfy_cart_v1", `{"lines":[1]}`))
	value, _, err = store.Get(ctx, "sfy_cart_v1")
	require.NoError(t, err)
	require.Equal(t, `{"lines":[1]}`, value)

	require.NoError(t, store.Remove(ctx, "sfy_cart_v1"))
	require.NoError(t, store.Remove(ctx, "sfy_cart_v1"))
	_, ok, err = store.Get(ctx, "sfy_cart_v1")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, store.Set(ctx, "", "x"), ErrInvalidKey)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	store, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseStore(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "device:abc:sfy_buyNow", `{"productKey":"mango-pickle"}`))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	value, ok, err := reopened.Get(ctx, "device:abc:sfy_buyNow")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, value, "mango-pickle")
}

func TestNamespaceIsolatesDevices(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	a := Namespace(base, "device:a")
	b := Namespace(base, "device:b")

	require.NoError(t, a.Set(ctx, "sfy_cart_v1", "A"))
	require.NoError(t, b.Set(ctx, "sfy_cart_v1", "B"))

	got, _, err := a.Get(ctx, "sfy_cart_v1")
	require.NoError(t, err)
	require.Equal(t, "A", got)

	raw, ok, err := base.Get(ctx, "device:b:sfy_cart_v1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "B", raw)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := Open(ctx, config.KVConfig{Backend: config.KVBackendMemory}, nil)
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, store)
	require.NoError(t, closeFn())

	store, closeFn, err = Open(ctx, config.KVConfig{Backend: config.KVBackendSQLite, SQLitePath: ":memory:"}, nil)
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, closeFn())

	_, _, err = Open(ctx, config.KVConfig{Backend: config.KVBackendRedis}, nil)
	require.Error(t, err)

	_, _, err = Open(ctx, config.KVConfig{Backend: "etcd"}, nil)
	require.Error(t, err)
}

// TestRedisStore runs against a live server when KV_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("KV_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KV_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	exerciseStore(t, NewRedisStore(client, "sfy:test"))
}
