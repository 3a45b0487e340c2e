package cache

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"

	"roomchat/chatsync"
	"roomchat/crypto"
	"roomchat/storage"
)

func exerciseCache(t *testing.T, c chatsync.Cache) {
	t.Helper()
	ctx := context.Background()
	key := "messages-" + strings.ReplaceAll(t.Name(), "/", "-")

	if _, found, err := c.Get(ctx, key); err != nil || found {
		t.Fatalf("expected missing key, found=%v err=%v", found, err)
	}
	if err := c.Set(ctx, key, `[{"_id":"a"}]`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set(ctx, key, `[{"_id":"b"}]`); err != nil {
		t.Fatalf("overwrite Set failed: %v", err)
	}
	value, found, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || value != `[{"_id":"b"}]` {
		t.Fatalf("expected last write to win, got found=%v value=%q", found, value)
	}
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemory())
}

func TestSQLiteCache(t *testing.T) {
	exerciseCache(t, NewSQLite(newTestStore(t)))
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("ROOMCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROOMCHAT_TEST_REDIS_ADDR not set")
	}
	c, closeFn, err := Open(context.Background(), Options{Backend: BackendRedis, Redis: &redis.Options{Addr: addr}, RedisPrefix: "roomchat:test:"})
	if err != nil {
		t.Fatalf("Open redis failed: %v", err)
	}
	defer closeFn()
	exerciseCache(t, c)
}

func TestSealedCacheEncryptsAtRest(t *testing.T) {
	master, err := crypto.GenerateCacheKey()
	if err != nil {
		t.Fatalf("GenerateCacheKey failed: %v", err)
	}
	inner := NewMemory()
	sealed, err := NewSealed(inner, master)
	if err != nil {
		t.Fatalf("NewSealed failed: %v", err)
	}
	exerciseCache(t, sealed)

	ctx := context.Background()
	if err := sealed.Set(ctx, "messages", `[{"text":"secret"}]`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	raw, _, _ := inner.Get(ctx, "messages")
	if strings.Contains(raw, "secret") {
		t.Fatalf("inner cache holds plaintext: %q", raw)
	}

	// A sealed value copied to another slot must not open.
	if err := inner.Set(ctx, "other", raw); err != nil {
		t.Fatalf("inner Set failed: %v", err)
	}
	if _, _, err := sealed.Get(ctx, "other"); err == nil {
		t.Fatalf("expected slot binding to reject moved value")
	}

	if err := inner.Set(ctx, "plain", "not base64!"); err != nil {
		t.Fatalf("inner Set failed: %v", err)
	}
	if _, _, err := sealed.Get(ctx, "plain"); !errors.Is(err, ErrUnsealed) {
		t.Fatalf("expected ErrUnsealed, got %v", err)
	}

	otherKey, _ := crypto.GenerateCacheKey()
	stranger, _ := NewSealed(inner, otherKey)
	if _, _, err := stranger.Get(ctx, "messages"); err == nil {
		t.Fatalf("expected wrong key to fail")
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	c, closeFn, err := Open(ctx, Options{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("Open memory failed: %v", err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Fatalf("expected *Memory, got %T", c)
	}
	_ = closeFn()

	c, closeFn, err = Open(ctx, Options{Backend: BackendSQLite, Store: newTestStore(t), SealKey: make([]byte, crypto.CacheKeySize)})
	if err != nil {
		t.Fatalf("Open sealed sqlite failed: %v", err)
	}
	if _, ok := c.(*Sealed); !ok {
		t.Fatalf("expected *Sealed, got %T", c)
	}
	_ = closeFn()

	if _, _, err := Open(ctx, Options{Backend: BackendSQLite}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, _, err := Open(ctx, Options{Backend: "etcd"}); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}
