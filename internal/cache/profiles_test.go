package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/models"
)

func seedUser(t *testing.T, store docstore.Store, uid, displayName string) {
	t.Helper()
	u := models.User{Username: uid, DisplayName: displayName, Chats: []string{}}
	if err := store.Set(context.Background(), docstore.Doc("users", uid), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestProfiles_LocalTTL(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := docstore.NewMemoryStore(clk)
	p := NewProfiles(store, nil, clk, time.Minute)
	ctx := context.Background()
	seedUser(t, store, "u1", "Alice")

	u, err := p.Get(ctx, "u1")
	if err != nil || u.DisplayName != "Alice" || u.UID != "u1" {
		t.Fatalf("Get() = %+v, %v", u, err)
	}

	seedUser(t, store, "u1", "Alicia")
	if u, _ := p.Get(ctx, "u1"); u.DisplayName != "Alice" {
		t.Errorf("Get() within ttl = %q, want cached Alice", u.DisplayName)
	}

	clk.Advance(time.Minute + time.Second)
	if u, _ := p.Get(ctx, "u1"); u.DisplayName != "Alicia" {
		t.Errorf("Get() after ttl = %q, want Alicia", u.DisplayName)
	}
}

func TestProfiles_Invalidate(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := docstore.NewMemoryStore(clk)
	p := NewProfiles(store, nil, clk, time.Hour)
	ctx := context.Background()
	seedUser(t, store, "u1", "Alice")

	_, _ = p.Get(ctx, "u1")
	seedUser(t, store, "u1", "Alicia")
	p.Invalidate(ctx, "u1")
	if u, _ := p.Get(ctx, "u1"); u.DisplayName != "Alicia" {
		t.Errorf("Get() after invalidate = %q, want Alicia", u.DisplayName)
	}
}

func TestProfiles_Missing(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := docstore.NewMemoryStore(clk)
	p := NewProfiles(store, nil, clk, time.Hour)
	ctx := context.Background()

	if _, err := p.Get(ctx, "ghost"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("Get() missing error = %v, want ErrNotFound", err)
	}
	// 不缓存未命中
	seedUser(t, store, "ghost", "Casper")
	if u, err := p.Get(ctx, "ghost"); err != nil || u.DisplayName != "Casper" {
		t.Errorf("Get() = %+v, %v", u, err)
	}
}

func TestProfiles_Redis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("skip: REDIS_URL not set")
	}
	rdb, err := NewRedisClient(url)
	if err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	defer rdb.Close()

	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := docstore.NewMemoryStore(clk)
	ctx := context.Background()
	uid := "cache-test-" + store.NewID()
	seedUser(t, store, uid, "Alice")

	first := NewProfiles(store, rdb, clk, time.Minute)
	if _, err := first.Get(ctx, uid); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer first.Invalidate(ctx, uid)

	// 另一个进程的缓存实例应从 Redis 命中
	seedUser(t, store, uid, "Alicia")
	second := NewProfiles(store, rdb, clk, time.Minute)
	if u, _ := second.Get(ctx, uid); u.DisplayName != "Alice" {
		t.Errorf("Get() via redis = %q, want Alice", u.DisplayName)
	}
}
