package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/peakmsg/inapp-engine/pkg/campaign"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	saved := []*campaign.Campaign{campaign.New(modalData("c1", 3))}
	saved[0].ImpressionsLeft = 2
	saved[0].IsOptedOut = true

	if err := store.Save(ctx, "user-a", saved); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := store.Load(ctx, "user-a")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 campaign, got %d", len(loaded))
	}
	if loaded[0].ID() != "c1" || loaded[0].ImpressionsLeft != 2 || !loaded[0].IsOptedOut {
		t.Errorf("round trip lost state: %+v", loaded[0])
	}
}

func TestRedisStore_MissingKeyIsNotAnError(t *testing.T) {
	store := newTestRedisStore(t)

	loaded, err := store.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Load() on missing key error: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty result for missing key, got %d campaigns", len(loaded))
	}
}

func TestRedisStore_KeysAreIsolatedPerUser(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "user-a", []*campaign.Campaign{campaign.New(modalData("c1", 1))}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := store.Save(ctx, "user-b", []*campaign.Campaign{campaign.New(modalData("c2", 1))}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := store.Load(ctx, "user-a")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID() != "c1" {
		t.Errorf("expected user-a to only see its own state, got %+v", loaded)
	}
}

func TestRedisStore_CorruptPayloadSurfacesError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStore(client)

	if err := mr.Set(redisKey("user-a"), "not json"); err != nil {
		t.Fatalf("failed to seed corrupt value: %v", err)
	}

	if _, err := store.Load(context.Background(), "user-a"); err == nil {
		t.Error("expected corrupt payload to surface a load error")
	}
}
