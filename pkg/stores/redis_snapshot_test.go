package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T, opts ...RedisOption) (*RedisSnapshotStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store := NewFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}), opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisSnapshot(t *testing.T) {
	store, mr := setupRedis(t, WithPrefix("test:"), WithTTL(time.Hour))
	ctx := context.Background()

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	updates := []EntitySnapshot{
		{EntityID: "2", Path: "/night/L", Type: "take_exposure", Status: "running"},
		{EntityID: "1", Path: "/night/slew", Type: "slew_to_target", Status: "finished"},
		{EntityID: "2", Path: "/night/L", Type: "take_exposure", Status: "finished"},
	}
	for _, u := range updates {
		if err := store.Put(ctx, "run-1", u); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	snap, err := store.Snapshot(ctx, "run-1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("Snapshot() returned %d entities, want 2", len(snap))
	}
	if snap[0].Path != "/night/L" || snap[0].Status != "finished" {
		t.Errorf("latest status not kept: %+v", snap[0])
	}
	if snap[0].UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	if !mr.Exists("test:run:run-1:entities") {
		t.Fatal("snapshot key does not use the prefix")
	}
	if ttl := mr.TTL("test:run:run-1:entities"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Snapshot(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired Snapshot() error = %v, want ErrNotFound", err)
	}
}

func TestRedisActiveRun(t *testing.T) {
	store, _ := setupRedis(t)
	ctx := context.Background()

	active, err := store.Active(ctx)
	if err != nil || active != "" {
		t.Fatalf("Active() = %q, %v; want empty", active, err)
	}

	if err := store.SetActive(ctx, "run-7"); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	if active, _ := store.Active(ctx); active != "run-7" {
		t.Errorf("Active() = %q, want run-7", active)
	}

	if err := store.SetActive(ctx, ""); err != nil {
		t.Fatalf("SetActive(\"\") error = %v", err)
	}
	if active, _ := store.Active(ctx); active != "" {
		t.Errorf("Active() after clear = %q", active)
	}

	if err := store.Put(ctx, "run-7", EntitySnapshot{EntityID: "x", Path: "/x", Status: "running"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(ctx, "run-7"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Snapshot(ctx, "run-7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Snapshot() after Delete error = %v", err)
	}
}
