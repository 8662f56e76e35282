package runstate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Doitordead/Intel-irris/internal/reconcile"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func sampleRun(id string) Summary {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Summary{
		ID:         id,
		Revision:   "abc123",
		Status:     StatusSucceeded,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Tables:     map[string]reconcile.TableStats{"domains": {Inserted: 2}},
		Relations:  map[string]reconcile.RelationStats{"user_party_users": {Added: 3}},
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedisLockExcludesSecondHolder(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	release, err := store.Acquire(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := store.Acquire(ctx, time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire error = %v, want ErrLocked", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	again, err := store.Acquire(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	_ = again(ctx)
}

func TestRedisLockExpiresAndStaleReleaseIsIgnored(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	stale, err := store.Acquire(ctx, time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := store.Acquire(ctx, time.Minute); err != nil {
		t.Fatalf("Acquire after expiry failed: %v", err)
	}
	if err := stale(ctx); err != nil {
		t.Fatalf("stale release failed: %v", err)
	}
	if !s.Exists(store.key("lock")) {
		t.Fatal("stale release removed the current holder's lock")
	}
	if _, err := store.Acquire(ctx, time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("Acquire error = %v, want ErrLocked", err)
	}
}

func TestRedisSaveAndLastRun(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if _, err := store.LastRun(ctx); !errors.Is(err, ErrNoRun) {
		t.Fatalf("LastRun on empty store error = %v, want ErrNoRun", err)
	}

	if err := store.SaveRun(ctx, sampleRun("run-1")); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-2")); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	last, err := store.LastRun(ctx)
	if err != nil {
		t.Fatalf("LastRun failed: %v", err)
	}
	if last.ID != "run-2" {
		t.Errorf("expected run-2, got %s", last.ID)
	}
	if last.Tables["domains"].Inserted != 2 || last.Relations["user_party_users"].Added != 3 {
		t.Errorf("stats not round-tripped: %+v", last)
	}
	if last.Duration() != 1500*time.Millisecond {
		t.Errorf("duration = %v", last.Duration())
	}
}

func TestRedisRecentIsBounded(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	for i := range historyLimit + 5 {
		if err := store.SaveRun(ctx, sampleRun(fmt.Sprintf("run-%02d", i))); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}
	runs, err := store.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != historyLimit {
		t.Fatalf("expected %d runs, got %d", historyLimit, len(runs))
	}
	if runs[0].ID != fmt.Sprintf("run-%02d", historyLimit+4) {
		t.Errorf("newest run first, got %s", runs[0].ID)
	}
	if none, _ := store.Recent(ctx, 0); len(none) != 0 {
		t.Errorf("Recent(0) returned %d runs", len(none))
	}
}

func TestRedisPing(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	release, err := m.Acquire(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := m.Acquire(ctx, time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire error = %v, want ErrLocked", err)
	}
	now = now.Add(2 * time.Minute)
	current, err := m.Acquire(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry failed: %v", err)
	}
	_ = release(ctx)
	if _, err := m.Acquire(ctx, time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatal("stale release freed the current lock")
	}
	_ = current(ctx)

	if _, err := m.LastRun(ctx); !errors.Is(err, ErrNoRun) {
		t.Fatalf("LastRun error = %v, want ErrNoRun", err)
	}
	for i := range historyLimit + 2 {
		_ = m.SaveRun(ctx, sampleRun(fmt.Sprintf("run-%02d", i)))
	}
	last, _ := m.LastRun(ctx)
	if last.ID != fmt.Sprintf("run-%02d", historyLimit+1) {
		t.Errorf("unexpected last run %s", last.ID)
	}
	recent, _ := m.Recent(ctx, 3)
	if len(recent) != 3 || recent[2].ID != fmt.Sprintf("run-%02d", historyLimit-1) {
		t.Errorf("unexpected recent runs %+v", recent)
	}
	all, _ := m.Recent(ctx, 100)
	if len(all) != historyLimit {
		t.Errorf("history not bounded: %d", len(all))
	}
}
