package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskhub/domain"
)

type countingReader struct {
	base  taskReader
	lists int
	stats int
}

func (r *countingReader) ListTasks(ctx context.Context, ownerID string, q TaskQuery) (*TaskPage, error) {
	r.lists++
	return r.base.ListTasks(ctx, ownerID, q)
}

func (r *countingReader) TaskStats(ctx context.Context, ownerID string) (*domain.TaskStats, error) {
	r.stats++
	return r.base.TaskStats(ctx, ownerID)
}

func newTestCache(t *testing.T) (*Cache, *countingReader, *miniredis.Miniredis, *Storage) {
	t.Helper()
	s := newTestStorage(t)
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	counter := &countingReader{base: s}
	return NewCache(counter, rc, time.Minute), counter, mr, s
}

func TestCacheServesSecondRead(t *testing.T) {
	cache, counter, _, s := newTestCache(t)
	ctx := context.Background()

	mustCreateTask(t, s, "alice", domain.TaskDraft{Title: "cached"})

	first, err := cache.ListTasks(ctx, "alice", TaskQuery{})
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := cache.ListTasks(ctx, "alice", TaskQuery{})
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if counter.lists != 1 {
		t.Fatalf("expected one store read, got %d", counter.lists)
	}
	if len(second.Items) != len(first.Items) || second.Items[0].Title != "cached" {
		t.Fatalf("cached page mismatch: %+v", second)
	}

	if _, err := cache.TaskStats(ctx, "alice"); err != nil {
		t.Fatalf("first stats: %v", err)
	}
	if _, err := cache.TaskStats(ctx, "alice"); err != nil {
		t.Fatalf("second stats: %v", err)
	}
	if counter.stats != 1 {
		t.Fatalf("expected one stats read, got %d", counter.stats)
	}
}

func TestCacheBypassesFilteredQueries(t *testing.T) {
	cache, counter, _, s := newTestCache(t)
	ctx := context.Background()

	mustCreateTask(t, s, "alice", domain.TaskDraft{Title: "x"})

	q := TaskQuery{Search: "x"}
	for i := 0; i < 3; i++ {
		if _, err := cache.ListTasks(ctx, "alice", q); err != nil {
			t.Fatalf("filtered list: %v", err)
		}
	}
	if counter.lists != 3 {
		t.Fatalf("filtered queries were cached: %d reads", counter.lists)
	}
}

func TestCacheInvalidate(t *testing.T) {
	cache, counter, _, s := newTestCache(t)
	ctx := context.Background()

	mustCreateTask(t, s, "alice", domain.TaskDraft{Title: "v1"})
	if _, err := cache.ListTasks(ctx, "alice", TaskQuery{}); err != nil {
		t.Fatalf("warm: %v", err)
	}

	mustCreateTask(t, s, "alice", domain.TaskDraft{Title: "v2"})
	cache.Invalidate(ctx, "alice")

	page, err := cache.ListTasks(ctx, "alice", TaskQuery{})
	if err != nil {
		t.Fatalf("list after invalidate: %v", err)
	}
	if counter.lists != 2 {
		t.Fatalf("invalidated entry still served: %d reads", counter.lists)
	}
	if len(page.Items) != 2 {
		t.Fatalf("stale page after invalidate: %d items", len(page.Items))
	}
}

func TestCacheIsolatedPerUser(t *testing.T) {
	cache, _, _, s := newTestCache(t)
	ctx := context.Background()

	mustCreateTask(t, s, "alice", domain.TaskDraft{Title: "mine"})
	mustCreateTask(t, s, "bob", domain.TaskDraft{Title: "theirs"})

	if _, err := cache.ListTasks(ctx, "alice", TaskQuery{}); err != nil {
		t.Fatalf("warm alice: %v", err)
	}
	page, err := cache.ListTasks(ctx, "bob", TaskQuery{})
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Title != "theirs" {
		t.Fatalf("cross-user cache bleed: %+v", page.Items)
	}
}

func TestCacheFallsBackOnCorruptEntry(t *testing.T) {
	cache, _, mr, s := newTestCache(t)
	ctx := context.Background()

	mustCreateTask(t, s, "alice", domain.TaskDraft{Title: "real"})
	if err := mr.Set("tasks:alice", "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	page, err := cache.ListTasks(ctx, "alice", TaskQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Title != "real" {
		t.Fatalf("corrupt entry served: %+v", page.Items)
	}
	if mr.Exists("tasks:alice") {
		got, _ := mr.Get("tasks:alice")
		if got == "{not json" {
			t.Fatal("corrupt entry left in place")
		}
	}
}

func TestCacheSurvivesRedisOutage(t *testing.T) {
	cache, _, mr, s := newTestCache(t)
	ctx := context.Background()

	mustCreateTask(t, s, "alice", domain.TaskDraft{Title: "resilient"})
	mr.Close()

	page, err := cache.ListTasks(ctx, "alice", TaskQuery{})
	if err != nil {
		t.Fatalf("list with redis down: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected store fallback, got %+v", page.Items)
	}
	cache.Invalidate(ctx, "alice")
}

func TestCacheNilRedisPassthrough(t *testing.T) {
	s := newTestStorage(t)
	counter := &countingReader{base: s}
	cache := NewCache(counter, nil, time.Minute)
	ctx := context.Background()

	mustCreateTask(t, s, "alice", domain.TaskDraft{Title: "direct"})
	for i := 0; i < 2; i++ {
		if _, err := cache.ListTasks(ctx, "alice", TaskQuery{}); err != nil {
			t.Fatalf("list: %v", err)
		}
	}
	if counter.lists != 2 {
		t.Fatalf("nil client cached anyway: %d reads", counter.lists)
	}
}
