package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/cezarfuhr/recommendation-engine/core"
	"github.com/cezarfuhr/recommendation-engine/store"
)

func newCache(t *testing.T) (*RecommendationCache, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return NewRecommendationCache(s, time.Hour, nil), s
}

func sample(ids ...string) []*core.Item {
	out := make([]*core.Item, len(ids))
	for i, id := range ids {
		out[i] = core.NewItem(id)
		out[i].Score = float64(len(ids) - i)
		out[i].Rank = i + 1
	}
	return out
}

func TestRecommendationCache_RoundTrip(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "u1", "hybrid", sample("a", "b", "c")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, hit, err := c.Get(ctx, "u1", "hybrid")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if len(got) != 3 || got[0].ID != "a" || got[0].Rank != 1 {
		t.Errorf("got %v", got)
	}
}

func TestRecommendationCache_MissIsNotAnError(t *testing.T) {
	c, _ := newCache(t)

	got, hit, err := c.Get(context.Background(), "nobody", "hybrid")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hit || got != nil {
		t.Errorf("miss = (%v, %v), want (nil, false)", got, hit)
	}
}

func TestRecommendationCache_InvalidateUserClearsAllAlgorithms(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	c.Put(ctx, "u1", "hybrid", sample("a"))
	c.Put(ctx, "u1", "collaborative", sample("b"))
	c.Put(ctx, "u2", "hybrid", sample("c"))

	if err := c.InvalidateUser(ctx, "u1"); err != nil {
		t.Fatalf("InvalidateUser: %v", err)
	}

	for _, algo := range []string{"hybrid", "collaborative"} {
		if _, hit, _ := c.Get(ctx, "u1", algo); hit {
			t.Errorf("u1/%s still cached after invalidation", algo)
		}
	}
	// 其他用户不受影响
	if _, hit, _ := c.Get(ctx, "u2", "hybrid"); !hit {
		t.Error("u2 cache must survive u1 invalidation")
	}
}

func TestRecommendationCache_InvalidateUnknownUser(t *testing.T) {
	c, _ := newCache(t)
	if err := c.InvalidateUser(context.Background(), "nobody"); err != nil {
		t.Errorf("InvalidateUser on empty cache: %v", err)
	}
}

func TestRecommendationCache_CorruptEntryDropped(t *testing.T) {
	c, s := newCache(t)
	ctx := context.Background()

	s.Set(ctx, "recs:user:u1:hybrid", []byte("{not json"))
	got, hit, err := c.Get(ctx, "u1", "hybrid")
	if err != nil || hit || got != nil {
		t.Errorf("corrupt entry = (%v, %v, %v), want miss", got, hit, err)
	}
	// 坏条目被清掉
	if _, err := s.Get(ctx, "recs:user:u1:hybrid"); !core.IsStoreNotFound(err) {
		t.Error("corrupt entry should be deleted")
	}
}

func TestRecommendationCache_PutAfterInvalidationServesFresh(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	c.Put(ctx, "u1", "hybrid", sample("old"))
	c.InvalidateUser(ctx, "u1")
	c.Put(ctx, "u1", "hybrid", sample("new"))

	got, hit, err := c.Get(ctx, "u1", "hybrid")
	if err != nil || !hit {
		t.Fatalf("Get = (%v, %v)", hit, err)
	}
	if got[0].ID != "new" {
		t.Errorf("got %s, want new", got[0].ID)
	}
}
