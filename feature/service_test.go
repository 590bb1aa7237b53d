package feature

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/cezarfuhr/recommendation-engine/core"
	"github.com/cezarfuhr/recommendation-engine/provider"
	"github.com/cezarfuhr/recommendation-engine/store"
)

func newFixture(t *testing.T) (*Service, *provider.MemoryProvider) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	p := provider.NewMemoryProvider()
	return NewService(p, s, nil), p
}

func TestService_UserFeatures(t *testing.T) {
	svc, p := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	svc.now = func() time.Time { return now }

	p.AddUser(&core.UserProfile{ID: "u1", Preferences: map[string]any{"favorite_tags": []any{"running"}}})
	p.AddItem(&core.ItemProfile{ID: "a", Category: "sports"})
	p.AddItem(&core.ItemProfile{ID: "b", Category: "sports"})
	p.AddItem(&core.ItemProfile{ID: "c", Category: "books"})

	p.SaveInteraction(ctx, &core.InteractionRecord{UserID: "u1", ItemID: "a", Type: core.InteractionView, Timestamp: now.Add(-time.Hour)})
	p.SaveInteraction(ctx, &core.InteractionRecord{UserID: "u1", ItemID: "b", Type: core.InteractionRating, Rating: 4, Timestamp: now.Add(-2 * time.Hour)})
	p.SaveInteraction(ctx, &core.InteractionRecord{UserID: "u1", ItemID: "c", Type: core.InteractionRating, Rating: 2, Timestamp: now.Add(-3 * time.Hour)})

	uf, err := svc.UserFeatures(ctx, "u1")
	if err != nil {
		t.Fatalf("UserFeatures: %v", err)
	}
	if uf.TotalInteractions != 3 {
		t.Errorf("total = %d, want 3", uf.TotalInteractions)
	}
	if uf.InteractionCounts[core.InteractionView] != 1 || uf.InteractionCounts[core.InteractionRating] != 2 {
		t.Errorf("counts = %v", uf.InteractionCounts)
	}
	if math.Abs(uf.AvgRating-3) > 1e-9 {
		t.Errorf("avg rating = %v, want 3", uf.AvgRating)
	}
	if len(uf.FavoriteCategories) == 0 || uf.FavoriteCategories[0] != "sports" {
		t.Errorf("favorite categories = %v, want sports first", uf.FavoriteCategories)
	}
	// 最近交互 1 小时前：新近度接近 1
	if uf.RecencyScore < 0.9 {
		t.Errorf("recency = %v, want close to 1", uf.RecencyScore)
	}
	if uf.ActivityScore <= 0 || uf.ActivityScore > 1 {
		t.Errorf("activity = %v, want (0,1]", uf.ActivityScore)
	}
}

func TestService_UserFeaturesCached(t *testing.T) {
	svc, p := newFixture(t)
	ctx := context.Background()

	p.AddUser(&core.UserProfile{ID: "u1"})
	p.AddItem(&core.ItemProfile{ID: "a"})
	p.SaveInteraction(ctx, &core.InteractionRecord{UserID: "u1", ItemID: "a", Type: core.InteractionView, Timestamp: time.Now()})

	first, err := svc.UserFeatures(ctx, "u1")
	if err != nil {
		t.Fatalf("UserFeatures: %v", err)
	}

	// 新交互落库但缓存未失效：读到旧值
	p.SaveInteraction(ctx, &core.InteractionRecord{UserID: "u1", ItemID: "a", Type: core.InteractionClick, Timestamp: time.Now()})
	cached, err := svc.UserFeatures(ctx, "u1")
	if err != nil {
		t.Fatalf("UserFeatures cached: %v", err)
	}
	if cached.TotalInteractions != first.TotalInteractions {
		t.Errorf("cached total = %d, want %d", cached.TotalInteractions, first.TotalInteractions)
	}

	// 失效后重算
	if err := svc.InvalidateUser(ctx, "u1"); err != nil {
		t.Fatalf("InvalidateUser: %v", err)
	}
	fresh, err := svc.UserFeatures(ctx, "u1")
	if err != nil {
		t.Fatalf("UserFeatures fresh: %v", err)
	}
	if fresh.TotalInteractions != first.TotalInteractions+1 {
		t.Errorf("fresh total = %d, want %d", fresh.TotalInteractions, first.TotalInteractions+1)
	}
}

func TestService_ItemFeatures(t *testing.T) {
	svc, p := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	svc.now = func() time.Time { return now }

	p.AddItem(&core.ItemProfile{
		ID: "a", Category: "sports", PopularityScore: 7,
		CreatedAt: now.AddDate(0, 0, -10),
	})
	p.SaveInteraction(ctx, &core.InteractionRecord{UserID: "u1", ItemID: "a", Type: core.InteractionRating, Rating: 5, Timestamp: now})
	p.SaveInteraction(ctx, &core.InteractionRecord{UserID: "u2", ItemID: "a", Type: core.InteractionView, Timestamp: now})
	p.SaveInteraction(ctx, &core.InteractionRecord{UserID: "u1", ItemID: "other", Type: core.InteractionView, Timestamp: now})

	f, err := svc.ItemFeatures(ctx, "a")
	if err != nil {
		t.Fatalf("ItemFeatures: %v", err)
	}
	if f.TotalInteractions != 2 {
		t.Errorf("total = %d, want 2", f.TotalInteractions)
	}
	if f.AvgRating != 5 {
		t.Errorf("avg rating = %v, want 5", f.AvgRating)
	}
	if f.PopularityScore != 7 {
		t.Errorf("popularity = %v, want 7", f.PopularityScore)
	}
	if math.Abs(f.AgeDays-10) > 0.01 {
		t.Errorf("age = %v, want ~10", f.AgeDays)
	}

	if _, err := svc.ItemFeatures(ctx, "ghost"); !core.IsNotFound(err) {
		t.Errorf("unknown item: err = %v, want not found", err)
	}
}

func TestService_PairFeatures(t *testing.T) {
	svc, p := newFixture(t)
	ctx := context.Background()

	p.AddItem(&core.ItemProfile{ID: "a", Category: "sports"})
	p.AddItem(&core.ItemProfile{ID: "b", Category: "sports"})
	p.AddItem(&core.ItemProfile{ID: "c", Category: "books"})
	p.SaveInteraction(ctx, &core.InteractionRecord{UserID: "u1", ItemID: "a", Type: core.InteractionView, Timestamp: time.Now()})

	pf, err := svc.PairFeatures(ctx, "u1", "a")
	if err != nil {
		t.Fatalf("PairFeatures: %v", err)
	}
	if !pf.HasInteracted {
		t.Error("u1 interacted with a")
	}

	pf, err = svc.PairFeatures(ctx, "u1", "b")
	if err != nil {
		t.Fatalf("PairFeatures: %v", err)
	}
	if pf.HasInteracted {
		t.Error("u1 never touched b")
	}
	if !pf.CategoryMatch {
		t.Error("b shares category with interacted item a")
	}

	pf, err = svc.PairFeatures(ctx, "u1", "c")
	if err != nil {
		t.Fatalf("PairFeatures: %v", err)
	}
	if pf.CategoryMatch {
		t.Error("c is in an untouched category")
	}
}

func TestTopCategories(t *testing.T) {
	got := topCategories(map[string]int{"a": 3, "b": 5, "c": 1, "d": 3}, 3)
	// 计数降序；同计数按名称升序
	want := []string{"b", "a", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: %s, want %s", i, got[i], want[i])
		}
	}
}

// fixedProvider 总是返回固定特征或错误，模拟在线特征源。
type fixedProvider struct {
	uf  *UserFeatures
	err error
}

func (f *fixedProvider) UserFeatures(ctx context.Context, userID string) (*UserFeatures, error) {
	return f.uf, f.err
}

func (f *fixedProvider) ItemFeatures(ctx context.Context, itemID string) (*ItemFeatures, error) {
	return nil, f.err
}

func TestService_OnlineProviderFallback(t *testing.T) {
	svc, p := newFixture(t)
	ctx := context.Background()
	p.AddUser(&core.UserProfile{ID: "u1"})

	// 在线源可用：直接返回在线结果
	svc.WithOnlineProvider(&fixedProvider{uf: &UserFeatures{UserID: "u1", TotalInteractions: 99}})
	uf, err := svc.UserFeatures(ctx, "u1")
	if err != nil {
		t.Fatalf("UserFeatures: %v", err)
	}
	if uf.TotalInteractions != 99 {
		t.Errorf("online total = %d, want 99", uf.TotalInteractions)
	}

	// 在线源失败：回落到本地计算
	svc.online = &fixedProvider{err: context.DeadlineExceeded}
	uf, err = svc.UserFeatures(ctx, "u1")
	if err != nil {
		t.Fatalf("UserFeatures fallback: %v", err)
	}
	if uf.TotalInteractions != 0 {
		t.Errorf("local total = %d, want 0", uf.TotalInteractions)
	}
}
