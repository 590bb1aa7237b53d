package rule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cezarfuhr/recommendation-engine/core"
	"github.com/cezarfuhr/recommendation-engine/provider"
)

// fakeRule 记录执行顺序，便于检验流水线排序。
type fakeRule struct {
	name     string
	priority int
	apply    func(items []*core.Item) ([]*core.Item, error)
}

func (r *fakeRule) Name() string  { return r.name }
func (r *fakeRule) Kind() Kind    { return KindFilter }
func (r *fakeRule) Priority() int { return r.priority }

func (r *fakeRule) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	if r.apply != nil {
		return r.apply(items)
	}
	return items, nil
}

func items(ids ...string) []*core.Item {
	out := make([]*core.Item, len(ids))
	for i, id := range ids {
		out[i] = core.NewItem(id)
		out[i].Score = 1
	}
	return out
}

func TestEngine_PriorityOrder(t *testing.T) {
	var order []string
	record := func(name string) *fakeRule {
		return &fakeRule{name: name, priority: 0, apply: func(list []*core.Item) ([]*core.Item, error) {
			order = append(order, name)
			return list, nil
		}}
	}

	low := record("low")
	low.priority = 10
	high := record("high")
	high.priority = 100
	mid := record("mid")
	mid.priority = 50

	e := NewEngine(nil, low, high, mid)
	e.Apply(context.Background(), &core.RecommendContext{}, items("a"))

	want := []string{"high", "mid", "low"}
	if len(order) != len(want) {
		t.Fatalf("executed %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: %s, want %s", i, order[i], want[i])
		}
	}
}

func TestEngine_EqualPriorityInsertionOrder(t *testing.T) {
	var order []string
	mk := func(name string) *fakeRule {
		return &fakeRule{name: name, priority: 50, apply: func(list []*core.Item) ([]*core.Item, error) {
			order = append(order, name)
			return list, nil
		}}
	}

	e := NewEngine(nil, mk("first"), mk("second"), mk("third"))
	e.Apply(context.Background(), &core.RecommendContext{}, items("a"))

	want := []string{"first", "second", "third"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("executed %v, want %v", order, want)
		}
	}
}

func TestEngine_FailureIsolation(t *testing.T) {
	failing := &fakeRule{name: "exploder", priority: 100, apply: func([]*core.Item) ([]*core.Item, error) {
		return nil, errors.New("boom")
	}}
	panicking := &fakeRule{name: "panicker", priority: 90, apply: func([]*core.Item) ([]*core.Item, error) {
		panic("ouch")
	}}
	keepOne := &fakeRule{name: "keeper", priority: 80, apply: func(list []*core.Item) ([]*core.Item, error) {
		return list[:1], nil
	}}

	e := NewEngine(nil, failing, panicking, keepOne)
	got := e.Apply(context.Background(), &core.RecommendContext{}, items("a", "b", "c"))

	// 失败的规则被跳过，其输入原样传给下一条
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("got %v, want [a]", got)
	}
}

func TestEngine_FinalScoreSort(t *testing.T) {
	boost := &fakeRule{name: "booster", priority: 50, apply: func(list []*core.Item) ([]*core.Item, error) {
		for _, it := range list {
			if it.ID == "b" {
				it.Score = 10
			}
		}
		return list, nil
	}}

	e := NewEngine(nil, boost)
	got := e.Apply(context.Background(), &core.RecommendContext{}, items("a", "b", "c"))
	if got[0].ID != "b" {
		t.Errorf("boosted item should lead after final sort, got %s", got[0].ID)
	}
}

func TestEngine_AddRemove(t *testing.T) {
	e := NewEngine(nil)
	if len(e.Rules()) != 0 {
		t.Fatal("new engine should have no rules")
	}

	e.Add(&fakeRule{name: "r1", priority: 10})
	e.Add(&fakeRule{name: "r2", priority: 20})
	rules := e.Rules()
	if len(rules) != 2 || rules[0].Name() != "r2" {
		t.Errorf("rules after add = %v", rules)
	}

	e.Remove("r2")
	rules = e.Rules()
	if len(rules) != 1 || rules[0].Name() != "r1" {
		t.Errorf("rules after remove = %v", rules)
	}

	// 删除不存在的规则是 no-op
	e.Remove("ghost")
	if len(e.Rules()) != 1 {
		t.Error("removing unknown rule must not change the set")
	}
}

func catalogProvider() *provider.MemoryProvider {
	p := provider.NewMemoryProvider()
	p.AddItem(&core.ItemProfile{ID: "in-stock", Category: "sports",
		Features: map[string]any{"in_stock": true}})
	p.AddItem(&core.ItemProfile{ID: "sold-out", Category: "sports",
		Features: map[string]any{"in_stock": false}})
	p.AddItem(&core.ItemProfile{ID: "adult-only", Category: "other",
		Features: map[string]any{"min_age": 18}})
	p.AddItem(&core.ItemProfile{ID: "br-only", Category: "other",
		Features: map[string]any{"allowed_countries": []string{"BR"}}})
	return p
}

func TestFilterOutOfStock(t *testing.T) {
	p := catalogProvider()
	r := &FilterOutOfStock{Provider: p}

	got, err := r.Apply(context.Background(), &core.RecommendContext{}, items("in-stock", "sold-out", "unknown"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(got) != 1 || got[0].ID != "in-stock" {
		t.Errorf("got %v, want [in-stock]", got)
	}
}

func TestFilterAgeRestricted(t *testing.T) {
	p := catalogProvider()
	r := &FilterAgeRestricted{Provider: p}

	minor := &core.RecommendContext{User: &core.UserProfile{ID: "kid", Age: 12}}
	got, _ := r.Apply(context.Background(), minor, items("in-stock", "adult-only"))
	if len(got) != 1 || got[0].ID != "in-stock" {
		t.Errorf("minor: got %v, want [in-stock]", got)
	}

	adult := &core.RecommendContext{User: &core.UserProfile{ID: "grown", Age: 30}}
	got, _ = r.Apply(context.Background(), adult, items("in-stock", "adult-only"))
	if len(got) != 2 {
		t.Errorf("adult: got %d items, want 2", len(got))
	}

	// 年龄未知时不过滤
	anon := &core.RecommendContext{}
	got, _ = r.Apply(context.Background(), anon, items("adult-only"))
	if len(got) != 1 {
		t.Errorf("unknown age: got %d items, want 1", len(got))
	}
}

func TestFilterAlreadyPurchased(t *testing.T) {
	p := catalogProvider()
	p.AddUser(&core.UserProfile{ID: "u1"})
	p.SaveInteraction(context.Background(), &core.InteractionRecord{
		UserID: "u1", ItemID: "in-stock", Type: core.InteractionPurchase, Timestamp: time.Now(),
	})
	p.SaveInteraction(context.Background(), &core.InteractionRecord{
		UserID: "u1", ItemID: "sold-out", Type: core.InteractionView, Timestamp: time.Now(),
	})

	r := &FilterAlreadyPurchased{Provider: p}
	rctx := &core.RecommendContext{UserID: "u1"}
	got, err := r.Apply(context.Background(), rctx, items("in-stock", "sold-out"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// 只挡购买，浏览过的可以继续推
	if len(got) != 1 || got[0].ID != "sold-out" {
		t.Errorf("got %v, want [sold-out]", got)
	}
}

func TestFilterGeoRestricted(t *testing.T) {
	p := catalogProvider()
	r := &FilterGeoRestricted{Provider: p}

	br := &core.RecommendContext{Params: map[string]any{"country": "BR"}}
	got, _ := r.Apply(context.Background(), br, items("in-stock", "br-only"))
	if len(got) != 2 {
		t.Errorf("BR: got %d items, want 2", len(got))
	}

	us := &core.RecommendContext{Params: map[string]any{"country": "US"}}
	got, _ = r.Apply(context.Background(), us, items("in-stock", "br-only"))
	if len(got) != 1 || got[0].ID != "in-stock" {
		t.Errorf("US: got %v, want [in-stock]", got)
	}

	// 国家未知时不过滤
	anon := &core.RecommendContext{}
	got, _ = r.Apply(context.Background(), anon, items("br-only"))
	if len(got) != 1 {
		t.Errorf("unknown country: got %d items, want 1", len(got))
	}
}

func TestBoostPreferences(t *testing.T) {
	p := catalogProvider()
	r := &BoostPreferences{Provider: p, CategoryFactor: 2, TagFactor: 1.5}

	rctx := &core.RecommendContext{User: &core.UserProfile{
		ID:          "u1",
		Preferences: map[string]any{"favorite_categories": []any{"sports"}},
	}}
	got, err := r.Apply(context.Background(), rctx, items("in-stock", "adult-only"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	var sports, other *core.Item
	for _, it := range got {
		switch it.ID {
		case "in-stock":
			sports = it
		case "adult-only":
			other = it
		}
	}
	if sports.Score != 2 {
		t.Errorf("preferred category score = %v, want 2", sports.Score)
	}
	if other.Score != 1 {
		t.Errorf("non-preferred score = %v, want 1", other.Score)
	}
	if _, ok := sports.Labels["boost"]; !ok {
		t.Error("boosted item should carry the boost label")
	}
}

func TestBoostPromotional(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p := provider.NewMemoryProvider()
	p.AddItem(&core.ItemProfile{ID: "live", Features: map[string]any{
		"is_promotional": true,
		"promo_end_date": now.Add(24 * time.Hour).Format(time.RFC3339),
	}})
	p.AddItem(&core.ItemProfile{ID: "expired", Features: map[string]any{
		"is_promotional": true,
		"promo_end_date": now.Add(-24 * time.Hour).Format(time.RFC3339),
	}})
	p.AddItem(&core.ItemProfile{ID: "plain"})

	r := &BoostPromotional{Provider: p, Factor: 1.5, Now: func() time.Time { return now }}
	got, err := r.Apply(context.Background(), &core.RecommendContext{}, items("live", "expired", "plain"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	scores := map[string]float64{}
	for _, it := range got {
		scores[it.ID] = it.Score
	}
	if scores["live"] != 1.5 {
		t.Errorf("live promo score = %v, want 1.5", scores["live"])
	}
	if scores["expired"] != 1 || scores["plain"] != 1 {
		t.Errorf("expired/plain must not be boosted: %v", scores)
	}
}

func TestBoostNewItems(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	p := provider.NewMemoryProvider()
	p.AddItem(&core.ItemProfile{ID: "fresh", CreatedAt: now.AddDate(0, 0, -2)})
	p.AddItem(&core.ItemProfile{ID: "stale", CreatedAt: now.AddDate(0, 0, -30)})

	r := &BoostNewItems{Provider: p, Days: 7, Factor: 1.3, Now: func() time.Time { return now }}
	got, err := r.Apply(context.Background(), &core.RecommendContext{}, items("fresh", "stale"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	scores := map[string]float64{}
	for _, it := range got {
		scores[it.ID] = it.Score
	}
	if scores["fresh"] != 1.3 {
		t.Errorf("fresh score = %v, want 1.3", scores["fresh"])
	}
	if scores["stale"] != 1 {
		t.Errorf("stale score = %v, want 1", scores["stale"])
	}
}

func TestDiversityRerank(t *testing.T) {
	p := provider.NewMemoryProvider()
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		p.AddItem(&core.ItemProfile{ID: id, Category: "sports"})
	}
	p.AddItem(&core.ItemProfile{ID: "k1", Category: "kitchen"})

	r := &DiversityRerank{Provider: p, MaxPerCategory: 2}
	in := items("s1", "s2", "s3", "s4", "k1")
	got, err := r.Apply(context.Background(), &core.RecommendContext{}, in)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("diversity must not drop items: got %d, want %d", len(got), len(in))
	}

	// 受限前缀内 sports 不超过 2 个，超额的顺延到队尾
	wantOrder := []string{"s1", "s2", "k1", "s3", "s4"}
	for i := range wantOrder {
		if got[i].ID != wantOrder[i] {
			ids := make([]string, len(got))
			for j, it := range got {
				ids[j] = it.ID
			}
			t.Fatalf("order = %v, want %v", ids, wantOrder)
		}
	}
}
