package engine

import (
	"context"
	"testing"
	"time"

	"github.com/cezarfuhr/recommendation-engine/abtest"
	"github.com/cezarfuhr/recommendation-engine/core"
	"github.com/cezarfuhr/recommendation-engine/hybrid"
	"github.com/cezarfuhr/recommendation-engine/provider"
	"github.com/cezarfuhr/recommendation-engine/realtime"
	"github.com/cezarfuhr/recommendation-engine/recall"
	"github.com/cezarfuhr/recommendation-engine/rule"
	"github.com/cezarfuhr/recommendation-engine/store"
)

// newEngine 组装一条完整的内存链路：u1 买过一双红跑鞋，
// 目录里另有一双蓝跑鞋（相似）和一台料理机（热门但不相似）。
func newEngine(t *testing.T) (*Engine, *provider.MemoryProvider, *store.MemoryStore) {
	t.Helper()
	p := provider.NewMemoryProvider()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	p.AddUser(&core.UserProfile{ID: "u1"})
	p.AddItem(&core.ItemProfile{
		ID: "shoes-red", Title: "red running shoes",
		Description: "lightweight running shoes for daily training",
		Category:    "sports", Tags: []string{"running"}, PopularityScore: 5,
	})
	p.AddItem(&core.ItemProfile{
		ID: "shoes-blue", Title: "blue running shoes",
		Description: "lightweight running shoes with extra cushioning",
		Category:    "sports", Tags: []string{"running"}, PopularityScore: 3,
	})
	p.AddItem(&core.ItemProfile{
		ID: "blender", Title: "kitchen blender",
		Description: "powerful kitchen blender for smoothies",
		Category:    "kitchen", PopularityScore: 9,
	})
	p.SaveInteraction(context.Background(), &core.InteractionRecord{
		UserID: "u1", ItemID: "shoes-red", Type: core.InteractionPurchase, Timestamp: time.Now(),
	})

	collab := &recall.CollaborativeEngine{Provider: p}
	content := &recall.ContentEngine{Provider: p}
	e := &Engine{
		Provider:      p,
		Collaborative: collab,
		Content:       content,
		Combiner:      &hybrid.Combiner{Collaborative: collab, Content: content},
		Rules:         rule.NewEngine(nil),
		Cache:         realtime.NewRecommendationCache(s, time.Hour, nil),
		Experiments:   abtest.NewService(s, nil),
	}
	return e, p, s
}

func TestEngine_GetRecommendations(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	items, err := e.GetRecommendations(ctx, &Request{
		UserID:            "u1",
		Algorithm:         AlgorithmContentBased,
		ExcludeInteracted: true,
	})
	if err != nil {
		t.Fatalf("GetRecommendations: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected recommendations")
	}
	if items[0].ID != "shoes-blue" {
		t.Errorf("top item = %s, want shoes-blue", items[0].ID)
	}
	for i, item := range items {
		if item.ID == "shoes-red" {
			t.Error("interacted item leaked into results")
		}
		if item.Rank != i+1 {
			t.Errorf("item %s rank = %d, want %d", item.ID, item.Rank, i+1)
		}
	}
}

func TestEngine_DefaultsToHybrid(t *testing.T) {
	e, _, _ := newEngine(t)

	items, err := e.GetRecommendations(context.Background(), &Request{UserID: "u1"})
	if err != nil {
		t.Fatalf("GetRecommendations: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("hybrid path returned nothing")
	}
}

func TestEngine_UnknownUser(t *testing.T) {
	e, _, _ := newEngine(t)

	_, err := e.GetRecommendations(context.Background(), &Request{UserID: "ghost"})
	if !core.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestEngine_UnknownAlgorithm(t *testing.T) {
	e, _, _ := newEngine(t)

	_, err := e.GetRecommendations(context.Background(), &Request{UserID: "u1", Algorithm: "quantum"})
	if !core.IsInvalidConfig(err) {
		t.Errorf("err = %v, want invalid config", err)
	}
}

func TestEngine_CacheRoundTrip(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	req := &Request{UserID: "u1", Algorithm: AlgorithmContentBased, UseCache: true}

	first, err := e.GetRecommendations(ctx, req)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	cached, hit, err := e.Cache.Get(ctx, "u1", AlgorithmContentBased)
	if err != nil || !hit {
		t.Fatalf("cache after first call: hit=%v err=%v", hit, err)
	}
	if len(cached) != len(first) {
		t.Errorf("cached %d items, computed %d", len(cached), len(first))
	}

	second, err := e.GetRecommendations(ctx, req)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(second) != len(first) || second[0].ID != first[0].ID {
		t.Errorf("cache hit disagreed with first result: %v vs %v", second, first)
	}
}

func TestEngine_ExperimentOverridesAlgorithm(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	// ratio=1：所有人进 A 组，强制走内容算法
	_, err := e.Experiments.CreateTest(ctx, abtest.CreateParams{
		Name:              "algo-rollout",
		VariantAAlgorithm: AlgorithmContentBased,
		VariantBAlgorithm: AlgorithmCollaborative,
		SplitRatio:        1.0,
	})
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}

	_, err = e.GetRecommendations(ctx, &Request{
		UserID:         "u1",
		Algorithm:      AlgorithmCollaborative,
		ExperimentName: "algo-rollout",
		UseCache:       true,
	})
	if err != nil {
		t.Fatalf("GetRecommendations: %v", err)
	}
	// 缓存键以实验分组后的算法落盘
	if _, hit, _ := e.Cache.Get(ctx, "u1", AlgorithmContentBased); !hit {
		t.Error("expected results cached under the experiment's algorithm")
	}
}

func TestEngine_RecordInteractionValidation(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		rec  *core.InteractionRecord
	}{
		{"missing user", &core.InteractionRecord{ItemID: "shoes-red", Type: core.InteractionView}},
		{"missing item", &core.InteractionRecord{UserID: "u1", Type: core.InteractionView}},
		{"rating too high", &core.InteractionRecord{UserID: "u1", ItemID: "shoes-red", Type: core.InteractionRating, Rating: 6}},
		{"negative weight", &core.InteractionRecord{UserID: "u1", ItemID: "shoes-red", Type: core.InteractionView, Weight: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := e.RecordInteraction(ctx, tc.rec); !core.IsInvalidConfig(err) {
				t.Errorf("err = %v, want invalid config", err)
			}
		})
	}
}

func TestEngine_RecordInteractionInvalidatesCache(t *testing.T) {
	e, p, _ := newEngine(t)
	ctx := context.Background()

	if _, err := e.GetRecommendations(ctx, &Request{
		UserID: "u1", Algorithm: AlgorithmContentBased, UseCache: true,
	}); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if _, hit, _ := e.Cache.Get(ctx, "u1", AlgorithmContentBased); !hit {
		t.Fatal("cache should be primed")
	}

	err := e.RecordInteraction(ctx, &core.InteractionRecord{
		UserID: "u1", ItemID: "blender", Type: core.InteractionClick,
	})
	if err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}

	if _, hit, _ := e.Cache.Get(ctx, "u1", AlgorithmContentBased); hit {
		t.Error("cache should be invalidated after new interaction")
	}
	recs, err := p.InteractionsByUser(ctx, "u1")
	if err != nil || len(recs) != 2 {
		t.Errorf("interactions = %d, want 2 (err %v)", len(recs), err)
	}
}

func TestEngine_SimilarItems(t *testing.T) {
	e, _, _ := newEngine(t)

	items, err := e.SimilarItems(context.Background(), "shoes-red", 0)
	if err != nil {
		t.Fatalf("SimilarItems: %v", err)
	}
	if len(items) == 0 || items[0].ID != "shoes-blue" {
		t.Errorf("similar items = %v, want shoes-blue first", items)
	}
}

func TestEngine_ExplainUnknownUser(t *testing.T) {
	e, _, _ := newEngine(t)

	if _, err := e.Explain(context.Background(), "ghost", "shoes-red"); !core.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}
