package recall

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// ContentEngine 是基于内容的引擎。
//
// 算法流程：
//  1. 每个物品拼接文本表示（标题 + 描述 + 类目 + 标签）
//  2. TF-IDF 稀疏向量化，物品×物品余弦相似度，对角线置 0
//  3. 候选打分：对用户交互过的每个物品，累加 相似度×交互取值；
//     从未与历史发生相似关系的物品贡献为 0，自然排后
//  4. 无历史时退化为按 ItemProfile.PopularityScore 降序（冷启动路径，
//     是定义好的回退而不是错误）
//
// 相似度矩阵同样是懒构建 + 原子替换的引擎级快照。
type ContentEngine struct {
	Provider core.DataProvider

	snapshot atomic.Pointer[contentSnapshot]
	buildMu  sync.Mutex
}

type contentSnapshot struct {
	itemIDs   []string
	itemIndex map[string]int
	sim       [][]float64
	// popular 为按热度降序的物品 ID（冷启动回退用）
	popular []scoredID
}

type scoredID struct {
	id    string
	score float64
}

func (e *ContentEngine) Name() string { return "content_based" }

func (e *ContentEngine) Invalidate() {
	e.snapshot.Store(nil)
}

func (e *ContentEngine) Rebuild(ctx context.Context) error {
	snap, err := e.build(ctx)
	if err != nil {
		return err
	}
	e.snapshot.Store(snap)
	return nil
}

func (e *ContentEngine) load(ctx context.Context) (*contentSnapshot, error) {
	if snap := e.snapshot.Load(); snap != nil {
		return snap, nil
	}

	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	if snap := e.snapshot.Load(); snap != nil {
		return snap, nil
	}

	snap, err := e.build(ctx)
	if err != nil {
		return nil, err
	}
	e.snapshot.Store(snap)
	return snap, nil
}

func (e *ContentEngine) build(ctx context.Context) (*contentSnapshot, error) {
	items, err := e.Provider.Items(ctx)
	if err != nil {
		return nil, err
	}

	snap := &contentSnapshot{
		itemIDs:   make([]string, len(items)),
		itemIndex: make(map[string]int, len(items)),
		popular:   make([]scoredID, len(items)),
	}
	docs := make([]string, len(items))
	for i, item := range items {
		snap.itemIDs[i] = item.ID
		snap.itemIndex[item.ID] = i
		docs[i] = itemDocument(item)
		snap.popular[i] = scoredID{id: item.ID, score: item.PopularityScore}
	}
	sort.Slice(snap.popular, func(i, j int) bool {
		if snap.popular[i].score != snap.popular[j].score {
			return snap.popular[i].score > snap.popular[j].score
		}
		return snap.popular[i].id < snap.popular[j].id
	})

	vectors := buildTFIDF(docs)
	n := len(vectors)
	snap.sim = make([][]float64, n)
	for i := range snap.sim {
		snap.sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := cosineSparse(vectors[i], vectors[j])
			snap.sim[i][j] = s
			snap.sim[j][i] = s
		}
	}
	return snap, nil
}

// itemDocument 拼接物品的文本表示。
func itemDocument(item *core.ItemProfile) string {
	parts := []string{item.Title}
	if item.Description != "" {
		parts = append(parts, item.Description)
	}
	if item.Category != "" {
		parts = append(parts, item.Category)
	}
	if len(item.Tags) > 0 {
		parts = append(parts, strings.Join(item.Tags, " "))
	}
	return strings.Join(parts, " ")
}

func (e *ContentEngine) Recommend(ctx context.Context, userID string, topN int, excludeInteracted bool) ([]*core.Item, error) {
	snap, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	interactions, err := e.Provider.InteractionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(interactions) == 0 {
		return e.popularItems(snap, topN), nil
	}

	// 同一物品多次交互按最大取值聚合
	history := make(map[string]float64)
	for _, rec := range interactions {
		v := rec.Value()
		if v > history[rec.ItemID] {
			history[rec.ItemID] = v
		}
	}

	scores := make(map[string]float64)
	for itemID, weight := range history {
		itemIdx, ok := snap.itemIndex[itemID]
		if !ok {
			continue
		}
		for targetIdx, sim := range snap.sim[itemIdx] {
			if sim > 0 {
				scores[snap.itemIDs[targetIdx]] += sim * weight
			}
		}
	}

	if excludeInteracted {
		for itemID := range history {
			delete(scores, itemID)
		}
	}
	return scoredList(scores, topN, "content"), nil
}

// SimilarItems 暴露纯物品-物品相似度，不带任何用户上下文。
// 未知物品返回空列表。
func (e *ContentEngine) SimilarItems(ctx context.Context, itemID string, topN int) ([]*core.Item, error) {
	snap, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	itemIdx, ok := snap.itemIndex[itemID]
	if !ok {
		return nil, nil
	}

	scores := make(map[string]float64)
	for targetIdx, sim := range snap.sim[itemIdx] {
		if sim > 0 {
			scores[snap.itemIDs[targetIdx]] = sim
		}
	}
	return scoredList(scores, topN, "content.similar"), nil
}

func (e *ContentEngine) popularItems(snap *contentSnapshot, topN int) []*core.Item {
	n := len(snap.popular)
	if topN > 0 && n > topN {
		n = topN
	}
	out := make([]*core.Item, 0, n)
	for _, p := range snap.popular[:n] {
		it := core.NewItem(p.id)
		it.Score = p.score
		it.PutLabel("recall_source", core.Label{Value: "popularity", Source: "recall"})
		it.PutLabel("cold_start", core.Label{Value: "true", Source: "recall"})
		out = append(out, it)
	}
	return out
}

var _ Engine = (*ContentEngine)(nil)
