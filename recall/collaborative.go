package recall

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// Mode 决定协同过滤的打分方向。
type Mode string

const (
	// ModeUser 基于用户：兴趣相似的用户，喜欢相似的物品（u2i）
	ModeUser Mode = "user"
	// ModeItem 基于物品：被同一批用户喜欢的物品，相互相似（i2i）
	ModeItem Mode = "item"
	// ModeHybrid 引擎内混合：两个方向各跑一遍，按物品取均值
	ModeHybrid Mode = "hybrid"
)

// CollaborativeEngine 是协同过滤引擎。
//
// 算法流程：
//  1. 全量交互 → 稠密用户×物品取值矩阵（缺失 = 0）
//  2. 行/列两两余弦相似度，对角线置 0
//  3. user 模式：TopK 相似用户加权其非零取值，按贡献相似度之和归一
//     item 模式：用户交互过的每个物品，把相似度×取值分发给其他物品
//  4. hybrid 模式：两方向各取 topN*2，按物品合并取均值（单边出现不补零）
//
// 矩阵与相似度矩阵是引擎级派生快照：懒构建 + 原子替换，
// 重训协作方调用 Rebuild/Invalidate，请求路径只读。
type CollaborativeEngine struct {
	Provider core.DataProvider

	// KNeighbors 为 user 模式考虑的相似用户数，默认 20
	KNeighbors int

	// Mode 为打分方向，默认 ModeHybrid
	Mode Mode

	snapshot atomic.Pointer[cfSnapshot]
	buildMu  sync.Mutex
}

type cfSnapshot struct {
	matrix  *ratingMatrix
	userSim [][]float64
	itemSim [][]float64
}

func (e *CollaborativeEngine) Name() string { return "collaborative" }

func (e *CollaborativeEngine) Invalidate() {
	e.snapshot.Store(nil)
}

func (e *CollaborativeEngine) Rebuild(ctx context.Context) error {
	snap, err := e.build(ctx)
	if err != nil {
		return err
	}
	e.snapshot.Store(snap)
	return nil
}

// load 返回当前快照，必要时懒构建。并发首次访问由 buildMu 串行化，
// 读方始终拿到完整快照，不会观察到半成品矩阵。
func (e *CollaborativeEngine) load(ctx context.Context) (*cfSnapshot, error) {
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

func (e *CollaborativeEngine) build(ctx context.Context) (*cfSnapshot, error) {
	userIDs, err := e.Provider.Users(ctx)
	if err != nil {
		return nil, err
	}
	items, err := e.Provider.Items(ctx)
	if err != nil {
		return nil, err
	}
	interactions, err := e.Provider.Interactions(ctx)
	if err != nil {
		return nil, err
	}

	itemIDs := make([]string, len(items))
	for i, item := range items {
		itemIDs[i] = item.ID
	}

	matrix := buildRatingMatrix(userIDs, itemIDs, interactions)
	return &cfSnapshot{
		matrix:  matrix,
		userSim: pairwiseCosine(matrix.rows),
		itemSim: pairwiseCosine(matrix.columns()),
	}, nil
}

func (e *CollaborativeEngine) Recommend(ctx context.Context, userID string, topN int, excludeInteracted bool) ([]*core.Item, error) {
	mode := e.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	snap, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	userIdx, ok := snap.matrix.userIndex[userID]
	if !ok {
		return nil, nil // 冷启动交给调用方
	}

	switch mode {
	case ModeUser:
		scores := e.userBasedScores(snap, userIdx, excludeInteracted)
		return scoredList(scores, topN, "cf.user"), nil
	case ModeItem:
		scores := e.itemBasedScores(snap, userIdx, excludeInteracted)
		return scoredList(scores, topN, "cf.item"), nil
	default:
		userScores := e.userBasedScores(snap, userIdx, excludeInteracted)
		itemScores := e.itemBasedScores(snap, userIdx, excludeInteracted)
		merged := mergeAverage(
			scoredList(userScores, topN*2, "cf.user"),
			scoredList(itemScores, topN*2, "cf.item"),
		)
		return scoredList(merged, topN, "cf.hybrid"), nil
	}
}

// userBasedScores 以 TopK 相似用户的取值加权打分。
// score[item] = Σ(sim·rating) / Σ(sim)，只统计实际贡献的邻居；
// 没有任何邻居贡献的物品不出现在结果里（省略，而不是补零）。
func (e *CollaborativeEngine) userBasedScores(snap *cfSnapshot, userIdx int, excludeInteracted bool) map[string]float64 {
	k := e.KNeighbors
	if k <= 0 {
		k = 20
	}

	sims := snap.userSim[userIdx]
	neighbors := topKIndices(sims, k)

	scores := make(map[string]float64)
	simSums := make(map[string]float64)

	for _, nIdx := range neighbors {
		sim := sims[nIdx]
		if sim <= 0 {
			continue
		}
		for itemIdx, rating := range snap.matrix.rows[nIdx] {
			if rating <= 0 {
				continue
			}
			itemID := snap.matrix.itemIDs[itemIdx]
			scores[itemID] += sim * rating
			simSums[itemID] += sim
		}
	}

	for itemID := range scores {
		if simSums[itemID] > 0 {
			scores[itemID] /= simSums[itemID]
		}
	}

	if excludeInteracted {
		e.dropInteracted(snap, userIdx, scores)
	}
	return scores
}

// itemBasedScores 把用户交互过物品的相似度加权分发到其他物品。
func (e *CollaborativeEngine) itemBasedScores(snap *cfSnapshot, userIdx int, excludeInteracted bool) map[string]float64 {
	scores := make(map[string]float64)
	userRow := snap.matrix.rows[userIdx]

	for itemIdx, rating := range userRow {
		if rating <= 0 {
			continue
		}
		for targetIdx, sim := range snap.itemSim[itemIdx] {
			if sim <= 0 {
				continue
			}
			scores[snap.matrix.itemIDs[targetIdx]] += sim * rating
		}
	}

	if excludeInteracted {
		e.dropInteracted(snap, userIdx, scores)
	}
	return scores
}

func (e *CollaborativeEngine) dropInteracted(snap *cfSnapshot, userIdx int, scores map[string]float64) {
	for itemIdx, rating := range snap.matrix.rows[userIdx] {
		if rating > 0 {
			delete(scores, snap.matrix.itemIDs[itemIdx])
		}
	}
}

// mergeAverage 按物品合并两个候选列表并取均值；
// 只出现在一边的物品用单边分数，不做隐式补零。
func mergeAverage(lists ...[]*core.Item) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, list := range lists {
		for _, it := range list {
			sums[it.ID] += it.Score
			counts[it.ID]++
		}
	}
	for id := range sums {
		sums[id] /= float64(counts[id])
	}
	return sums
}

// topKIndices 返回相似度最高的 k 个下标（降序）。
func topKIndices(sims []float64, k int) []int {
	idx := make([]int, len(sims))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return sims[idx[a]] > sims[idx[b]] })
	if len(idx) > k {
		idx = idx[:k]
	}
	return idx
}

var _ Engine = (*CollaborativeEngine)(nil)
