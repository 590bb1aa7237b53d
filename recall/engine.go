package recall

import (
	"context"
	"sort"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// Engine 是相似度引擎的统一契约。两个引擎（协同过滤 / 内容）各自独立，
// 对外只暴露同一个 Recommend 形态，由上层融合。
//
// 派生状态（相似度矩阵）为引擎内快照：首次使用时懒构建，
// 由外部周期性重训协作方显式失效/重建，请求路径不触发写。
type Engine interface {
	Name() string

	// Recommend 为用户生成候选列表（分数为算法内部尺度，未归一化）。
	// 用户在矩阵中无行时返回空列表（冷启动由调用方处理）。
	Recommend(ctx context.Context, userID string, topN int, excludeInteracted bool) ([]*core.Item, error)

	// Invalidate 丢弃当前快照，下次查询时懒重建。
	Invalidate()

	// Rebuild 立即构建新快照并原子替换；重建期间读方继续使用旧快照。
	Rebuild(ctx context.Context) error
}

// scoredList 把 itemID -> score 转为按分数降序的候选列表。
// 分数相同按 ID 升序，保证结果可复现。
func scoredList(scores map[string]float64, topN int, source string) []*core.Item {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})

	if topN > 0 && len(ids) > topN {
		ids = ids[:topN]
	}

	out := make([]*core.Item, 0, len(ids))
	for _, id := range ids {
		it := core.NewItem(id)
		it.Score = scores[id]
		it.PutLabel("recall_source", core.Label{Value: source, Source: "recall"})
		out = append(out, it)
	}
	return out
}
