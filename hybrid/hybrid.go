// Package hybrid 把两个相似度引擎的候选列表融合为一个。
//
// 三种融合策略：
//   - weighted：各列表独立 min-max 归一化后加权求和
//   - rank：用名次分（列表长度 − 位置）代替分数再加权，消除量纲差异
//   - cascade：协同列表优先，不足 topN 时用打折的内容候选补齐
package hybrid

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/cezarfuhr/recommendation-engine/core"
	"github.com/cezarfuhr/recommendation-engine/recall"
)

// Strategy 是融合策略名。
type Strategy string

const (
	StrategyWeighted Strategy = "weighted"
	StrategyRank     Strategy = "rank"
	StrategyCascade  Strategy = "cascade"
)

// Combiner 融合协同过滤与内容引擎的输出。
type Combiner struct {
	Collaborative recall.Engine
	Content       recall.Engine

	// Alpha 是协同信号的权重（1-Alpha 给内容信号），默认 0.6
	Alpha float64

	// CascadeDiscount 是 cascade 补位候选的打折系数（<1），默认 0.8
	CascadeDiscount float64
}

func (c *Combiner) alpha() float64 {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return 0.6
	}
	return c.Alpha
}

func (c *Combiner) discount() float64 {
	if c.CascadeDiscount <= 0 || c.CascadeDiscount >= 1 {
		return 0.8
	}
	return c.CascadeDiscount
}

// Recommend 按策略融合两个引擎的候选。
func (c *Combiner) Recommend(ctx context.Context, userID string, topN int, strategy Strategy, excludeInteracted bool) ([]*core.Item, error) {
	switch strategy {
	case StrategyRank:
		collab, content, err := c.fanout(ctx, userID, topN*3, excludeInteracted)
		if err != nil {
			return nil, err
		}
		return c.blend(rankScores(collab), rankScores(content), topN, string(StrategyRank)), nil
	case StrategyCascade:
		return c.cascade(ctx, userID, topN, excludeInteracted)
	default:
		collab, content, err := c.fanout(ctx, userID, topN*3, excludeInteracted)
		if err != nil {
			return nil, err
		}
		return c.blend(minMaxNormalize(collab), minMaxNormalize(content), topN, string(StrategyWeighted)), nil
	}
}

// fanout 并发查询两个引擎（与召回 fan-out 同一形态）。
func (c *Combiner) fanout(ctx context.Context, userID string, topN int, excludeInteracted bool) ([]*core.Item, []*core.Item, error) {
	var collab, content []*core.Item
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		collab, err = c.Collaborative.Recommend(egCtx, userID, topN, excludeInteracted)
		return err
	})
	eg.Go(func() error {
		var err error
		content, err = c.Content.Recommend(egCtx, userID, topN, excludeInteracted)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return collab, content, nil
}

// blend 对两组归一分做 α 加权合并：缺席一边按 0 计。
func (c *Combiner) blend(collab, content map[string]float64, topN int, strategy string) []*core.Item {
	alpha := c.alpha()
	union := make(map[string]float64, len(collab)+len(content))
	for id := range collab {
		union[id] = 0
	}
	for id := range content {
		union[id] = 0
	}
	for id := range union {
		union[id] = alpha*collab[id] + (1-alpha)*content[id]
	}

	out := sortedItems(union, topN)
	for _, it := range out {
		it.PutLabel("fusion", core.Label{Value: strategy, Source: "fusion"})
	}
	return out
}

func (c *Combiner) cascade(ctx context.Context, userID string, topN int, excludeInteracted bool) ([]*core.Item, error) {
	collab, err := c.Collaborative.Recommend(ctx, userID, topN, excludeInteracted)
	if err != nil {
		return nil, err
	}
	if len(collab) >= topN {
		return collab[:topN], nil
	}

	content, err := c.Content.Recommend(ctx, userID, topN*2, excludeInteracted)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(collab))
	for _, it := range collab {
		seen[it.ID] = true
	}
	discount := c.discount()
	for _, it := range content {
		if seen[it.ID] {
			continue
		}
		filled := core.NewItem(it.ID)
		filled.Score = it.Score * discount
		filled.PutLabel("fusion", core.Label{Value: "cascade.backfill", Source: "fusion"})
		collab = append(collab, filled)
		seen[it.ID] = true
		if len(collab) >= topN {
			break
		}
	}
	return collab, nil
}

// Explanation 是单个 (用户, 物品) 的加权融合分解，
// 与 weighted 策略对该物品的实际计算数值一致。
type Explanation struct {
	CollaborativeRaw          float64 `json:"collaborative_raw_score"`
	ContentRaw                float64 `json:"content_raw_score"`
	CollaborativeNormalized   float64 `json:"collaborative_normalized_score"`
	ContentNormalized         float64 `json:"content_normalized_score"`
	CollaborativeContribution float64 `json:"collaborative_contribution"`
	ContentContribution       float64 `json:"content_contribution"`
	FinalScore                float64 `json:"final_score"`
	Alpha                     float64 `json:"alpha"`
}

// Explain 重放 weighted 计算，输出每个引擎的原始分、归一分与加权贡献。
func (c *Combiner) Explain(ctx context.Context, userID, itemID string) (*Explanation, error) {
	collab, content, err := c.fanout(ctx, userID, 100, false)
	if err != nil {
		return nil, err
	}

	alpha := c.alpha()
	collabNorm := minMaxNormalize(collab)
	contentNorm := minMaxNormalize(content)

	exp := &Explanation{
		CollaborativeRaw:        rawScore(collab, itemID),
		ContentRaw:              rawScore(content, itemID),
		CollaborativeNormalized: collabNorm[itemID],
		ContentNormalized:       contentNorm[itemID],
		Alpha:                   alpha,
	}
	exp.CollaborativeContribution = alpha * exp.CollaborativeNormalized
	exp.ContentContribution = (1 - alpha) * exp.ContentNormalized
	exp.FinalScore = exp.CollaborativeContribution + exp.ContentContribution
	return exp, nil
}

func rawScore(list []*core.Item, itemID string) float64 {
	for _, it := range list {
		if it.ID == itemID {
			return it.Score
		}
	}
	return 0
}

// minMaxNormalize 把列表分数归一到 [0,1]：最好者恒为 1.0。
// 单元素列表归一为 1.0；全同分时全部取 1.0；空列表返回空 map。
func minMaxNormalize(list []*core.Item) map[string]float64 {
	if len(list) == 0 {
		return map[string]float64{}
	}

	min, max := list[0].Score, list[0].Score
	for _, it := range list[1:] {
		if it.Score < min {
			min = it.Score
		}
		if it.Score > max {
			max = it.Score
		}
	}

	out := make(map[string]float64, len(list))
	if max == min {
		for _, it := range list {
			out[it.ID] = 1.0
		}
		return out
	}
	for _, it := range list {
		out[it.ID] = (it.Score - min) / (max - min)
	}
	return out
}

// rankScores 把名次转为分数：列表长度 − 位置。
func rankScores(list []*core.Item) map[string]float64 {
	out := make(map[string]float64, len(list))
	for pos, it := range list {
		out[it.ID] = float64(len(list) - pos)
	}
	return out
}

func sortedItems(scores map[string]float64, topN int) []*core.Item {
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
		out = append(out, it)
	}
	return out
}
