// Package engine 是推荐链路的编排层：
// 实验分流 → 缓存查询 → 召回/融合 → 业务规则 → 排名 → 缓存回填。
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cezarfuhr/recommendation-engine/abtest"
	"github.com/cezarfuhr/recommendation-engine/core"
	"github.com/cezarfuhr/recommendation-engine/feature"
	"github.com/cezarfuhr/recommendation-engine/hybrid"
	"github.com/cezarfuhr/recommendation-engine/realtime"
	"github.com/cezarfuhr/recommendation-engine/recall"
	"github.com/cezarfuhr/recommendation-engine/rule"
)

// 算法名（请求与实验配置中使用）。
const (
	AlgorithmCollaborative = "collaborative"
	AlgorithmContentBased  = "content_based"
	AlgorithmHybrid        = "hybrid"
)

// Request 是一次推荐请求。
type Request struct {
	UserID string

	// TopN 期望条数，<=0 时取 10
	TopN int

	// Algorithm 为 collaborative / content_based / hybrid，空值取 hybrid
	Algorithm string

	// ExperimentName 非空时走实验分流，分组算法覆盖 Algorithm
	ExperimentName string

	// Strategy 仅 hybrid 生效（weighted / rank / cascade），空值 weighted
	Strategy string

	// ExcludeInteracted 排除已交互物品
	ExcludeInteracted bool

	// UseCache 是否查询/回填缓存
	UseCache bool

	// Scene / Params 透传给规则阶段
	Scene  string
	Params map[string]any
}

// Engine 编排推荐链路全流程。除 Provider 与两个召回引擎外，
// 其余协作方均可为 nil（对应环节跳过）。
type Engine struct {
	Provider      core.DataProvider
	Collaborative recall.Engine
	Content       *recall.ContentEngine
	Combiner      *hybrid.Combiner
	Rules         *rule.Engine
	Cache         *realtime.RecommendationCache
	Tracker       *realtime.Tracker
	Features      *feature.Service
	Experiments   *abtest.Service
	Logger        *zap.Logger
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// GetRecommendations 为用户生成推荐列表。
//
// 链路顺序：
//  1. 实验分流（配置了 ExperimentName 时，分组决定算法）
//  2. 缓存查询（UseCache 且命中时直接返回）
//  3. 召回/融合计算
//  4. 业务规则管道（过滤 → 加权 → 重排）
//  5. 1-based 排名并回填缓存
//
// 缓存/实验存储不可达时降级为现算现返（记日志，请求不失败）。
// 未知用户返回 NOT_FOUND；未知算法返回 INVALID_CONFIG。
func (e *Engine) GetRecommendations(ctx context.Context, req *Request) ([]*core.Item, error) {
	if req.TopN <= 0 {
		req.TopN = 10
	}

	user, err := e.Provider.UserByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	algorithm, err := e.resolveAlgorithm(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.UseCache && e.Cache != nil {
		items, hit, err := e.Cache.Get(ctx, req.UserID, algorithm)
		if err != nil {
			e.logger().Warn("cache lookup failed, computing fresh",
				zap.String("user_id", req.UserID), zap.Error(err))
		} else if hit {
			return limitTo(items, req.TopN), nil
		}
	}

	items, err := e.compute(ctx, req, algorithm)
	if err != nil {
		return nil, err
	}

	if e.Rules != nil {
		rctx := &core.RecommendContext{
			UserID: req.UserID,
			Scene:  req.Scene,
			User:   user,
			Params: req.Params,
		}
		items = e.Rules.Apply(ctx, rctx, items)
	}

	items = limitTo(items, req.TopN)
	for i, item := range items {
		item.Rank = i + 1
	}

	if req.UseCache && e.Cache != nil {
		if err := e.Cache.Put(ctx, req.UserID, algorithm, items); err != nil {
			e.logger().Warn("cache write failed",
				zap.String("user_id", req.UserID), zap.Error(err))
		}
	}
	return items, nil
}

func (e *Engine) resolveAlgorithm(ctx context.Context, req *Request) (string, error) {
	algorithm := req.Algorithm
	if req.ExperimentName != "" && e.Experiments != nil {
		assigned, err := e.Experiments.AlgorithmFor(ctx, req.ExperimentName, req.UserID)
		if err != nil {
			if core.IsUnavailable(err) {
				e.logger().Warn("experiment routing unavailable, using requested algorithm",
					zap.String("experiment", req.ExperimentName), zap.Error(err))
			} else {
				return "", err
			}
		} else if assigned != "" {
			algorithm = assigned
		}
	}
	if algorithm == "" {
		algorithm = AlgorithmHybrid
	}
	switch algorithm {
	case AlgorithmCollaborative, AlgorithmContentBased, AlgorithmHybrid:
		return algorithm, nil
	default:
		return "", core.NewDomainErrorf(core.ModuleEngine, core.ErrorCodeInvalidConfig,
			"engine: unknown algorithm %q", algorithm)
	}
}

func (e *Engine) compute(ctx context.Context, req *Request, algorithm string) ([]*core.Item, error) {
	switch algorithm {
	case AlgorithmCollaborative:
		return e.Collaborative.Recommend(ctx, req.UserID, req.TopN, req.ExcludeInteracted)
	case AlgorithmContentBased:
		return e.Content.Recommend(ctx, req.UserID, req.TopN, req.ExcludeInteracted)
	default:
		strategy := hybrid.Strategy(req.Strategy)
		if strategy == "" {
			strategy = hybrid.StrategyWeighted
		}
		return e.Combiner.Recommend(ctx, req.UserID, req.TopN, strategy, req.ExcludeInteracted)
	}
}

// RecordInteraction 记录一次用户行为并触发失效：
// 校验 → 持久化 → 热度/热点/特征/缓存维护。
// 持久化失败返回错误；后续维护失败只记日志，不阻塞写入。
func (e *Engine) RecordInteraction(ctx context.Context, rec *core.InteractionRecord) error {
	if rec.UserID == "" || rec.ItemID == "" {
		return core.NewDomainError(core.ModuleEngine, core.ErrorCodeInvalidConfig,
			"engine: user_id and item_id are required")
	}
	if rec.Rating < 0 || rec.Rating > 5 {
		return core.NewDomainErrorf(core.ModuleEngine, core.ErrorCodeInvalidConfig,
			"engine: rating %v outside [0,5]", rec.Rating)
	}
	if rec.Weight < 0 {
		return core.NewDomainErrorf(core.ModuleEngine, core.ErrorCodeInvalidConfig,
			"engine: weight %v must be non-negative", rec.Weight)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if err := e.Provider.SaveInteraction(ctx, rec); err != nil {
		return err
	}

	if e.Tracker != nil {
		if err := e.Tracker.TrackInteraction(ctx, rec); err != nil {
			e.logger().Warn("realtime tracking failed",
				zap.String("user_id", rec.UserID), zap.Error(err))
		}
	}
	if e.Features != nil {
		if err := e.Features.InvalidateUser(ctx, rec.UserID); err != nil {
			e.logger().Warn("user feature invalidation failed",
				zap.String("user_id", rec.UserID), zap.Error(err))
		}
		if err := e.Features.InvalidateItem(ctx, rec.ItemID); err != nil {
			e.logger().Warn("item feature invalidation failed",
				zap.String("item_id", rec.ItemID), zap.Error(err))
		}
	}
	if e.Tracker == nil && e.Cache != nil {
		// 没挂实时追踪时由编排层兜底失效缓存
		if err := e.Cache.InvalidateUser(ctx, rec.UserID); err != nil {
			e.logger().Warn("cache invalidation failed",
				zap.String("user_id", rec.UserID), zap.Error(err))
		}
	}
	return nil
}

// SimilarItems 返回与指定物品内容最相似的物品。
func (e *Engine) SimilarItems(ctx context.Context, itemID string, topN int) ([]*core.Item, error) {
	if topN <= 0 {
		topN = 10
	}
	return e.Content.SimilarItems(ctx, itemID, topN)
}

// Explain 解释一条 hybrid 推荐的分数构成。
func (e *Engine) Explain(ctx context.Context, userID, itemID string) (*hybrid.Explanation, error) {
	if _, err := e.Provider.UserByID(ctx, userID); err != nil {
		return nil, err
	}
	return e.Combiner.Explain(ctx, userID, itemID)
}

// Rebuild 立即重建两个召回引擎的快照（离线再生成后调用）。
func (e *Engine) Rebuild(ctx context.Context) error {
	if err := e.Collaborative.Rebuild(ctx); err != nil {
		return err
	}
	return e.Content.Rebuild(ctx)
}

func limitTo(items []*core.Item, n int) []*core.Item {
	if len(items) > n {
		return items[:n]
	}
	return items
}
