// Package batch 实现离线批量任务：全量用户推荐再生成与物品热度重算。
// 语义与在线链路一致（同一个融合器、同一套规则），只是批量执行并落库。
package batch

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cezarfuhr/recommendation-engine/core"
	"github.com/cezarfuhr/recommendation-engine/engine"
	"github.com/cezarfuhr/recommendation-engine/hybrid"
)

// 行为类型的热度权重（与实时链路同一套基准）。
var interactionWeights = map[string]float64{
	core.InteractionView:      1,
	core.InteractionClick:     2,
	core.InteractionAddToCart: 3,
	core.InteractionPurchase:  5,
	core.InteractionRating:    2,
}

// 热度的时间衰减周期：30 天前的行为贡献约 1/e。
const popularityDecayDays = 30

// Job 是离线再生成任务。
type Job struct {
	Engine *engine.Engine

	// TopN 每用户落库条数，<=0 取 20
	TopN int

	// Concurrency 并发 worker 数，<=0 取 8
	Concurrency int

	Logger *zap.Logger
	now    func() time.Time
}

func (j *Job) logger() *zap.Logger {
	if j.Logger == nil {
		return zap.NewNop()
	}
	return j.Logger
}

func (j *Job) clock() time.Time {
	if j.now != nil {
		return j.now()
	}
	return time.Now()
}

// Run 为全量用户重新生成 hybrid 推荐并落库，最后重建召回快照。
// 单个用户失败只记日志跳过，不中断整批；全部完成后统一换新快照，
// 重建期间在线请求继续使用旧快照。
func (j *Job) Run(ctx context.Context) error {
	topN := j.TopN
	if topN <= 0 {
		topN = 20
	}
	concurrency := j.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	users, err := j.Engine.Provider.Users(ctx)
	if err != nil {
		return err
	}

	start := j.clock()
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			if err := j.regenerateUser(gctx, userID, topN); err != nil {
				failed.Add(1)
				j.logger().Warn("user regeneration failed",
					zap.String("user_id", userID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	j.logger().Info("batch regeneration finished",
		zap.Int("users", len(users)),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", j.clock().Sub(start)))

	return j.Engine.Rebuild(ctx)
}

func (j *Job) regenerateUser(ctx context.Context, userID string, topN int) error {
	user, err := j.Engine.Provider.UserByID(ctx, userID)
	if err != nil {
		return err
	}

	items, err := j.Engine.Combiner.Recommend(ctx, userID, topN, hybrid.StrategyWeighted, true)
	if err != nil {
		return err
	}
	if j.Engine.Rules != nil {
		rctx := &core.RecommendContext{UserID: userID, User: user}
		items = j.Engine.Rules.Apply(ctx, rctx, items)
	}
	if len(items) > topN {
		items = items[:topN]
	}

	now := j.clock()
	recs := make([]*core.Recommendation, len(items))
	for i, item := range items {
		recs[i] = &core.Recommendation{
			UserID:    userID,
			ItemID:    item.ID,
			Score:     item.Score,
			Algorithm: engine.AlgorithmHybrid,
			Rank:      i + 1,
			CreatedAt: now,
		}
	}
	return j.Engine.Provider.SaveRecommendations(ctx, userID, recs)
}

// UpdatePopularity 重算所有物品的热度分并写回：
// 分数 = Σ 类型权重 × exp(-行为年龄天数/30)。
func (j *Job) UpdatePopularity(ctx context.Context) error {
	records, err := j.Engine.Provider.Interactions(ctx)
	if err != nil {
		return err
	}

	now := j.clock()
	scores := make(map[string]float64)
	for _, rec := range records {
		weight, ok := interactionWeights[rec.Type]
		if !ok {
			weight = 1
		}
		ageDays := now.Sub(rec.Timestamp).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		scores[rec.ItemID] += weight * math.Exp(-ageDays/popularityDecayDays)
	}

	var failed int
	for itemID, score := range scores {
		if err := j.Engine.Provider.UpdateItemPopularity(ctx, itemID, score); err != nil {
			failed++
			j.logger().Warn("popularity write failed",
				zap.String("item_id", itemID), zap.Error(err))
		}
	}
	j.logger().Info("popularity recomputed",
		zap.Int("items", len(scores)), zap.Int("failed", failed))
	return nil
}
