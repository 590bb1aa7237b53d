package realtime

import (
	"context"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cezarfuhr/recommendation-engine/core"
)

const (
	popularityKey = "item:popularity"
	trendingKey   = "item:trending"

	// 每用户最多保留的近期行为条数
	recentHistoryLimit = 1000
	// 用户近期行为的保鲜期
	recentHistoryTTL = 30 * 24 * time.Hour
	// 热点集合只保留最近一天的活动
	trendingRetention = 24 * time.Hour
)

// 行为类型到热度增量的映射，购买权重最高。
var activityWeights = map[string]float64{
	core.InteractionView:      1,
	core.InteractionClick:     2,
	core.InteractionAddToCart: 3,
	core.InteractionPurchase:  5,
	core.InteractionRating:    2,
}

// Tracker 记录用户实时行为并维护全局热度与热点集合。
type Tracker struct {
	store  core.KeyValueStore
	cache  *RecommendationCache
	logger *zap.Logger
	now    func() time.Time
}

func NewTracker(store core.KeyValueStore, cache *RecommendationCache, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, cache: cache, logger: logger, now: time.Now}
}

// TrackInteraction 记录一次行为：
//  1. 追加到用户近期行为集合（分数 = 时间戳），裁剪到最近 1000 条
//  2. 按行为类型累加商品全局热度
//  3. 登记到热点集合并清理过期条目
//  4. 失效该用户的推荐缓存
//
// 热度与热点的维护失败只记日志，行为记录本身不回滚。
func (t *Tracker) TrackInteraction(ctx context.Context, rec *core.InteractionRecord) error {
	now := t.now()
	historyKey := userHistoryKey(rec.UserID)

	if err := t.store.ZAdd(ctx, historyKey, float64(now.Unix()), interactionMember(rec, now)); err != nil {
		return err
	}
	if _, err := t.store.ZRemRangeByRank(ctx, historyKey, 0, int64(-recentHistoryLimit-1)); err != nil {
		t.logger.Warn("history trim failed", zap.String("user_id", rec.UserID), zap.Error(err))
	}
	if err := t.store.Expire(ctx, historyKey, int(recentHistoryTTL/time.Second)); err != nil {
		t.logger.Warn("history expire failed", zap.String("user_id", rec.UserID), zap.Error(err))
	}

	if err := t.bumpPopularity(ctx, rec.ItemID, rec.Type); err != nil {
		t.logger.Warn("popularity update failed", zap.String("item_id", rec.ItemID), zap.Error(err))
	}
	if err := t.recordTrendingActivity(ctx, rec.ItemID, now); err != nil {
		t.logger.Warn("trending update failed", zap.String("item_id", rec.ItemID), zap.Error(err))
	}

	if t.cache != nil {
		if err := t.cache.InvalidateUser(ctx, rec.UserID); err != nil {
			t.logger.Warn("cache invalidation failed", zap.String("user_id", rec.UserID), zap.Error(err))
		}
	}
	return nil
}

// Popularity 返回商品的全局热度分。
func (t *Tracker) Popularity(ctx context.Context, itemID string) (float64, error) {
	score, err := t.store.ZScore(ctx, popularityKey, itemID)
	if core.IsStoreNotFound(err) {
		return 0, nil
	}
	return score, err
}

// MostPopular 返回全局热度最高的前 limit 个商品 ID。
func (t *Tracker) MostPopular(ctx context.Context, limit int64) ([]string, error) {
	ids, err := t.store.ZRevRange(ctx, popularityKey, 0, limit-1)
	if core.IsStoreNotFound(err) {
		return nil, nil
	}
	return ids, err
}

// Trending 返回窗口期内有活动的商品 ID，按最近活动时间倒序。
// window <= 0 时使用完整保留期（24h）。
func (t *Tracker) Trending(ctx context.Context, limit int64, window time.Duration) ([]string, error) {
	if window <= 0 || window > trendingRetention {
		window = trendingRetention
	}
	now := t.now()
	cutoff := float64(now.Add(-window).Unix())
	ids, err := t.store.ZRevRangeByScore(ctx, trendingKey, cutoff, float64(now.Unix()), limit)
	if core.IsStoreNotFound(err) {
		return nil, nil
	}
	return ids, err
}

func (t *Tracker) bumpPopularity(ctx context.Context, itemID, interactionType string) error {
	weight, ok := activityWeights[interactionType]
	if !ok {
		weight = 1
	}
	_, err := t.store.ZIncrBy(ctx, popularityKey, weight, itemID)
	return err
}

func (t *Tracker) recordTrendingActivity(ctx context.Context, itemID string, now time.Time) error {
	if err := t.store.ZAdd(ctx, trendingKey, float64(now.Unix()), itemID); err != nil {
		return err
	}
	cutoff := float64(now.Add(-trendingRetention).Unix())
	_, err := t.store.ZRemRangeByScore(ctx, trendingKey, math.Inf(-1), cutoff)
	return err
}

func userHistoryKey(userID string) string {
	return "interactions:user:" + userID
}

func interactionMember(rec *core.InteractionRecord, now time.Time) string {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return rec.ItemID + ":" + rec.Type + ":" + strconv.FormatInt(ts.UnixNano(), 10)
}
