// Package realtime 提供推荐结果缓存与实时行为追踪。
//
// 缓存是 read-through：引擎先查缓存，未命中再计算并回填；
// 用户产生新行为时按用户失效，下一次请求重新计算。
package realtime

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// DefaultCacheTTL 是推荐缓存的默认存活时间。
const DefaultCacheTTL = time.Hour

// RecommendationCache 按 (用户, 算法) 缓存推荐列表。
//
// 每个用户额外维护一个索引 hash（记录该用户名下所有缓存键），
// 失效时遍历索引逐个删除，避免对整个键空间做模式扫描。
type RecommendationCache struct {
	store  core.KeyValueStore
	ttl    time.Duration
	logger *zap.Logger
}

func NewRecommendationCache(store core.KeyValueStore, ttl time.Duration, logger *zap.Logger) *RecommendationCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecommendationCache{store: store, ttl: ttl, logger: logger}
}

// Get 返回缓存的推荐列表。未命中不是错误：返回 (nil, false, nil)。
func (c *RecommendationCache) Get(ctx context.Context, userID, algorithm string) ([]*core.Item, bool, error) {
	data, err := c.store.Get(ctx, cacheKey(userID, algorithm))
	if core.IsStoreNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var items []*core.Item
	if err := json.Unmarshal(data, &items); err != nil {
		// 缓存内容损坏按未命中处理，同时清掉坏数据
		c.logger.Warn("corrupt cache entry dropped",
			zap.String("user_id", userID), zap.String("algorithm", algorithm), zap.Error(err))
		_ = c.store.Delete(ctx, cacheKey(userID, algorithm))
		return nil, false, nil
	}
	return items, true, nil
}

// Put 写入缓存并登记到用户索引。
func (c *RecommendationCache) Put(ctx context.Context, userID, algorithm string, items []*core.Item) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	key := cacheKey(userID, algorithm)
	ttlSeconds := int(c.ttl / time.Second)
	if err := c.store.Set(ctx, key, data, ttlSeconds); err != nil {
		return err
	}
	if err := c.store.HSet(ctx, indexKey(userID), algorithm, []byte(key)); err != nil {
		return err
	}
	// 索引比条目多活一个 TTL 周期，宁可多删一次也不漏删
	return c.store.Expire(ctx, indexKey(userID), 2*ttlSeconds)
}

// InvalidateUser 删除该用户名下所有算法的缓存。
func (c *RecommendationCache) InvalidateUser(ctx context.Context, userID string) error {
	entries, err := c.store.HGetAll(ctx, indexKey(userID))
	if core.IsStoreNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	fields := make([]string, 0, len(entries))
	for algorithm, key := range entries {
		if err := c.store.Delete(ctx, string(key)); err != nil && !core.IsStoreNotFound(err) {
			return err
		}
		fields = append(fields, algorithm)
	}
	if len(fields) == 0 {
		return nil
	}
	return c.store.HDel(ctx, indexKey(userID), fields...)
}

func cacheKey(userID, algorithm string) string {
	return "recs:user:" + userID + ":" + algorithm
}

func indexKey(userID string) string {
	return "recs:index:" + userID
}
