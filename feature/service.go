// Package feature 提供用户/物品/用户-物品对的特征计算与缓存。
//
// 特征由交互历史与画像即时计算，结果写入 KV 缓存（用户/物品 1 小时，
// 交互对 5 分钟）。配置了在线特征源（如 Feast）时优先读取，
// 失败回落到本地计算。
package feature

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/cezarfuhr/recommendation-engine/core"
)

const (
	userFeatureTTL = time.Hour
	itemFeatureTTL = time.Hour
	pairFeatureTTL = 5 * time.Minute
)

// UserFeatures 是一个用户的行为特征向量。
type UserFeatures struct {
	UserID             string         `json:"user_id"`
	TotalInteractions  int            `json:"total_interactions"`
	InteractionCounts  map[string]int `json:"interaction_counts"`
	AvgRating          float64        `json:"avg_rating"`
	FavoriteCategories []string       `json:"favorite_categories"`
	ActivityScore      float64        `json:"activity_score"`
	RecencyScore       float64        `json:"recency_score"`
	Preferences        map[string]any `json:"preferences,omitempty"`
	ComputedAt         time.Time      `json:"computed_at"`
}

// ItemFeatures 是一个物品的行为特征向量。
type ItemFeatures struct {
	ItemID            string         `json:"item_id"`
	TotalInteractions int            `json:"total_interactions"`
	InteractionCounts map[string]int `json:"interaction_counts"`
	AvgRating         float64        `json:"avg_rating"`
	PopularityScore   float64        `json:"popularity_score"`
	AgeDays           float64        `json:"age_days"`
	Category          string         `json:"category"`
	ComputedAt        time.Time      `json:"computed_at"`
}

// PairFeatures 是用户-物品对的交叉特征。
type PairFeatures struct {
	UserID        string    `json:"user_id"`
	ItemID        string    `json:"item_id"`
	HasInteracted bool      `json:"has_interacted"`
	CategoryMatch bool      `json:"category_match"`
	ComputedAt    time.Time `json:"computed_at"`
}

// Provider 是在线特征源的抽象（feast 等）。
type Provider interface {
	UserFeatures(ctx context.Context, userID string) (*UserFeatures, error)
	ItemFeatures(ctx context.Context, itemID string) (*ItemFeatures, error)
}

// Service 计算并缓存特征。
type Service struct {
	provider core.DataProvider
	store    core.Store
	online   Provider // 可选，在线特征源
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(provider core.DataProvider, store core.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{provider: provider, store: store, logger: logger, now: time.Now}
}

// WithOnlineProvider 挂载在线特征源，命中失败时回落本地计算。
func (s *Service) WithOnlineProvider(p Provider) *Service {
	s.online = p
	return s
}

// UserFeatures 返回用户特征，优先级：在线源 > 缓存 > 本地计算。
func (s *Service) UserFeatures(ctx context.Context, userID string) (*UserFeatures, error) {
	if s.online != nil {
		if uf, err := s.online.UserFeatures(ctx, userID); err == nil {
			return uf, nil
		} else {
			s.logger.Warn("online user features failed, falling back",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	var cached UserFeatures
	if s.cacheGet(ctx, userFeatureKey(userID), &cached) {
		return &cached, nil
	}

	uf, err := s.computeUserFeatures(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, userFeatureKey(userID), uf, userFeatureTTL)
	return uf, nil
}

// ItemFeatures 返回物品特征。
func (s *Service) ItemFeatures(ctx context.Context, itemID string) (*ItemFeatures, error) {
	if s.online != nil {
		if f, err := s.online.ItemFeatures(ctx, itemID); err == nil {
			return f, nil
		} else {
			s.logger.Warn("online item features failed, falling back",
				zap.String("item_id", itemID), zap.Error(err))
		}
	}

	var cached ItemFeatures
	if s.cacheGet(ctx, itemFeatureKey(itemID), &cached) {
		return &cached, nil
	}

	f, err := s.computeItemFeatures(ctx, itemID)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, itemFeatureKey(itemID), f, itemFeatureTTL)
	return f, nil
}

// PairFeatures 返回用户-物品对特征。
func (s *Service) PairFeatures(ctx context.Context, userID, itemID string) (*PairFeatures, error) {
	var cached PairFeatures
	if s.cacheGet(ctx, pairFeatureKey(userID, itemID), &cached) {
		return &cached, nil
	}

	records, err := s.provider.InteractionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	item, err := s.provider.ItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	pf := &PairFeatures{UserID: userID, ItemID: itemID, ComputedAt: s.now()}
	interactedCategories := make(map[string]bool)
	for _, rec := range records {
		if rec.ItemID == itemID {
			pf.HasInteracted = true
		}
		if other, err := s.provider.ItemByID(ctx, rec.ItemID); err == nil {
			interactedCategories[other.Category] = true
		}
	}
	pf.CategoryMatch = item.Category != "" && interactedCategories[item.Category]

	s.cachePut(ctx, pairFeatureKey(userID, itemID), pf, pairFeatureTTL)
	return pf, nil
}

// InvalidateUser 清除用户特征缓存（新交互落库后调用）。
func (s *Service) InvalidateUser(ctx context.Context, userID string) error {
	err := s.store.Delete(ctx, userFeatureKey(userID))
	if core.IsStoreNotFound(err) {
		return nil
	}
	return err
}

// InvalidateItem 清除物品特征缓存。
func (s *Service) InvalidateItem(ctx context.Context, itemID string) error {
	err := s.store.Delete(ctx, itemFeatureKey(itemID))
	if core.IsStoreNotFound(err) {
		return nil
	}
	return err
}

func (s *Service) computeUserFeatures(ctx context.Context, userID string) (*UserFeatures, error) {
	records, err := s.provider.InteractionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	uf := &UserFeatures{
		UserID:            userID,
		TotalInteractions: len(records),
		InteractionCounts: make(map[string]int),
		ComputedAt:        now,
	}

	var ratingSum float64
	var ratingCount int
	var recent30d int
	var lastInteraction time.Time
	categoryCounts := make(map[string]int)

	for _, rec := range records {
		uf.InteractionCounts[rec.Type]++
		if rec.Rating > 0 {
			ratingSum += rec.Rating
			ratingCount++
		}
		if now.Sub(rec.Timestamp) <= 30*24*time.Hour {
			recent30d++
		}
		if rec.Timestamp.After(lastInteraction) {
			lastInteraction = rec.Timestamp
		}
		if item, err := s.provider.ItemByID(ctx, rec.ItemID); err == nil && item.Category != "" {
			categoryCounts[item.Category]++
		}
	}

	if ratingCount > 0 {
		uf.AvgRating = ratingSum / float64(ratingCount)
	}
	uf.FavoriteCategories = topCategories(categoryCounts, 3)

	// 活跃度 = 总量贡献 0.4 + 近 30 天贡献 0.6，各自封顶
	uf.ActivityScore = math.Min(float64(len(records))/100, 1)*0.4 +
		math.Min(float64(recent30d)/30, 1)*0.6

	// 新近度随末次交互时间指数衰减（半衰约 21 天）
	if !lastInteraction.IsZero() {
		days := now.Sub(lastInteraction).Hours() / 24
		uf.RecencyScore = math.Exp(-days / 30)
	}

	if user, err := s.provider.UserByID(ctx, userID); err == nil {
		uf.Preferences = user.Preferences
	}
	return uf, nil
}

func (s *Service) computeItemFeatures(ctx context.Context, itemID string) (*ItemFeatures, error) {
	item, err := s.provider.ItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	records, err := s.provider.Interactions(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	f := &ItemFeatures{
		ItemID:            itemID,
		InteractionCounts: make(map[string]int),
		PopularityScore:   item.PopularityScore,
		Category:          item.Category,
		ComputedAt:        now,
	}
	if !item.CreatedAt.IsZero() {
		f.AgeDays = now.Sub(item.CreatedAt).Hours() / 24
	}

	var ratingSum float64
	var ratingCount int
	for _, rec := range records {
		if rec.ItemID != itemID {
			continue
		}
		f.TotalInteractions++
		f.InteractionCounts[rec.Type]++
		if rec.Rating > 0 {
			ratingSum += rec.Rating
			ratingCount++
		}
	}
	if ratingCount > 0 {
		f.AvgRating = ratingSum / float64(ratingCount)
	}
	return f, nil
}

func (s *Service) cacheGet(ctx context.Context, key string, out any) bool {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (s *Service) cachePut(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, key, data, int(ttl/time.Second)); err != nil {
		s.logger.Warn("feature cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// topCategories 按计数降序取前 n 个类目，计数相同时按名称升序保证稳定。
func topCategories(counts map[string]int, n int) []string {
	type kv struct {
		name  string
		count int
	}
	pairs := make([]kv, 0, len(counts))
	for name, count := range counts {
		pairs = append(pairs, kv{name, count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].name < pairs[j].name
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.name
	}
	return out
}

func userFeatureKey(userID string) string { return "features:user:" + userID }
func itemFeatureKey(itemID string) string { return "features:item:" + itemID }
func pairFeatureKey(userID, itemID string) string {
	return "features:pair:" + userID + ":" + itemID
}
