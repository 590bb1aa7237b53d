package rule

import (
	"context"
	"time"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// 默认规则集优先级（高者先执行）：
// 过滤 100/95/90/85 > 偏好加权 60 > 促销 50 > 新品 40 > 多样性 20。
const (
	PriorityOutOfStock       = 100
	PriorityAgeRestricted    = 95
	PriorityAlreadyPurchased = 90
	PriorityGeoRestricted    = 85
	PriorityPreferences      = 60
	PriorityPromotional      = 50
	PriorityNewItems         = 40
	PriorityDiversity        = 20
)

// DefaultRules 返回默认规则集（已按构造序插入，Engine 负责排序）。
func DefaultRules(provider core.DataProvider) []Rule {
	return []Rule{
		&FilterOutOfStock{Provider: provider},
		&FilterAgeRestricted{Provider: provider},
		&FilterAlreadyPurchased{Provider: provider},
		&FilterGeoRestricted{Provider: provider},
		&BoostPreferences{Provider: provider, CategoryFactor: 1.4, TagFactor: 1.2},
		&BoostPromotional{Provider: provider, Factor: 1.5},
		&BoostNewItems{Provider: provider, Days: 7, Factor: 1.3},
		&DiversityRerank{Provider: provider, MaxPerCategory: 3},
	}
}

// FilterOutOfStock 剔除缺货物品（features.in_stock == false）。
type FilterOutOfStock struct {
	Provider core.DataProvider
}

func (r *FilterOutOfStock) Name() string  { return "filter_out_of_stock" }
func (r *FilterOutOfStock) Kind() Kind    { return KindFilter }
func (r *FilterOutOfStock) Priority() int { return PriorityOutOfStock }

func (r *FilterOutOfStock) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		profile, err := r.Provider.ItemByID(ctx, it.ID)
		if err != nil {
			continue // 未知物品直接剔除
		}
		if profile.FeatureBool("in_stock", true) {
			out = append(out, it)
		}
	}
	return out, nil
}

// FilterAgeRestricted 剔除对未成年用户受限的物品（features.min_age）。
// 用户年龄未知时全部放行。
type FilterAgeRestricted struct {
	Provider core.DataProvider
}

func (r *FilterAgeRestricted) Name() string  { return "filter_age_restricted" }
func (r *FilterAgeRestricted) Kind() Kind    { return KindFilter }
func (r *FilterAgeRestricted) Priority() int { return PriorityAgeRestricted }

func (r *FilterAgeRestricted) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	if rctx == nil || rctx.User == nil || rctx.User.Age <= 0 {
		return items, nil
	}
	age := float64(rctx.User.Age)

	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		profile, err := r.Provider.ItemByID(ctx, it.ID)
		if err != nil {
			continue
		}
		if age >= profile.FeatureFloat("min_age", 0) {
			out = append(out, it)
		}
	}
	return out, nil
}

// FilterAlreadyPurchased 剔除用户已购买过的物品。
type FilterAlreadyPurchased struct {
	Provider core.DataProvider
}

func (r *FilterAlreadyPurchased) Name() string  { return "filter_purchased" }
func (r *FilterAlreadyPurchased) Kind() Kind    { return KindFilter }
func (r *FilterAlreadyPurchased) Priority() int { return PriorityAlreadyPurchased }

func (r *FilterAlreadyPurchased) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	if rctx == nil || rctx.UserID == "" {
		return items, nil
	}

	interactions, err := r.Provider.InteractionsByUser(ctx, rctx.UserID)
	if err != nil {
		return nil, err
	}
	purchased := make(map[string]bool)
	for _, rec := range interactions {
		if rec.Type == core.InteractionPurchase {
			purchased[rec.ItemID] = true
		}
	}

	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if !purchased[it.ID] {
			out = append(out, it)
		}
	}
	return out, nil
}

// FilterGeoRestricted 剔除地域受限物品
// （features.allowed_countries / blocked_countries）。
type FilterGeoRestricted struct {
	Provider core.DataProvider
}

func (r *FilterGeoRestricted) Name() string  { return "filter_geo_restricted" }
func (r *FilterGeoRestricted) Kind() Kind    { return KindFilter }
func (r *FilterGeoRestricted) Priority() int { return PriorityGeoRestricted }

func (r *FilterGeoRestricted) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	country := rctx.Country()
	if country == "" {
		return items, nil
	}

	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		profile, err := r.Provider.ItemByID(ctx, it.ID)
		if err != nil {
			continue
		}
		allowed := profile.FeatureStrings("allowed_countries")
		if len(allowed) > 0 && !contains(allowed, country) {
			continue
		}
		if contains(profile.FeatureStrings("blocked_countries"), country) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// BoostPreferences 对命中用户显式偏好的物品调权：
// 类目命中乘 CategoryFactor，标签命中再乘 TagFactor。
type BoostPreferences struct {
	Provider       core.DataProvider
	CategoryFactor float64
	TagFactor      float64
}

func (r *BoostPreferences) Name() string  { return "boost_preferences" }
func (r *BoostPreferences) Kind() Kind    { return KindBoost }
func (r *BoostPreferences) Priority() int { return PriorityPreferences }

func (r *BoostPreferences) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	if rctx == nil || rctx.User == nil {
		return items, nil
	}
	favoriteCategories := rctx.User.FavoriteCategories()
	favoriteTags := rctx.User.FavoriteTags()
	if len(favoriteCategories) == 0 && len(favoriteTags) == 0 {
		return items, nil
	}

	for _, it := range items {
		profile, err := r.Provider.ItemByID(ctx, it.ID)
		if err != nil {
			continue
		}
		boost := 1.0
		if contains(favoriteCategories, profile.Category) {
			boost *= r.CategoryFactor
		}
		for _, tag := range favoriteTags {
			if profile.HasTag(tag) {
				boost *= r.TagFactor
				break
			}
		}
		if boost != 1.0 {
			it.Score *= boost
			it.PutLabel("boost", core.Label{Value: r.Name(), Source: "rule"})
		}
	}
	return items, nil
}

// BoostPromotional 对促销期内的物品调权
// （features.is_promotional，promo_end_date 过期则不加权）。
type BoostPromotional struct {
	Provider core.DataProvider
	Factor   float64

	// Now 便于测试注入时间，缺省为 time.Now
	Now func() time.Time
}

func (r *BoostPromotional) Name() string  { return "boost_promotional" }
func (r *BoostPromotional) Kind() Kind    { return KindBoost }
func (r *BoostPromotional) Priority() int { return PriorityPromotional }

func (r *BoostPromotional) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}

	for _, it := range items {
		profile, err := r.Provider.ItemByID(ctx, it.ID)
		if err != nil {
			continue
		}
		if !profile.FeatureBool("is_promotional", false) {
			continue
		}
		if endRaw, ok := profile.Features["promo_end_date"].(string); ok && endRaw != "" {
			end, err := time.Parse(time.RFC3339, endRaw)
			if err != nil || now.After(end) {
				continue
			}
		}
		it.Score *= r.Factor
		it.PutLabel("boost", core.Label{Value: r.Name(), Source: "rule"})
	}
	return items, nil
}

// BoostNewItems 对最近 Days 天内创建的物品调权。
type BoostNewItems struct {
	Provider core.DataProvider
	Days     int
	Factor   float64

	Now func() time.Time
}

func (r *BoostNewItems) Name() string  { return "boost_new_items" }
func (r *BoostNewItems) Kind() Kind    { return KindBoost }
func (r *BoostNewItems) Priority() int { return PriorityNewItems }

func (r *BoostNewItems) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	threshold := now.AddDate(0, 0, -r.Days)

	for _, it := range items {
		profile, err := r.Provider.ItemByID(ctx, it.ID)
		if err != nil {
			continue
		}
		if !profile.CreatedAt.Before(threshold) && !profile.CreatedAt.IsZero() {
			it.Score *= r.Factor
			it.PutLabel("boost", core.Label{Value: r.Name(), Source: "rule"})
		}
	}
	return items, nil
}

// DiversityRerank 限制保留前缀中每个类目的物品数；
// 超额物品追加到受限集合之后而不是丢弃，总数保持不变。
type DiversityRerank struct {
	Provider       core.DataProvider
	MaxPerCategory int
}

func (r *DiversityRerank) Name() string  { return "diversity" }
func (r *DiversityRerank) Kind() Kind    { return KindRerank }
func (r *DiversityRerank) Priority() int { return PriorityDiversity }

func (r *DiversityRerank) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	max := r.MaxPerCategory
	if max <= 0 {
		max = 3
	}

	categoryCounts := make(map[string]int)
	diversified := make([]*core.Item, 0, len(items))
	var overflow []*core.Item

	for _, it := range items {
		category := "uncategorized"
		if profile, err := r.Provider.ItemByID(ctx, it.ID); err == nil && profile.Category != "" {
			category = profile.Category
		}
		if categoryCounts[category] < max {
			categoryCounts[category]++
			diversified = append(diversified, it)
		} else {
			overflow = append(overflow, it)
		}
	}
	return append(diversified, overflow...), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
