package core

import "time"

// ItemProfile 是物品画像：文本/类目特征 + 开放 feature map + 热度累计。
// PopularityScore 由新交互实时累加，并由离线任务周期性重算。
type ItemProfile struct {
	ID              string
	Title           string
	Description     string
	Category        string
	Tags            []string
	Features        map[string]any // in_stock / min_age / is_promotional / allowed_countries ...
	PopularityScore float64
	CreatedAt       time.Time
}

// FeatureBool 读取布尔型 feature，缺失时返回 def。
func (p *ItemProfile) FeatureBool(key string, def bool) bool {
	if p.Features == nil {
		return def
	}
	if v, ok := p.Features[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// FeatureFloat 读取数值型 feature，缺失时返回 def。
func (p *ItemProfile) FeatureFloat(key string, def float64) float64 {
	if p.Features == nil {
		return def
	}
	switch v := p.Features[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// FeatureStrings 读取字符串列表型 feature（如 allowed_countries）。
func (p *ItemProfile) FeatureStrings(key string) []string {
	if p.Features == nil {
		return nil
	}
	switch v := p.Features[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// HasTag 检查物品是否带有指定标签。
func (p *ItemProfile) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// UserProfile 是用户画像。链路内只读；由外部画像服务维护。
//
// 维度          作用
// 静态属性      冷启动 / 基础过滤（年龄、国家）
// 偏好          BOOST 规则核心（favorite_categories / favorite_tags）
type UserProfile struct {
	ID          string
	Age         int
	Country     string
	Preferences map[string]any
	CreatedAt   time.Time
}

// FavoriteCategories 返回偏好类目列表。
func (p *UserProfile) FavoriteCategories() []string {
	return prefStrings(p.Preferences, "favorite_categories")
}

// FavoriteTags 返回偏好标签列表。
func (p *UserProfile) FavoriteTags() []string {
	return prefStrings(p.Preferences, "favorite_tags")
}

func prefStrings(prefs map[string]any, key string) []string {
	if prefs == nil {
		return nil
	}
	switch v := prefs[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
