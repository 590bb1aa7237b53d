package core

// RecommendContext 承载一次请求的用户/场景信息，贯穿整个链路透传。
// 规则阶段从 Params 读取请求级上下文（country、device_type、time_of_day 等）。
type RecommendContext struct {
	UserID string
	Scene  string

	// User 为用户画像，规则阶段读取偏好/年龄/国家
	User *UserProfile

	// Params 请求级上下文参数
	Params map[string]any
}

// ParamString 读取请求级字符串参数。
func (rctx *RecommendContext) ParamString(key string) string {
	if rctx == nil || rctx.Params == nil {
		return ""
	}
	if s, ok := rctx.Params[key].(string); ok {
		return s
	}
	return ""
}

// Country 返回请求上下文中的国家：Params 优先，其次用户画像。
func (rctx *RecommendContext) Country() string {
	if c := rctx.ParamString("country"); c != "" {
		return c
	}
	if rctx.User != nil {
		return rctx.User.Country
	}
	return ""
}
