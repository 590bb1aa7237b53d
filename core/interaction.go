package core

import "time"

// 交互类型常量。权重语义：view < click < add_to_cart < purchase。
const (
	InteractionView      = "view"
	InteractionClick     = "click"
	InteractionAddToCart = "add_to_cart"
	InteractionPurchase  = "purchase"
	InteractionRating    = "rating"
)

// InteractionRecord 是一条用户-物品交互记录（append-only，创建后不可变）。
// 同时喂给两个相似度引擎与特征层。
type InteractionRecord struct {
	UserID    string
	ItemID    string
	Type      string
	Rating    float64 // [0,5]，0 表示未评分
	Weight    float64 // >= 0
	Timestamp time.Time
}

// Value 返回交互的取值：有评分用评分，否则用权重。
// 用户×物品矩阵的填充值即此取值。
func (r *InteractionRecord) Value() float64 {
	if r.Rating > 0 {
		return r.Rating
	}
	return r.Weight
}
