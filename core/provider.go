package core

import (
	"context"
	"time"
)

// Recommendation 是持久化的推荐行（批量离线再生成时写入）。
type Recommendation struct {
	UserID    string
	ItemID    string
	Score     float64
	Algorithm string
	Rank      int
	CreatedAt time.Time
}

// DataProvider 是持久化协作方的领域接口：交互/物品/用户的读取，
// 以及离线再生成产物的写回。CRUD 与存储 schema 不在本仓库范围，
// 由实现方（SQL、内存原型等）承担。
type DataProvider interface {
	// Interactions 返回全量交互记录（构建用户×物品矩阵用）
	Interactions(ctx context.Context) ([]*InteractionRecord, error)

	// InteractionsByUser 返回某用户的全部交互记录
	InteractionsByUser(ctx context.Context, userID string) ([]*InteractionRecord, error)

	// SaveInteraction 追加一条交互记录
	SaveInteraction(ctx context.Context, rec *InteractionRecord) error

	// Items 返回全量物品画像
	Items(ctx context.Context) ([]*ItemProfile, error)

	// ItemByID 返回物品画像；未知物品返回 NOT_FOUND
	ItemByID(ctx context.Context, itemID string) (*ItemProfile, error)

	// Users 返回全量用户 ID 列表
	Users(ctx context.Context) ([]string, error)

	// UserByID 返回用户画像；未知用户返回 NOT_FOUND
	UserByID(ctx context.Context, userID string) (*UserProfile, error)

	// UpdateItemPopularity 写回物品热度分
	UpdateItemPopularity(ctx context.Context, itemID string, score float64) error

	// SaveRecommendations 批量写入持久化推荐行（覆盖该用户旧行）
	SaveRecommendations(ctx context.Context, userID string, recs []*Recommendation) error
}
