package feature

import (
	"context"
	"fmt"
	"time"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	feasttypes "github.com/feast-dev/feast/sdk/go/protos/feast/types"
)

// Feast 在线特征表的列名。离线物化任务按同名列写入。
var (
	feastUserFeatures = []string{
		"user_features:total_interactions",
		"user_features:avg_rating",
		"user_features:activity_score",
		"user_features:recency_score",
	}
	feastItemFeatures = []string{
		"item_features:total_interactions",
		"item_features:avg_rating",
		"item_features:popularity_score",
		"item_features:age_days",
	}
)

// FeastProvider 通过官方 Feast Go SDK 读取在线特征。
// 只覆盖数值特征；类目偏好等结构化字段仍由本地计算补齐。
type FeastProvider struct {
	client  *feastsdk.GrpcClient
	project string
}

// NewFeastProvider 连接 Feast Feature Server（gRPC，默认端口 6565）。
func NewFeastProvider(host string, port int, project string) (*FeastProvider, error) {
	if port == 0 {
		port = 6565
	}
	client, err := feastsdk.NewGrpcClient(host, port)
	if err != nil {
		return nil, fmt.Errorf("feast: connect %s:%d: %w", host, port, err)
	}
	return &FeastProvider{client: client, project: project}, nil
}

// UserFeatures 实现 Provider。
func (p *FeastProvider) UserFeatures(ctx context.Context, userID string) (*UserFeatures, error) {
	row, err := p.fetch(ctx, feastUserFeatures, "user_id", userID)
	if err != nil {
		return nil, err
	}
	return &UserFeatures{
		UserID:            userID,
		TotalInteractions: int(floatValue(row["user_features:total_interactions"])),
		AvgRating:         floatValue(row["user_features:avg_rating"]),
		ActivityScore:     floatValue(row["user_features:activity_score"]),
		RecencyScore:      floatValue(row["user_features:recency_score"]),
		InteractionCounts: map[string]int{},
		ComputedAt:        time.Now(),
	}, nil
}

// ItemFeatures 实现 Provider。
func (p *FeastProvider) ItemFeatures(ctx context.Context, itemID string) (*ItemFeatures, error) {
	row, err := p.fetch(ctx, feastItemFeatures, "item_id", itemID)
	if err != nil {
		return nil, err
	}
	return &ItemFeatures{
		ItemID:            itemID,
		TotalInteractions: int(floatValue(row["item_features:total_interactions"])),
		AvgRating:         floatValue(row["item_features:avg_rating"]),
		PopularityScore:   floatValue(row["item_features:popularity_score"]),
		AgeDays:           floatValue(row["item_features:age_days"]),
		InteractionCounts: map[string]int{},
		ComputedAt:        time.Now(),
	}, nil
}

func (p *FeastProvider) fetch(ctx context.Context, features []string, entityKey, entityID string) (feastsdk.Row, error) {
	req := &feastsdk.OnlineFeaturesRequest{
		Features: features,
		Entities: []feastsdk.Row{{entityKey: feastsdk.StrVal(entityID)}},
		Project:  p.project,
	}
	resp, err := p.client.GetOnlineFeatures(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("feast: get online features: %w", err)
	}
	rows := resp.Rows()
	if len(rows) != 1 {
		return nil, fmt.Errorf("feast: expected 1 row, got %d", len(rows))
	}
	return rows[0], nil
}

func floatValue(v *feasttypes.Value) float64 {
	if v == nil {
		return 0
	}
	switch t := v.GetVal().(type) {
	case *feasttypes.Value_DoubleVal:
		return t.DoubleVal
	case *feasttypes.Value_FloatVal:
		return float64(t.FloatVal)
	case *feasttypes.Value_Int64Val:
		return float64(t.Int64Val)
	case *feasttypes.Value_Int32Val:
		return float64(t.Int32Val)
	}
	return 0
}
