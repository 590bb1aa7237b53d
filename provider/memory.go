// Package provider 包含 core.DataProvider 的实现。
// 内存实现用于测试/开发/原型；生产侧由 SQL 后端实现同一接口接入。
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// MemoryProvider 是内存实现的 DataProvider。
type MemoryProvider struct {
	mu           sync.RWMutex
	interactions []*core.InteractionRecord
	items        map[string]*core.ItemProfile
	users        map[string]*core.UserProfile
	recs         map[string][]*core.Recommendation // userID -> rows
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		items: make(map[string]*core.ItemProfile),
		users: make(map[string]*core.UserProfile),
		recs:  make(map[string][]*core.Recommendation),
	}
}

// AddItem 注册物品画像（测试/灌数据用）。
func (p *MemoryProvider) AddItem(item *core.ItemProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[item.ID] = item
}

// AddUser 注册用户画像。
func (p *MemoryProvider) AddUser(user *core.UserProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[user.ID] = user
}

func (p *MemoryProvider) Interactions(ctx context.Context) ([]*core.InteractionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*core.InteractionRecord, len(p.interactions))
	copy(out, p.interactions)
	return out, nil
}

func (p *MemoryProvider) InteractionsByUser(ctx context.Context, userID string) ([]*core.InteractionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*core.InteractionRecord
	for _, rec := range p.interactions {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (p *MemoryProvider) SaveInteraction(ctx context.Context, rec *core.InteractionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interactions = append(p.interactions, rec)
	return nil
}

func (p *MemoryProvider) Items(ctx context.Context) ([]*core.ItemProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*core.ItemProfile, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	// 稳定顺序，便于矩阵下标与测试复现
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *MemoryProvider) ItemByID(ctx context.Context, itemID string) (*core.ItemProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[itemID]
	if !ok {
		return nil, core.NewDomainErrorf(core.ModuleStore, core.ErrorCodeNotFound, "item %s not found", itemID)
	}
	return item, nil
}

func (p *MemoryProvider) Users(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.users))
	for id := range p.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (p *MemoryProvider) UserByID(ctx context.Context, userID string) (*core.UserProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	user, ok := p.users[userID]
	if !ok {
		return nil, core.NewDomainErrorf(core.ModuleStore, core.ErrorCodeNotFound, "user %s not found", userID)
	}
	return user, nil
}

func (p *MemoryProvider) UpdateItemPopularity(ctx context.Context, itemID string, score float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if item, ok := p.items[itemID]; ok {
		item.PopularityScore = score
	}
	return nil
}

func (p *MemoryProvider) SaveRecommendations(ctx context.Context, userID string, recs []*core.Recommendation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs[userID] = recs
	return nil
}

// SavedRecommendations 返回某用户已持久化的推荐行（测试用）。
func (p *MemoryProvider) SavedRecommendations(userID string) []*core.Recommendation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recs[userID]
}

var _ core.DataProvider = (*MemoryProvider)(nil)
