package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// MemoryStore 是内存实现的 KeyValueStore，用于测试/开发/原型。
// 支持 TTL（过期时间），但进程重启后数据丢失。
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]*entry
	zsets map[string]map[string]float64 // zset key -> member -> score
	clean *time.Ticker
}

type entry struct {
	value []byte
	ttl   *time.Time
}

func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		data:  make(map[string]*entry),
		zsets: make(map[string]map[string]float64),
		clean: time.NewTicker(10 * time.Second),
	}
	go ms.cleanup()
	return ms
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	if e.ttl != nil && time.Now().After(*e.ttl) {
		return nil, core.ErrStoreNotFound
	}
	return e.value, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = newEntry(value, ttl...)
	return nil
}

func (m *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl ...int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.data[key]; ok {
		if e.ttl == nil || time.Now().Before(*e.ttl) {
			return false, nil
		}
		// 已过期的 key 视为不存在
	}
	m.data[key] = newEntry(value, ttl...)
	return true, nil
}

func newEntry(value []byte, ttl ...int) *entry {
	e := &entry{value: value}
	if len(ttl) > 0 && ttl[0] > 0 {
		expire := time.Now().Add(time.Duration(ttl[0]) * time.Second)
		e.ttl = &expire
	}
	return e
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	delete(m.zsets, key)
	return nil
}

func (m *MemoryStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]byte, len(keys))
	now := time.Now()
	for _, k := range keys {
		e, ok := m.data[k]
		if !ok {
			continue
		}
		if e.ttl != nil && now.After(*e.ttl) {
			continue
		}
		result[k] = e.value
	}
	return result, nil
}

func (m *MemoryStore) Close() error {
	if m.clean != nil {
		m.clean.Stop()
	}
	return nil
}

func (m *MemoryStore) cleanup() {
	for range m.clean.C {
		m.mu.Lock()
		now := time.Now()
		for k, e := range m.data {
			if e.ttl != nil && now.After(*e.ttl) {
				delete(m.data, k)
			}
		}
		m.mu.Unlock()
	}
}

// 有序集合操作（实现 core.KeyValueStore）

var _ core.KeyValueStore = (*MemoryStore)(nil)

func (m *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
	return nil
}

func (m *MemoryStore) ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] += increment
	return m.zsets[key][member], nil
}

// sortedMembers 返回按分数降序排列的成员（持锁调用）。
func (m *MemoryStore) sortedMembers(key string) []struct {
	member string
	score  float64
} {
	zset := m.zsets[key]
	pairs := make([]struct {
		member string
		score  float64
	}, 0, len(zset))
	for member, score := range zset {
		pairs = append(pairs, struct {
			member string
			score  float64
		}{member, score})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		return pairs[i].member < pairs[j].member
	})
	return pairs
}

func (m *MemoryStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pairs := m.sortedMembers(key)
	if len(pairs) == 0 {
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= int64(len(pairs)) {
		stop = int64(len(pairs)) - 1
	}
	if start > stop {
		return nil, nil
	}

	result := make([]string, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		result = append(result, pairs[i].member)
	}
	return result, nil
}

func (m *MemoryStore) ZRevRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []string
	for _, p := range m.sortedMembers(key) {
		if p.score < min || p.score > max {
			continue
		}
		result = append(result, p.member)
		if limit > 0 && int64(len(result)) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) ZScore(ctx context.Context, key string, member string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	zset, ok := m.zsets[key]
	if !ok {
		return 0, core.ErrStoreNotFound
	}
	score, ok := zset[member]
	if !ok {
		return 0, core.ErrStoreNotFound
	}
	return score, nil
}

func (m *MemoryStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	zset := m.zsets[key]
	var removed int64
	for member, score := range zset {
		if score >= min && score <= max {
			delete(zset, member)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pairs := m.sortedMembers(key)
	n := int64(len(pairs))
	if n == 0 {
		return 0, nil
	}
	// 升序名次语义（与 Redis 一致）：名次 0 为最低分
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return 0, nil
	}

	var removed int64
	for rank := start; rank <= stop; rank++ {
		// pairs 为降序，升序名次 rank 对应下标 n-1-rank
		delete(m.zsets[key], pairs[n-1-rank].member)
		removed++
	}
	return removed, nil
}

func (m *MemoryStore) Expire(ctx context.Context, key string, ttl int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.data[key]; ok && ttl > 0 {
		expire := time.Now().Add(time.Duration(ttl) * time.Second)
		e.ttl = &expire
	}
	// zset 的过期在内存实现中忽略（仅 Redis 后端支持）
	return nil
}

func (m *MemoryStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	return m.Get(ctx, hashKey(key, field))
}

func (m *MemoryStore) HSet(ctx context.Context, key, field string, value []byte) error {
	return m.Set(ctx, hashKey(key, field), value)
}

func (m *MemoryStore) HDel(ctx context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range fields {
		delete(m.data, hashKey(key, f))
	}
	return nil
}

func (m *MemoryStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := hashKey(key, "")
	result := make(map[string][]byte)
	now := time.Now()
	for k, e := range m.data {
		if strings.HasPrefix(k, prefix) {
			if e.ttl != nil && now.After(*e.ttl) {
				continue
			}
			result[strings.TrimPrefix(k, prefix)] = e.value
		}
	}
	return result, nil
}

func hashKey(key, field string) string {
	return "hash:" + key + ":" + field
}
