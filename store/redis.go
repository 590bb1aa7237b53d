package store

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// RedisStore 是 Redis 实现的 KeyValueStore。
// 生产环境常用：持久化、per-key 原子操作、TTL 由服务端维护。
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, core.ErrStoreUnavailable
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient 复用外部构建的客户端（哨兵/集群配置由调用方决定）。
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, core.ErrStoreNotFound
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return val, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	return wrapErr(r.client.Set(ctx, key, value, expiration(ttl...)).Err())
}

func (r *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl ...int) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, expiration(ttl...)).Result()
	return ok, wrapErr(err)
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return wrapErr(r.client.Del(ctx, key).Err())
}

func (r *RedisStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return make(map[string][]byte), nil
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapErr(err)
	}

	result := make(map[string][]byte, len(keys))
	for i, k := range keys {
		if vals[i] != nil {
			if s, ok := vals[i].(string); ok {
				result[k] = []byte(s)
			}
		}
	}
	return result, nil
}

func (r *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrapErr(r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (r *RedisStore) ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error) {
	score, err := r.client.ZIncrBy(ctx, key, increment, member).Result()
	return score, wrapErr(err)
}

func (r *RedisStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.client.ZRevRange(ctx, key, start, stop).Result()
	return vals, wrapErr(err)
}

func (r *RedisStore) ZRevRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}
	if limit > 0 {
		opt.Count = limit
	}
	vals, err := r.client.ZRevRangeByScore(ctx, key, opt).Result()
	return vals, wrapErr(err)
}

func (r *RedisStore) ZScore(ctx context.Context, key string, member string) (float64, error) {
	score, err := r.client.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, core.ErrStoreNotFound
	}
	return score, wrapErr(err)
}

func (r *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	n, err := r.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
	return n, wrapErr(err)
}

func (r *RedisStore) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error) {
	n, err := r.client.ZRemRangeByRank(ctx, key, start, stop).Result()
	return n, wrapErr(err)
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl int) error {
	return wrapErr(r.client.Expire(ctx, key, time.Duration(ttl)*time.Second).Err())
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	val, err := r.client.HGet(ctx, key, field).Bytes()
	if err == redis.Nil {
		return nil, core.ErrStoreNotFound
	}
	return val, wrapErr(err)
}

func (r *RedisStore) HSet(ctx context.Context, key, field string, value []byte) error {
	return wrapErr(r.client.HSet(ctx, key, field, value).Err())
}

func (r *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	return wrapErr(r.client.HDel(ctx, key, fields...).Err())
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	vals, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	result := make(map[string][]byte, len(vals))
	for k, v := range vals {
		result[k] = []byte(v)
	}
	return result, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func expiration(ttl ...int) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return time.Duration(ttl[0]) * time.Second
	}
	return 0
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// wrapErr 把连接级错误统一为 UNAVAILABLE，调用方据此降级。
func wrapErr(err error) error {
	if err == nil || err == redis.Nil {
		return err
	}
	if core.GetDomainError(err) != nil {
		return err
	}
	return core.NewDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "store: redis: "+err.Error())
}

// 确保 RedisStore 实现了 core.KeyValueStore 接口
var _ core.KeyValueStore = (*RedisStore)(nil)
