package core

import "context"

// Store 是存储的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 遵循依赖倒置原则：领域层定义接口，基础设施层实现接口
//
// 使用场景：
//   - 推荐结果缓存（TTL 过期）
//   - 特征缓存
//   - 实验分组持久化
type Store interface {
	// Name 返回存储后端名称（用于日志/监控）
	Name() string

	// Get 读取单个 key 的值；key 不存在或已过期返回 ErrStoreNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入单个 key-value，ttl 为过期秒数（可选，0 表示不过期）
	Set(ctx context.Context, key string, value []byte, ttl ...int) error

	// SetNX 仅在 key 不存在时写入，返回是否写入成功。
	// 首次提交者获胜：实验分组的并发首次写依赖此语义。
	SetNX(ctx context.Context, key string, value []byte, ttl ...int) (bool, error)

	// Delete 删除单个 key
	Delete(ctx context.Context, key string) error

	// BatchGet 批量读取（减少网络往返），缺失/过期的 key 静默跳过
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// Close 关闭连接/释放资源
	Close() error
}

// KeyValueStore 是 Store 的扩展接口，补充有序集合与哈希操作。
//
// 扩展功能：
//   - 有序集合（SortedSet）：热度计数、趋势时间线、近期交互
//   - 哈希表（Hash）：缓存 key 索引、实验注册表
//
// 要求后端提供 per-key 原子性（ZIncrBy 原子自增）；满足此要求时
// 链路无需进程内加锁。
type KeyValueStore interface {
	Store

	// ZAdd 向有序集合添加/更新成员分数
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZIncrBy 原子地增加成员分数，返回新分数
	ZIncrBy(ctx context.Context, key string, increment float64, member string) (float64, error)

	// ZRevRange 按分数降序获取 [start, stop] 区间成员
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ZRevRangeByScore 按分数降序获取分数在 [min, max] 内的成员，最多 limit 个（limit<=0 不限）
	ZRevRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)

	// ZScore 获取成员的分数
	ZScore(ctx context.Context, key string, member string) (float64, error)

	// ZRemRangeByScore 删除分数在 [min, max] 内的成员，返回删除数量
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)

	// ZRemRangeByRank 按升序名次删除 [start, stop] 区间成员（负数从尾部计），返回删除数量
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error)

	// Expire 设置 key 的过期秒数
	Expire(ctx context.Context, key string, ttl int) error

	// HGet 读取 Hash 字段
	HGet(ctx context.Context, key, field string) ([]byte, error)

	// HSet 写入 Hash 字段
	HSet(ctx context.Context, key, field string, value []byte) error

	// HDel 删除 Hash 字段
	HDel(ctx context.Context, key string, fields ...string) error

	// HGetAll 读取整个 Hash
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
}

// Store 错误定义（使用统一的 DomainError）
var (
	// ErrStoreNotFound 表示 key 不存在
	ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: key not found")

	// ErrStoreNotSupported 表示操作不支持
	ErrStoreNotSupported = NewDomainError(ModuleStore, ErrorCodeNotSupported, "store: operation not supported")

	// ErrStoreUnavailable 表示存储暂不可达，调用方应降级而非失败
	ErrStoreUnavailable = NewDomainError(ModuleStore, ErrorCodeUnavailable, "store: backend unavailable")
)

// IsStoreNotFound 检查错误是否为 key 不存在。
func IsStoreNotFound(err error) bool {
	domainErr := GetDomainError(err)
	return domainErr != nil && domainErr.Module == ModuleStore && domainErr.Code == ErrorCodeNotFound
}
