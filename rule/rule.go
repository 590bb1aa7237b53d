// Package rule 实现业务规则流水线：按优先级有序执行的
// FILTER / BOOST / RERANK 变换链。
package rule

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// Kind 标记规则类型，方便观测/治理。
type Kind string

const (
	KindFilter Kind = "filter" // 剔除不符合约束的候选
	KindBoost  Kind = "boost"  // 乘法调权
	KindRerank Kind = "rerank" // 重排，不必改变成员或分数
)

// Rule 是流水线的最小可扩展单元：输入 items -> 输出 items。
// 规则内部出错由 Engine 隔离（该规则视为跳过），绝不中断整条请求。
type Rule interface {
	Name() string
	Kind() Kind
	Priority() int

	Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error)
}

// registered 在规则之外记录插入序号，让 tie-break 显式化：
// 相同优先级按插入顺序执行，不依赖语言层面的排序稳定性约定。
type registered struct {
	rule Rule
	seq  int
}

// Engine 是规则流水线：严格按 (priority 降序, 插入序升序) 执行，
// 支持运行期按名增删，变更后重排。
type Engine struct {
	mu      sync.RWMutex
	rules   []registered
	nextSeq int
	logger  *zap.Logger
}

func NewEngine(logger *zap.Logger, rules ...Rule) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{logger: logger}
	for _, r := range rules {
		e.Add(r)
	}
	return e
}

// Add 注册一条规则并重排。
func (e *Engine) Add(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = append(e.rules, registered{rule: r, seq: e.nextSeq})
	e.nextSeq++
	e.resort()
	e.logger.Info("business rule added",
		zap.String("rule", r.Name()),
		zap.String("kind", string(r.Kind())),
		zap.Int("priority", r.Priority()))
}

// Remove 按名删除规则（不存在时为 no-op），删除后重排。
func (e *Engine) Remove(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.rules[:0]
	for _, reg := range e.rules {
		if reg.rule.Name() != name {
			kept = append(kept, reg)
		}
	}
	e.rules = kept
	e.resort()
	e.logger.Info("business rule removed", zap.String("rule", name))
}

// resort 持锁调用。SliceStable + 显式 seq tie-break 双保险。
func (e *Engine) resort() {
	sort.SliceStable(e.rules, func(i, j int) bool {
		if e.rules[i].rule.Priority() != e.rules[j].rule.Priority() {
			return e.rules[i].rule.Priority() > e.rules[j].rule.Priority()
		}
		return e.rules[i].seq < e.rules[j].seq
	})
}

// Rules 返回当前规则（执行序），用于摘要/调试。
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, len(e.rules))
	for i, reg := range e.rules {
		out[i] = reg.rule
	}
	return out
}

// Apply 按序执行全部规则，最后按分数降序重排
// （BOOST 可能改变了相对顺序）。
//
// 单条规则的 error 或 panic 只跳过该规则：它的输入列表原样传给下一条。
func (e *Engine) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) []*core.Item {
	e.mu.RLock()
	rules := make([]registered, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	result := items
	for _, reg := range rules {
		next, err := e.applyOne(ctx, reg.rule, rctx, result)
		if err != nil {
			e.logger.Warn("business rule skipped",
				zap.String("rule", reg.rule.Name()),
				zap.Error(err))
			continue
		}
		result = next
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	return result
}

func (e *Engine) applyOne(ctx context.Context, r Rule, rctx *core.RecommendContext, items []*core.Item) (out []*core.Item, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("rule %s panicked: %v", r.Name(), rec)
		}
	}()
	return r.Apply(ctx, rctx, items)
}
