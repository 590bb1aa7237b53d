package rule

import (
	"context"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/cezarfuhr/recommendation-engine/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvOnce sync.Once
	celEnvErr  error
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("item", cel.DynType),
			cel.Variable("label", cel.DynType),
			cel.Variable("user", cel.DynType),
			cel.Variable("params", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// ExprRule 是表达式驱动的规则，使用 CEL (Common Expression Language)。
// 运营侧无需发版即可上线一条过滤/调权规则。
//
// 表达式语法（CEL 标准语法）：
//   - item.score > 0.7
//   - label.recall_source.contains("content")
//   - user.country == "BR" && item.score >= 0.5
//
// 语义：
//   - KindFilter：表达式为保留条件，false 的物品被剔除
//   - KindBoost：表达式为 true 的物品分数乘 Factor
//
// 表达式在构造期编译；编译失败是 INVALID_CONFIG，启动即拒绝。
type ExprRule struct {
	name     string
	kind     Kind
	priority int
	factor   float64
	prg      cel.Program
}

// NewExprRule 编译表达式并创建规则。kind 仅支持 filter / boost。
func NewExprRule(name string, kind Kind, priority int, expr string, factor float64) (*ExprRule, error) {
	if kind != KindFilter && kind != KindBoost {
		return nil, core.NewDomainErrorf(core.ModuleRule, core.ErrorCodeInvalidConfig,
			"expr rule %s: unsupported kind %q", name, kind)
	}

	env, err := getCELEnv()
	if err != nil {
		return nil, core.NewDomainErrorf(core.ModuleRule, core.ErrorCodeInternalError,
			"expr rule %s: cel env: %v", name, err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, core.NewDomainErrorf(core.ModuleRule, core.ErrorCodeInvalidConfig,
			"expr rule %s: compile: %v", name, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, core.NewDomainErrorf(core.ModuleRule, core.ErrorCodeInvalidConfig,
			"expr rule %s: program: %v", name, err)
	}

	if factor <= 0 {
		factor = 1.0
	}
	return &ExprRule{name: name, kind: kind, priority: priority, factor: factor, prg: prg}, nil
}

func (r *ExprRule) Name() string  { return r.name }
func (r *ExprRule) Kind() Kind    { return r.kind }
func (r *ExprRule) Priority() int { return r.priority }

func (r *ExprRule) Apply(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	out := items
	if r.kind == KindFilter {
		out = make([]*core.Item, 0, len(items))
	}

	for _, it := range items {
		match, err := r.eval(rctx, it)
		if err != nil {
			// 表达式运行期错误按不命中处理：FILTER 保留物品，BOOST 不调权
			match = r.kind == KindFilter
		}
		switch r.kind {
		case KindFilter:
			if match {
				out = append(out, it)
			}
		case KindBoost:
			if match {
				it.Score *= r.factor
				it.PutLabel("boost", core.Label{Value: r.name, Source: "rule"})
			}
		}
	}
	return out, nil
}

func (r *ExprRule) eval(rctx *core.RecommendContext, it *core.Item) (bool, error) {
	labels := make(map[string]string, len(it.Labels))
	for k, lbl := range it.Labels {
		labels[k] = lbl.Value
	}

	user := map[string]any{}
	if rctx != nil && rctx.User != nil {
		user = map[string]any{
			"id":          rctx.User.ID,
			"age":         rctx.User.Age,
			"country":     rctx.User.Country,
			"preferences": rctx.User.Preferences,
		}
	}
	params := map[string]any{}
	if rctx != nil && rctx.Params != nil {
		params = rctx.Params
	}

	out, _, err := r.prg.Eval(map[string]any{
		"item": map[string]any{
			"id":    it.ID,
			"score": it.Score,
		},
		"label":  labels,
		"user":   user,
		"params": params,
	})
	if err != nil {
		return false, err
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, core.NewDomainErrorf(core.ModuleRule, core.ErrorCodeInvalidConfig,
			"expr rule %s: expression must return boolean", r.name)
	}
	return result, nil
}

var _ Rule = (*ExprRule)(nil)
