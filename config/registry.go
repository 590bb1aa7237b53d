package config

import (
	"fmt"

	"github.com/cezarfuhr/recommendation-engine/core"
	"github.com/cezarfuhr/recommendation-engine/pkg/conv"
	"github.com/cezarfuhr/recommendation-engine/rule"
)

// RuleFactory 根据配置构建业务规则实例。
type RuleFactory struct {
	provider core.DataProvider
	builders map[string]func(map[string]any) (rule.Rule, error)
}

// NewRuleFactory 返回注册了全部内置规则的工厂。
func NewRuleFactory(provider core.DataProvider) *RuleFactory {
	f := &RuleFactory{
		provider: provider,
		builders: make(map[string]func(map[string]any) (rule.Rule, error)),
	}

	f.Register("filter.out_of_stock", f.buildOutOfStock)
	f.Register("filter.age_restricted", f.buildAgeRestricted)
	f.Register("filter.purchased", f.buildPurchased)
	f.Register("filter.geo_restricted", f.buildGeoRestricted)
	f.Register("boost.preferences", f.buildPreferences)
	f.Register("boost.promotional", f.buildPromotional)
	f.Register("boost.new_items", f.buildNewItems)
	f.Register("rerank.diversity", f.buildDiversity)
	f.Register("expr", f.buildExpr)

	return f
}

// Register 注册规则构建器（允许覆盖内置类型）。
func (f *RuleFactory) Register(ruleType string, builder func(map[string]any) (rule.Rule, error)) {
	f.builders[ruleType] = builder
}

// Build 根据类型和配置构建规则。
func (f *RuleFactory) Build(ruleType string, cfg map[string]any) (rule.Rule, error) {
	builder, ok := f.builders[ruleType]
	if !ok {
		return nil, fmt.Errorf("unknown rule type: %s", ruleType)
	}
	return builder(cfg)
}

// BuildRules 按配置顺序构建全部规则。配置为空时返回默认规则集。
func (f *RuleFactory) BuildRules(configs []RuleConfig) ([]rule.Rule, error) {
	if len(configs) == 0 {
		return rule.DefaultRules(f.provider), nil
	}
	rules := make([]rule.Rule, 0, len(configs))
	for _, rc := range configs {
		r, err := f.Build(rc.Type, rc.Config)
		if err != nil {
			return nil, fmt.Errorf("build rule %s: %w", rc.Type, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (f *RuleFactory) buildOutOfStock(map[string]any) (rule.Rule, error) {
	return &rule.FilterOutOfStock{Provider: f.provider}, nil
}

func (f *RuleFactory) buildAgeRestricted(map[string]any) (rule.Rule, error) {
	return &rule.FilterAgeRestricted{Provider: f.provider}, nil
}

func (f *RuleFactory) buildPurchased(map[string]any) (rule.Rule, error) {
	return &rule.FilterAlreadyPurchased{Provider: f.provider}, nil
}

func (f *RuleFactory) buildGeoRestricted(map[string]any) (rule.Rule, error) {
	return &rule.FilterGeoRestricted{Provider: f.provider}, nil
}

func (f *RuleFactory) buildPreferences(cfg map[string]any) (rule.Rule, error) {
	return &rule.BoostPreferences{
		Provider:       f.provider,
		CategoryFactor: conv.ConfigGetFloat(cfg, "category_factor", 1.4),
		TagFactor:      conv.ConfigGetFloat(cfg, "tag_factor", 1.2),
	}, nil
}

func (f *RuleFactory) buildPromotional(cfg map[string]any) (rule.Rule, error) {
	return &rule.BoostPromotional{
		Provider: f.provider,
		Factor:   conv.ConfigGetFloat(cfg, "factor", 1.5),
	}, nil
}

func (f *RuleFactory) buildNewItems(cfg map[string]any) (rule.Rule, error) {
	return &rule.BoostNewItems{
		Provider: f.provider,
		Days:     conv.ConfigGetInt(cfg, "days", 7),
		Factor:   conv.ConfigGetFloat(cfg, "factor", 1.3),
	}, nil
}

func (f *RuleFactory) buildDiversity(cfg map[string]any) (rule.Rule, error) {
	return &rule.DiversityRerank{
		Provider:       f.provider,
		MaxPerCategory: conv.ConfigGetInt(cfg, "max_per_category", 3),
	}, nil
}

func (f *RuleFactory) buildExpr(cfg map[string]any) (rule.Rule, error) {
	name := conv.ConfigGet(cfg, "name", "expr_rule")
	kind := rule.Kind(conv.ConfigGet(cfg, "kind", string(rule.KindFilter)))
	priority := conv.ConfigGetInt(cfg, "priority", 0)
	expr := conv.ConfigGet(cfg, "expr", "")
	factor := conv.ConfigGetFloat(cfg, "factor", 1.0)
	if expr == "" {
		return nil, fmt.Errorf("expr is required")
	}
	return rule.NewExprRule(name, kind, priority, expr, factor)
}
