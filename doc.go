// Package recommendation 是一个推荐引擎（Recommendation Engine）。
//
// 设计要点：
// - 双路召回: 协同过滤（用户/物品相似度）与内容（TF-IDF）两个引擎独立产出候选
// - 融合可选: weighted / rank / cascade 三种策略合并双路信号
// - 规则管道: 过滤 → 加权 → 重排按优先级串行执行，单条规则失败不拖垮链路
// - 实验分流: 确定性哈希分组，首次分组永久生效
// - 缓存失效: read-through 缓存 + 新行为事件驱动的按用户失效
package recommendation

import (
	"github.com/cezarfuhr/recommendation-engine/engine"
	"github.com/cezarfuhr/recommendation-engine/hybrid"
	"github.com/cezarfuhr/recommendation-engine/rule"
)

// 轻量 facade：便于直接 import 根包使用核心抽象。
type Engine = engine.Engine
type Request = engine.Request
type Rule = rule.Rule

const (
	AlgorithmCollaborative = engine.AlgorithmCollaborative
	AlgorithmContentBased  = engine.AlgorithmContentBased
	AlgorithmHybrid        = engine.AlgorithmHybrid

	StrategyWeighted = hybrid.StrategyWeighted
	StrategyRank     = hybrid.StrategyRank
	StrategyCascade  = hybrid.StrategyCascade
)
