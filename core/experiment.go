package core

import "time"

// Variant 是实验分组：A / B，各自映射到一个推荐算法。
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// Experiment 是一个 A/B 实验定义。
// 由运营侧一次性创建；Deactivate 为单向幂等操作，无重新激活路径。
// SplitRatio 变更只影响尚未分组的用户，已分组用户永久冻结。
type Experiment struct {
	ID                string
	Name              string // 全局唯一
	Description       string
	VariantAName      string // 默认 "control"
	VariantBName      string // 默认 "treatment"
	VariantAAlgorithm string
	VariantBAlgorithm string
	SplitRatio        float64 // [0,1]，落入 A 组的比例
	Active            bool
	Config            map[string]any
	CreatedAt         time.Time
}

// AlgorithmFor 返回分组对应的算法名。
func (e *Experiment) AlgorithmFor(v Variant) string {
	if v == VariantA {
		return e.VariantAAlgorithm
	}
	return e.VariantBAlgorithm
}

// Assignment 是 (实验, 用户) 的分组结果。
// 每对至多创建一次：首次分组即永久生效，后续查询必须返回同一分组。
type Assignment struct {
	TestID     string    `json:"test_id"`
	UserID     string    `json:"user_id"`
	Variant    Variant   `json:"variant"`
	AssignedAt time.Time `json:"assigned_at"`
}
