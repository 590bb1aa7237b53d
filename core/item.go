package core

// Item 是推荐链路中的统一承载结构：候选物品 + 分数 + 元信息 + 标签。
// Score 用于排序决策；Labels 用于解释与策略驱动（召回来源、命中规则等）。
type Item struct {
	ID     string
	Score  float64
	Rank   int // 最终结果中的名次（1 起始），链路中间阶段为 0
	Meta   map[string]any
	Labels map[string]Label
}

// Label 是链路标签：可解释、可追踪、可透传。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"` // recall / fusion / rule / abtest ...
}

func NewItem(id string) *Item {
	return &Item{
		ID:     id,
		Meta:   make(map[string]any),
		Labels: make(map[string]Label),
	}
}

// PutLabel 写入 Label；同名 key 以 '|' 累积 Value、',' 累积 Source，保留历史。
func (it *Item) PutLabel(key string, lbl Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = mergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

func mergeLabel(existing, incoming Label) Label {
	if existing.Value == "" {
		return incoming
	}
	if incoming.Value == "" {
		return existing
	}
	merged := existing
	merged.Value = existing.Value + "|" + incoming.Value
	switch {
	case existing.Source == "":
		merged.Source = incoming.Source
	case incoming.Source == "":
		merged.Source = existing.Source
	default:
		merged.Source = existing.Source + "," + incoming.Source
	}
	return merged
}
