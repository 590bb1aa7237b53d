package recall

import (
	"math"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// ratingMatrix 是稠密的用户×物品取值矩阵（缺失 = 0）。
// 取值语义：有评分用评分，否则用交互权重（InteractionRecord.Value）。
type ratingMatrix struct {
	userIDs   []string
	itemIDs   []string
	userIndex map[string]int
	itemIndex map[string]int
	rows      [][]float64 // len(userIDs) × len(itemIDs)
}

func buildRatingMatrix(userIDs []string, itemIDs []string, interactions []*core.InteractionRecord) *ratingMatrix {
	m := &ratingMatrix{
		userIDs:   userIDs,
		itemIDs:   itemIDs,
		userIndex: make(map[string]int, len(userIDs)),
		itemIndex: make(map[string]int, len(itemIDs)),
		rows:      make([][]float64, len(userIDs)),
	}
	for i, id := range userIDs {
		m.userIndex[id] = i
	}
	for j, id := range itemIDs {
		m.itemIndex[id] = j
	}
	for i := range m.rows {
		m.rows[i] = make([]float64, len(itemIDs))
	}

	for _, rec := range interactions {
		ui, ok := m.userIndex[rec.UserID]
		if !ok {
			continue
		}
		ij, ok := m.itemIndex[rec.ItemID]
		if !ok {
			continue
		}
		m.rows[ui][ij] = rec.Value()
	}
	return m
}

// columns 返回转置视图（物品×用户），供物品相似度计算。
func (m *ratingMatrix) columns() [][]float64 {
	cols := make([][]float64, len(m.itemIDs))
	for j := range cols {
		cols[j] = make([]float64, len(m.userIDs))
		for i := range m.userIDs {
			cols[j][i] = m.rows[i][j]
		}
	}
	return cols
}

// pairwiseCosine 计算行向量两两之间的余弦相似度矩阵，对角线置 0
// （用户/物品不是自己的邻居）。
func pairwiseCosine(vectors [][]float64) [][]float64 {
	n := len(vectors)
	norms := make([]float64, n)
	for i, v := range vectors {
		norms[i] = vectorNorm(v)
	}

	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		if norms[i] == 0 {
			continue
		}
		for j := i + 1; j < n; j++ {
			if norms[j] == 0 {
				continue
			}
			s := dot(vectors[i], vectors[j]) / (norms[i] * norms[j])
			sim[i][j] = s
			sim[j][i] = s
		}
	}
	return sim
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func vectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
