package recall

import (
	"math"
	"strings"
	"unicode"
)

// sparseVector 是加权词项稀疏向量：term -> tf-idf 权重。
type sparseVector map[string]float64

// tokenize 小写化并按非字母数字切词。
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// buildTFIDF 把文档集合转为 TF-IDF 稀疏向量。
// tf = 词频/文档长度；idf 平滑：ln((1+N)/(1+df)) + 1，
// 保证语料内高频词被压权、全零向量只在空文档出现。
func buildTFIDF(docs []string) []sparseVector {
	n := len(docs)
	termDocs := make([]map[string]int, n)
	docFreq := make(map[string]int)

	for i, doc := range docs {
		counts := make(map[string]int)
		for _, term := range tokenize(doc) {
			counts[term]++
		}
		termDocs[i] = counts
		for term := range counts {
			docFreq[term]++
		}
	}

	idf := make(map[string]float64, len(docFreq))
	for term, df := range docFreq {
		idf[term] = math.Log(float64(1+n)/float64(1+df)) + 1
	}

	vectors := make([]sparseVector, n)
	for i, counts := range termDocs {
		vec := make(sparseVector, len(counts))
		var docLen int
		for _, c := range counts {
			docLen += c
		}
		for term, c := range counts {
			vec[term] = (float64(c) / float64(docLen)) * idf[term]
		}
		vectors[i] = vec
	}
	return vectors
}

// cosineSparse 计算两个稀疏向量的余弦相似度。
func cosineSparse(a, b sparseVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// 遍历较小的一边
	if len(b) < len(a) {
		a, b = b, a
	}

	var dot float64
	for term, va := range a {
		if vb, ok := b[term]; ok {
			dot += va * vb
		}
	}
	if dot == 0 {
		return 0
	}

	var normA, normB float64
	for _, v := range a {
		normA += v * v
	}
	for _, v := range b {
		normB += v * v
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
