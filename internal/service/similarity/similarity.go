// Package similarity 清单名称与价格库名称的文本相似度评分
//
// 评分 = 词集重合度(Dice) × TokenSet 权重 + 排序后词串的编辑相似度 × Edit 权重。
// 词集部分与词序无关，占主导；编辑距离部分区分拼写上的细微差异。
package similarity

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Weights 评分权重
type Weights struct {
	TokenSet float64 `json:"tokenSet" toml:"token_set"`
	Edit     float64 `json:"edit" toml:"edit"`
}

// DefaultWeights 默认权重
func DefaultWeights() Weights {
	return Weights{TokenSet: 0.75, Edit: 0.25}
}

// Text 预处理后的文本（同一字符串多次比较时复用）
type Text struct {
	Norm   string   // 规范化全文
	Tokens []string // 去重排序后的词
	Sorted string   // Tokens 以空格拼接
}

// Prepare 规范化并切词
func Prepare(s string) Text {
	n := Normalize(s)
	toks := uniqueSorted(strings.Fields(n))
	return Text{Norm: n, Tokens: toks, Sorted: strings.Join(toks, " ")}
}

// Empty 规范化后是否为空
func (t Text) Empty() bool {
	return t.Norm == ""
}

// Normalize NFKC 折叠、小写、标点符号替换为空格、压缩空白
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Scorer 相似度评分器（无状态，可并发使用）
type Scorer struct {
	weights Weights
}

// NewScorer 创建评分器；权重按总和归一，非法权重回退默认值
func NewScorer(w Weights) *Scorer {
	if w.TokenSet < 0 || w.Edit < 0 || w.TokenSet+w.Edit <= 0 {
		w = DefaultWeights()
	}
	sum := w.TokenSet + w.Edit
	return &Scorer{weights: Weights{TokenSet: w.TokenSet / sum, Edit: w.Edit / sum}}
}

// Score 名称相似度 ∈ [0,1]；别名与主名称同等对待，取最大值
func (s *Scorer) Score(query, candidate string, aliases []string) float64 {
	q := Prepare(query)
	names := make([]Text, 0, 1+len(aliases))
	names = append(names, Prepare(candidate))
	for _, a := range aliases {
		names = append(names, Prepare(a))
	}
	return s.Best(q, names)
}

// Best 对一组候选名称（主名称 + 别名）取最高分
func (s *Scorer) Best(query Text, names []Text) float64 {
	best := 0.0
	for _, n := range names {
		sc := s.Compare(query, n)
		if sc > best {
			best = sc
		}
		if best >= 1 {
			return 1
		}
	}
	return best
}

// Compare 两段预处理文本的相似度
func (s *Scorer) Compare(a, b Text) float64 {
	if a.Empty() || b.Empty() {
		return 0
	}
	if a.Norm == b.Norm {
		return 1
	}

	score := s.weights.TokenSet*dice(a.Tokens, b.Tokens) + s.weights.Edit*editSimilarity(a.Sorted, b.Sorted)
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// dice Sørensen–Dice 系数，输入均为去重有序词集
func dice(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			common++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return 2 * float64(common) / float64(len(a)+len(b))
}

func editSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(ra, rb))/float64(maxLen)
}

// Levenshtein 按字符（rune）计算编辑距离
func Levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
