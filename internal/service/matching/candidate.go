package matching

import (
	"sort"

	"boqbalance/internal/model"
	"boqbalance/internal/service/similarity"
)

// indexedEntry 预处理后的价格库条目
type indexedEntry struct {
	entry model.CatalogueEntry
	unit  string            // 规范单位
	names []similarity.Text // 主名称 + 别名
	pos   int               // 插入顺序
}

func (m *Matcher) buildIndex(catalogue []model.CatalogueEntry) []indexedEntry {
	idx := make([]indexedEntry, len(catalogue))
	for i, e := range catalogue {
		names := make([]similarity.Text, 0, 1+len(e.Aliases))
		names = append(names, similarity.Prepare(e.Name))
		for _, a := range e.Aliases {
			names = append(names, similarity.Prepare(a))
		}
		idx[i] = indexedEntry{
			entry: e,
			unit:  m.units.Canonicalize(e.Unit),
			names: names,
			pos:   i,
		}
	}
	return idx
}

// FindCandidates 为单个清单行返回按分数排序的候选；单位不等价的条目不参与
func (m *Matcher) FindCandidates(item model.LineItem, catalogue []model.CatalogueEntry, topN int) []model.MatchCandidate {
	if topN <= 0 {
		topN = m.opts.TopN
	}
	return m.rank(item.Name, item.Unit, m.buildIndex(catalogue), topN, m.opts.MinScore)
}

type scored struct {
	cand model.MatchCandidate
	pos  int
}

// rank 排序规则：分数降序，基价升序，插入顺序升序
func (m *Matcher) rank(name, unit string, idx []indexedEntry, topN int, minScore float64) []model.MatchCandidate {
	query := similarity.Prepare(name)
	canon := m.units.Canonicalize(unit)

	var hits []scored
	for _, ie := range idx {
		if ie.unit != canon {
			continue
		}
		score := m.scorer.Best(query, ie.names)
		if score <= 0 || score < minScore {
			continue
		}
		hits = append(hits, scored{
			cand: model.MatchCandidate{Entry: ie.entry, Score: score},
			pos:  ie.pos,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.cand.Score != b.cand.Score {
			return a.cand.Score > b.cand.Score
		}
		if a.cand.Entry.BasePrice != b.cand.Entry.BasePrice {
			return a.cand.Entry.BasePrice < b.cand.Entry.BasePrice
		}
		return a.pos < b.pos
	})

	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}
	out := make([]model.MatchCandidate, len(hits))
	for i, h := range hits {
		out[i] = h.cand
	}
	return out
}
