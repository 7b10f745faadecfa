package calculator

import "boqbalance/internal/model"

// CostTerm 统一键在某阶段的基准金额（Σ 工程量 × 基价）
type CostTerm struct {
	Key   model.UnifiedKey
	Stage string
	Value float64
}

// AggregateTerms 按 (统一键, 阶段) 聚合已匹配行的基准金额；未匹配的键不产生项
func AggregateTerms(match *model.MatchResult) []CostTerm {
	if match == nil {
		return nil
	}

	terms := []CostTerm{}
	for _, key := range match.Order {
		d, ok := match.Decision(key)
		if !ok {
			continue
		}
		pos := make(map[string]int)
		for _, item := range match.Groups[key].Occurrences {
			v := item.Quantity * d.Entry.BasePrice
			if i, ok := pos[item.StageCode]; ok {
				terms[i].Value += v
				continue
			}
			pos[item.StageCode] = len(terms)
			terms = append(terms, CostTerm{Key: key, Stage: item.StageCode, Value: v})
		}
	}
	return terms
}

// StageTotals 给定系数下各阶段的金额；缺省系数按 1 计
func StageTotals(terms []CostTerm, coeffs map[model.UnifiedKey]float64) map[string]float64 {
	totals := make(map[string]float64)
	for _, t := range terms {
		c, ok := coeffs[t.Key]
		if !ok {
			c = 1
		}
		totals[t.Stage] += t.Value * c
	}
	return totals
}

// calcGapPercent 缺口占预算百分比
func calcGapPercent(gap, forecast float64) float64 {
	if forecast == 0 {
		return 0
	}
	return gap / forecast * 100
}
