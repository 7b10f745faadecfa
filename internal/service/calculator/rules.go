package calculator

import (
	"fmt"
	"math"
	"sort"
)

// ValidateProblem 求解前校验参数与输入（返回全部问题，空表示通过）
func ValidateProblem(p Problem) []string {
	errs := make([]string, 0, 4)
	b := p.Params.Bounds

	if !finite(b.Min) || !finite(b.Max) || !finite(p.Params.Lambda) {
		errs = append(errs, "参数不能为 NaN 或无穷大")
		return errs
	}
	if b.Min < 0 {
		errs = append(errs, "系数下限不能为负数")
	}
	if b.Min >= b.Max {
		errs = append(errs, "系数下限必须小于上限")
	}
	if p.Params.Lambda < 0 {
		errs = append(errs, "惩罚系数 λ 不能为负数")
	}

	stages := make([]string, 0, len(p.Forecasts))
	for s := range p.Forecasts {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	for _, s := range stages {
		if f := p.Forecasts[s]; !finite(f) || f <= 0 {
			errs = append(errs, fmt.Sprintf("阶段 %s 的预算必须大于 0", s))
		}
	}

	for _, t := range p.Terms {
		if !finite(t.Value) || t.Value < 0 {
			errs = append(errs, fmt.Sprintf("%s 在阶段 %s 的金额无效", t.Key, t.Stage))
			break
		}
	}

	return errs
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
