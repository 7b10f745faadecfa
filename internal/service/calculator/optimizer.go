package calculator

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"boqbalance/internal/model"
)

var ErrInvalidParams = errors.New("invalid optimizer parameters")

const (
	// forecastShrink 预算上限按相对量收紧，避免舍入误差导致报告金额超限
	forecastShrink = 1e-9
)

// Problem 单次求解输入
type Problem struct {
	Terms     []CostTerm
	Forecasts map[string]float64 // 阶段 -> 预算上限
	Params    model.OptimizeParams
}

// Solution 求解结果
type Solution struct {
	Coefficients     map[model.UnifiedKey]float64
	Status           model.SolverStatus
	Objective        float64 // Σ v·c − λ·Σ|c−1|
	Duration         time.Duration
	InfeasibleStages []string // 全部取下限仍超预算的阶段
	Fallback         bool     // 单纯形失败后采用统一系数
}

// Optimizer 系数优化器（无状态，每次调用独立求解）
type Optimizer struct {
	logger *slog.Logger
}

// NewOptimizer 创建优化器
func NewOptimizer(logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{logger: logger}
}

// stageRow 一个阶段的预算约束（仅包含自由变量）
type stageRow struct {
	stage   string
	ceiling float64
	coef    map[int]float64 // 自由键下标 -> 基准金额
	rhs     float64         // ceiling − Σ a·min
}

// Solve 求解每个统一键的系数。
//
// 线性规划：max Σ v·c − λ·Σ|c−1|，s.t. 各阶段 Σ a·c ≤ 预算，c ∈ [min, max]。
// 取下限仍超预算的阶段标记为不可行，其涉及的键固定为下限，剩余部分照常求解。
func (o *Optimizer) Solve(p Problem) (*Solution, error) {
	start := time.Now()
	if errs := ValidateProblem(p); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(errs, "; "))
	}
	b := p.Params.Bounds

	// 键顺序取首次出现顺序
	keys := []model.UnifiedKey{}
	keyPos := make(map[model.UnifiedKey]int)
	value := []float64{}
	stageTerms := make(map[string]map[model.UnifiedKey]float64)
	for _, t := range p.Terms {
		i, ok := keyPos[t.Key]
		if !ok {
			i = len(keys)
			keyPos[t.Key] = i
			keys = append(keys, t.Key)
			value = append(value, 0)
		}
		if _, ok := p.Forecasts[t.Stage]; !ok {
			continue
		}
		value[i] += t.Value
		if stageTerms[t.Stage] == nil {
			stageTerms[t.Stage] = make(map[model.UnifiedKey]float64)
		}
		stageTerms[t.Stage][t.Key] += t.Value
	}

	stages := make([]string, 0, len(stageTerms))
	for s := range stageTerms {
		stages = append(stages, s)
	}
	sort.Strings(stages)

	coeffs := make(map[model.UnifiedKey]float64, len(keys))
	pinned := make(map[model.UnifiedKey]bool)
	var infeasible []string
	for _, s := range stages {
		ceiling := p.Forecasts[s] * (1 - forecastShrink)
		minCost := 0.0
		for _, a := range stageTerms[s] {
			minCost += a * b.Min
		}
		if minCost > ceiling {
			infeasible = append(infeasible, s)
			for k := range stageTerms[s] {
				pinned[k] = true
			}
		}
	}

	free := []model.UnifiedKey{}
	freeIdx := make(map[model.UnifiedKey]int)
	for i, k := range keys {
		switch {
		case pinned[k]:
			coeffs[k] = b.Min
		case value[i] == 0:
			// 不受任何预算约束的键保持基价
			coeffs[k] = clamp(1, b)
		default:
			freeIdx[k] = len(free)
			free = append(free, k)
		}
	}

	rows := []stageRow{}
	for _, s := range stages {
		if isIn(infeasible, s) {
			continue
		}
		row := stageRow{stage: s, ceiling: p.Forecasts[s] * (1 - forecastShrink), coef: make(map[int]float64)}
		row.rhs = row.ceiling
		for k, a := range stageTerms[s] {
			row.rhs -= a * b.Min
			if i, ok := freeIdx[k]; ok {
				row.coef[i] += a
			}
		}
		if len(row.coef) > 0 {
			rows = append(rows, row)
		}
	}

	fallback := false
	if len(free) > 0 {
		freeValue := make([]float64, len(free))
		for i, k := range free {
			freeValue[i] = value[keyPos[k]]
		}
		x, err := solveLP(freeValue, rows, b, p.Params.Lambda)
		if err == nil {
			for i, k := range free {
				coeffs[k] = clamp(x[i], b)
			}
			if !withinCeilings(rows, stageTerms, coeffs, p.Forecasts) {
				err = errors.New("solution exceeds stage ceiling")
			}
		}
		if err != nil {
			o.logger.Warn("simplex failed, using uniform coefficient", "error", err, "keys", len(free))
			u := uniformFactor(rows, stageTerms, freeIdx, b)
			for _, k := range free {
				coeffs[k] = u
			}
			fallback = true
		}
	}

	sol := &Solution{
		Coefficients:     coeffs,
		Status:           model.SolverOptimal,
		InfeasibleStages: infeasible,
		Fallback:         fallback,
	}
	switch {
	case len(infeasible) > 0:
		sol.Status = model.SolverInfeasible
	case fallback:
		sol.Status = model.SolverFeasible
	}
	for i, k := range keys {
		c := coeffs[k]
		sol.Objective += value[i]*c - p.Params.Lambda*math.Abs(c-1)
	}
	sol.Duration = time.Since(start)

	o.logger.Info("solve complete",
		"keys", len(keys),
		"free_keys", len(free),
		"stages", len(stages),
		"infeasible_stages", len(infeasible),
		"status", sol.Status,
		"objective", sol.Objective,
		"duration_ms", sol.Duration.Milliseconds(),
	)
	return sol, nil
}

// solveLP 构造上界变量线性规划并返回每个自由键的系数。
// 系数 c = min + y₁ + y₂：y₁ 为 [min, 1] 段（收益 v+λ），y₂ 为 [1, max] 段（收益 v−λ）；
// 目标为凹分段线性，y₁ 会先于 y₂ 填满，无需额外约束。
func solveLP(value []float64, rows []stageRow, b model.Bounds, lambda float64) ([]float64, error) {
	k := len(value)
	scale := math.Max(lambda, 1)
	for _, v := range value {
		scale = math.Max(scale, v+lambda)
	}

	keyRows := make([][]colEntry, k)
	lp := &boundedLP{rows: len(rows), rhs: make([]float64, len(rows))}
	for j, row := range rows {
		for i, a := range row.coef {
			keyRows[i] = append(keyRows[i], colEntry{row: j, val: a / row.ceiling})
		}
		lp.rhs[j] = math.Max(row.rhs/row.ceiling, 0)
	}

	mid := clamp(1, b)
	owner := make([]int, 0, 2*k)
	for i, v := range value {
		segments := []struct{ length, gain float64 }{
			{mid - b.Min, v + lambda},
			{b.Max - mid, v - lambda},
		}
		for _, seg := range segments {
			if seg.length <= 0 || seg.gain <= 0 {
				continue
			}
			lp.cols = append(lp.cols, keyRows[i])
			lp.obj = append(lp.obj, seg.gain/scale)
			lp.upper = append(lp.upper, seg.length)
			owner = append(owner, i)
		}
	}

	x, err := lp.solve()
	if err != nil {
		return nil, err
	}
	coeffs := make([]float64, k)
	for i := range coeffs {
		coeffs[i] = b.Min
	}
	for j, v := range x {
		coeffs[owner[j]] += v
	}
	return coeffs, nil
}

// uniformFactor 回退方案：自由键统一取 min(max, 各阶段剩余预算 / 自由金额)
func uniformFactor(rows []stageRow, stageTerms map[string]map[model.UnifiedKey]float64, freeIdx map[model.UnifiedKey]int, b model.Bounds) float64 {
	u := b.Max
	for _, row := range rows {
		fixed, freeValue := 0.0, 0.0
		for k, a := range stageTerms[row.stage] {
			if _, ok := freeIdx[k]; ok {
				freeValue += a
			} else {
				fixed += a * b.Min
			}
		}
		if freeValue > 0 {
			u = math.Min(u, (row.ceiling-fixed)/freeValue)
		}
	}
	return clamp(u, b)
}

func withinCeilings(rows []stageRow, stageTerms map[string]map[model.UnifiedKey]float64, coeffs map[model.UnifiedKey]float64, forecasts map[string]float64) bool {
	for _, row := range rows {
		total := 0.0
		for k, a := range stageTerms[row.stage] {
			total += a * coeffs[k]
		}
		if total > forecasts[row.stage] {
			return false
		}
	}
	return true
}

func clamp(v float64, b model.Bounds) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

func isIn(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
