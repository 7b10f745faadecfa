package calculator

import "boqbalance/internal/model"

// AdaptiveConfig λ 自适应调整参数（百分比均相对总预算）
type AdaptiveConfig struct {
	TargetGapPercent    float64 `toml:"target_gap_percent"`
	GapTolerancePercent float64 `toml:"gap_tolerance_percent"`
	MinLambda           float64 `toml:"min_lambda"`
	MaxLambda           float64 `toml:"max_lambda"`
}

// DefaultAdaptiveConfig 默认自适应参数
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		TargetGapPercent:    2,
		GapTolerancePercent: 1,
		MinLambda:           1,
		MaxLambda:           1e7,
	}
}

// Adjuster 根据上一轮结果调整下一轮参数；同一输入总是得到同一输出
type Adjuster struct {
	cfg AdaptiveConfig
}

// NewAdjuster 创建调整器
func NewAdjuster(cfg AdaptiveConfig) *Adjuster {
	if cfg.MinLambda < 0 {
		cfg.MinLambda = 0
	}
	if cfg.MaxLambda < cfg.MinLambda {
		cfg.MaxLambda = cfg.MinLambda
	}
	if cfg.GapTolerancePercent < 0 {
		cfg.GapTolerancePercent = 0
	}
	return &Adjuster{cfg: cfg}
}

// Next 计算下一轮参数。
// 缺口过大：λ 减半（允许更多偏离以用足预算）；
// 上一轮不可行或缺口过小：λ 加倍（向基价收拢）；
// 其余情况不变。系数上下限从不自动放宽。
func (a *Adjuster) Next(params model.OptimizeParams, previous *model.IterationResult) model.OptimizeParams {
	if previous == nil {
		return params
	}

	gap := previous.GapPercent()
	next := params
	switch {
	case previous.Status == model.SolverInfeasible || gap < a.cfg.TargetGapPercent-a.cfg.GapTolerancePercent:
		next.Lambda = params.Lambda * 2
		if next.Lambda < a.cfg.MinLambda {
			next.Lambda = a.cfg.MinLambda
		}
		if next.Lambda > a.cfg.MaxLambda {
			next.Lambda = a.cfg.MaxLambda
		}
	case gap > a.cfg.TargetGapPercent+a.cfg.GapTolerancePercent:
		next.Lambda = params.Lambda * 0.5
		if next.Lambda < a.cfg.MinLambda {
			next.Lambda = a.cfg.MinLambda
		}
	}
	return next
}
