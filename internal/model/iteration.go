package model

import "time"

// SolverStatus 求解状态
type SolverStatus string

const (
	SolverOptimal    SolverStatus = "OPTIMAL"
	SolverFeasible   SolverStatus = "FEASIBLE"
	SolverInfeasible SolverStatus = "INFEASIBLE"
)

// Ok 是否满足全部阶段上限
func (s SolverStatus) Ok() bool {
	return s == SolverOptimal || s == SolverFeasible
}

// Bounds 系数上下限
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// OptimizeParams 单次求解参数
type OptimizeParams struct {
	Bounds Bounds  `json:"bounds"`
	Lambda float64 `json:"lambda"` // L1 偏离惩罚权重
}

// CoefficientAssignment 统一键的调整系数
type CoefficientAssignment struct {
	Key         UnifiedKey `json:"key"`
	EntryID     string     `json:"entryId"`
	Coefficient float64    `json:"coefficient"`
	BasePrice   float64    `json:"basePrice"`
	WorkPrice   float64    `json:"workPrice"` // 导出时按币种精度取整
}

// StageBreakdown 阶段汇总
type StageBreakdown struct {
	StageCode  string  `json:"stageCode"`
	Forecast   float64 `json:"forecast"`
	BaseTotal  float64 `json:"baseTotal"` // 系数为 1 时的金额
	Proposed   float64 `json:"proposed"`
	Gap        float64 `json:"gap"`        // forecast - proposed
	GapPercent float64 `json:"gapPercent"` // gap / forecast * 100
	ItemCount  int     `json:"itemCount"`
	Infeasible bool    `json:"infeasible"`
}

// FileBreakdown 单文件单阶段汇总
type FileBreakdown struct {
	SourceFileID string  `json:"sourceFileId"`
	StageCode    string  `json:"stageCode"`
	BaseTotal    float64 `json:"baseTotal"`
	Proposed     float64 `json:"proposed"`
	ItemCount    int     `json:"itemCount"`
	Unmatched    int     `json:"unmatched"`
}

// ItemBreakdown 单行展开结果
type ItemBreakdown struct {
	Item        LineItem   `json:"item"`
	Key         UnifiedKey `json:"key"`
	Matched     bool       `json:"matched"`
	EntryName   string     `json:"entryName,omitempty"`
	Coefficient float64    `json:"coefficient"`
	BasePrice   float64    `json:"basePrice"`
	WorkPrice   float64    `json:"workPrice"`
	Total       float64    `json:"total"`
}

// IterationResult 一次迭代的结果（生成后不可变）
type IterationResult struct {
	Iteration       int                                  `json:"iteration"`
	Coefficients    map[UnifiedKey]CoefficientAssignment `json:"coefficients"`
	PerFile         []FileBreakdown                      `json:"perFile"`
	PerStage        []StageBreakdown                     `json:"perStage"`
	Items           []ItemBreakdown                      `json:"items"`
	OverallProposed float64                              `json:"overallProposed"`
	OverallForecast float64                              `json:"overallForecast"`
	OverallGap      float64                              `json:"overallGap"`
	Status          SolverStatus                         `json:"status"`
	ObjectiveValue  float64                              `json:"objectiveValue"`
	DurationMs      int64                                `json:"durationMs"`
	Params          OptimizeParams                       `json:"params"`
	CreatedAt       time.Time                            `json:"createdAt"`
}

// GapPercent 总体缺口占预算百分比
func (r *IterationResult) GapPercent() float64 {
	if r == nil || r.OverallForecast == 0 {
		return 0
	}
	return r.OverallGap / r.OverallForecast * 100
}

// Stage 按阶段编码查找汇总
func (r *IterationResult) Stage(code string) (StageBreakdown, bool) {
	for _, s := range r.PerStage {
		if s.StageCode == code {
			return s, true
		}
	}
	return StageBreakdown{}, false
}
