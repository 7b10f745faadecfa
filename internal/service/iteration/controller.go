// Package iteration 多文件迭代控制：聚合全部清单求解一次，再把统一系数展开到文件、阶段、行
package iteration

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boqbalance/internal/model"
	"boqbalance/internal/service/calculator"
	"boqbalance/internal/service/session"
)

var (
	ErrNotReady   = errors.New("session is not ready for optimization")
	ErrStaleMatch = errors.New("match result does not cover current documents")
)

// Controller 迭代控制器（不持有会话状态）
type Controller struct {
	optimizer *calculator.Optimizer
	adjuster  *calculator.Adjuster // nil 表示不做自适应
	logger    *slog.Logger
	now       func() time.Time
}

// NewController 创建控制器
func NewController(optimizer *calculator.Optimizer, adjuster *calculator.Adjuster, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if optimizer == nil {
		optimizer = calculator.NewOptimizer(logger)
	}
	return &Controller{
		optimizer: optimizer,
		adjuster:  adjuster,
		logger:    logger,
		now:       time.Now,
	}
}

// NextParams 本轮实际使用的参数。
// 会话参数在上一轮之后未被修改时，λ 沿用上一轮的值再做自适应；边界始终取会话参数。
func (c *Controller) NextParams(snap *session.Snapshot, previous *model.IterationResult) model.OptimizeParams {
	params := snap.Params
	if previous == nil || c.adjuster == nil {
		return params
	}
	if previous.Iteration > snap.ParamsEpoch {
		params.Lambda = previous.Params.Lambda
	}
	return c.adjuster.Next(params, previous)
}

// Optimize 执行一轮求解，返回新的迭代结果；不修改 previous
func (c *Controller) Optimize(snap *session.Snapshot, match *model.MatchResult, iteration int, previous *model.IterationResult) (*model.IterationResult, error) {
	if err := checkReady(snap, match); err != nil {
		return nil, err
	}

	keyOf := make(map[model.LineItem]model.UnifiedKey)
	for _, key := range match.Order {
		for _, item := range match.Groups[key].Occurrences {
			keyOf[item] = key
		}
	}

	params := c.NextParams(snap, previous)
	terms := calculator.AggregateTerms(match)
	sol, err := c.optimizer.Solve(calculator.Problem{
		Terms:     terms,
		Forecasts: snap.Forecasts,
		Params:    params,
	})
	if err != nil {
		return nil, fmt.Errorf("iteration %d: %w", iteration, err)
	}

	result := &model.IterationResult{
		Iteration:      iteration,
		Coefficients:   make(map[model.UnifiedKey]model.CoefficientAssignment),
		Status:         sol.Status,
		ObjectiveValue: sol.Objective,
		DurationMs:     sol.Duration.Milliseconds(),
		Params:         params,
		CreatedAt:      c.now(),
	}
	for _, key := range match.Order {
		d, ok := match.Decision(key)
		if !ok {
			continue
		}
		coeff, ok := sol.Coefficients[key]
		if !ok {
			coeff = 1
		}
		result.Coefficients[key] = model.CoefficientAssignment{
			Key:         key,
			EntryID:     d.Entry.ID,
			Coefficient: coeff,
			BasePrice:   d.Entry.BasePrice,
			WorkPrice:   d.Entry.BasePrice * coeff,
		}
	}

	ledger := calculator.NewLedger()
	for _, doc := range snap.Documents {
		for _, item := range doc.Items {
			key, ok := keyOf[item]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrStaleMatch, item.Ref())
			}
			ib := model.ItemBreakdown{Item: item, Key: key}
			if ca, ok := result.Coefficients[key]; ok {
				d, _ := match.Decision(key)
				ib.Matched = true
				ib.EntryName = d.Entry.Name
				ib.Coefficient = ca.Coefficient
				ib.BasePrice = ca.BasePrice
				ib.WorkPrice = ca.WorkPrice
				ib.Total = item.Quantity * ca.WorkPrice
			}
			ledger.Add(item, item.Quantity*ib.BasePrice, ib.Total, ib.Matched)
			result.Items = append(result.Items, ib)
		}
	}

	result.PerStage = ledger.StageBreakdown(snap.Forecasts, sol.InfeasibleStages)
	result.PerFile = ledger.FileBreakdown()
	for _, sb := range result.PerStage {
		if _, ok := snap.Forecasts[sb.StageCode]; !ok {
			continue
		}
		result.OverallForecast += sb.Forecast
		result.OverallProposed += sb.Proposed
	}
	result.OverallGap = result.OverallForecast - result.OverallProposed

	c.logger.Info("iteration complete",
		"session", snap.ID,
		"iteration", iteration,
		"status", result.Status,
		"lambda", params.Lambda,
		"gap_percent", result.GapPercent(),
		"coefficients", len(result.Coefficients),
	)
	return result, nil
}

func checkReady(snap *session.Snapshot, match *model.MatchResult) error {
	if snap == nil {
		return ErrNotReady
	}
	items := 0
	for _, d := range snap.Documents {
		items += len(d.Items)
	}
	if items == 0 {
		return fmt.Errorf("%w: no documents", ErrNotReady)
	}
	if len(snap.Forecasts) == 0 {
		return fmt.Errorf("%w: no stage forecasts", ErrNotReady)
	}
	if match == nil {
		return fmt.Errorf("%w: documents have not been matched", ErrNotReady)
	}
	return nil
}
