package calculator

import (
	"testing"

	"boqbalance/internal/model"
)

func resultWithGap(gapPercent float64, status model.SolverStatus) *model.IterationResult {
	return &model.IterationResult{
		OverallForecast: 10000,
		OverallGap:      gapPercent * 100,
		Status:          status,
	}
}

func TestAdjusterNext(t *testing.T) {
	a := NewAdjuster(AdaptiveConfig{TargetGapPercent: 2, GapTolerancePercent: 1, MinLambda: 10, MaxLambda: 1000})
	base := params(0.4, 2, 100)

	tests := []struct {
		name     string
		params   model.OptimizeParams
		previous *model.IterationResult
		want     float64
	}{
		{"no previous", base, nil, 100},
		{"gap too large", base, resultWithGap(10, model.SolverOptimal), 50},
		{"gap too small", base, resultWithGap(0.5, model.SolverOptimal), 200},
		{"gap in band", base, resultWithGap(2.5, model.SolverOptimal), 100},
		{"infeasible", base, resultWithGap(10, model.SolverInfeasible), 200},
		{"floor", params(0.4, 2, 12), resultWithGap(10, model.SolverOptimal), 10},
		{"cap", params(0.4, 2, 800), resultWithGap(0, model.SolverOptimal), 1000},
		{"zero lambda grows to floor", params(0.4, 2, 0), resultWithGap(0, model.SolverOptimal), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Next(tt.params, tt.previous)
			if got.Lambda != tt.want {
				t.Fatalf("lambda = %v, want %v", got.Lambda, tt.want)
			}
			if got.Bounds != tt.params.Bounds {
				t.Fatalf("bounds changed: %+v -> %+v", tt.params.Bounds, got.Bounds)
			}
		})
	}
}

func TestAdjusterDeterministic(t *testing.T) {
	a := NewAdjuster(DefaultAdaptiveConfig())
	prev := resultWithGap(7, model.SolverOptimal)
	first := a.Next(params(0.4, 2, 640), prev)
	for i := 0; i < 10; i++ {
		if got := a.Next(params(0.4, 2, 640), prev); got != first {
			t.Fatalf("run %d = %+v, want %+v", i, got, first)
		}
	}
}
