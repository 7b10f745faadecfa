package calculator

import (
	"math"
	"testing"

	"boqbalance/internal/model"
)

func TestValidateProblemMessages(t *testing.T) {
	p := Problem{
		Forecasts: map[string]float64{"S1": -1},
		Params:    model.OptimizeParams{Bounds: model.Bounds{Min: 2, Max: 1}, Lambda: -3},
	}
	errs := ValidateProblem(p)

	for _, want := range []string{"系数下限必须小于上限", "惩罚系数 λ 不能为负数", "阶段 S1 的预算必须大于 0"} {
		if !containsString(errs, want) {
			t.Errorf("expected %q in %v", want, errs)
		}
	}
}

func TestValidateProblemNaN(t *testing.T) {
	p := Problem{Params: model.OptimizeParams{Bounds: model.Bounds{Min: math.Inf(-1), Max: 1}}}
	errs := ValidateProblem(p)
	if !containsString(errs, "参数不能为 NaN 或无穷大") {
		t.Fatalf("expected NaN rule error, got: %v", errs)
	}
}

func TestValidateProblemOK(t *testing.T) {
	p := Problem{
		Terms:     []CostTerm{{Key: "a|m", Stage: "S1", Value: 10}},
		Forecasts: map[string]float64{"S1": 100},
		Params:    params(0.4, 2, 0),
	}
	if errs := ValidateProblem(p); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func containsString(items []string, want string) bool {
	for _, it := range items {
		if it == want {
			return true
		}
	}
	return false
}
