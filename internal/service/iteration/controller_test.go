package iteration

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"boqbalance/internal/model"
	"boqbalance/internal/service/calculator"
	"boqbalance/internal/service/matching"
	"boqbalance/internal/service/session"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func newTestSession(t *testing.T) (*session.Session, *matching.Matcher) {
	t.Helper()
	s := session.New("s1", "test", model.OptimizeParams{Bounds: model.Bounds{Min: 0.4, Max: 2}, Lambda: 10})
	s.AddDocument(model.Document{FileID: "f1", Items: []model.LineItem{
		{StageCode: "S1", Name: "Excavation", Unit: "m3", Quantity: 100, SourceFileID: "f1", SourceRow: 2},
		{StageCode: "S2", Name: "Concrete", Unit: "m3", Quantity: 10, SourceFileID: "f1", SourceRow: 3},
	}})
	s.AddDocument(model.Document{FileID: "f2", Items: []model.LineItem{
		{StageCode: "S1", Name: "excavation.", Unit: "m³", Quantity: 50, SourceFileID: "f2", SourceRow: 2},
		{StageCode: "S2", Name: "Scaffolding", Unit: "m2", Quantity: 5, SourceFileID: "f2", SourceRow: 3},
	}})
	s.SetCatalogue([]model.CatalogueEntry{
		{ID: "exc", Name: "Excavation", Unit: "m3", BasePrice: 10},
		{ID: "con", Name: "Concrete", Unit: "m3", BasePrice: 100},
	})
	if err := s.SetForecasts([]model.StageForecast{{StageCode: "S1", Amount: 1800}, {StageCode: "S2", Amount: 1200}}); err != nil {
		t.Fatalf("SetForecasts: %v", err)
	}

	m := matching.New(nil, matching.DefaultOptions(), nil)
	snap := s.Snapshot()
	res, err := m.MatchAll(context.Background(), snap.LineItems(), snap.Catalogue, nil)
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}
	if err := s.CommitMatch(snap.Version, res); err != nil {
		t.Fatalf("CommitMatch: %v", err)
	}
	return s, m
}

// TestOptimizeSharedCoefficients 测试同一统一键在多个文件中取相同系数
func TestOptimizeSharedCoefficients(t *testing.T) {
	s, m := newTestSession(t)
	snap := s.Snapshot()
	c := NewController(nil, nil, nil)

	res, err := c.Optimize(snap, snap.Match, 1, nil)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if res.Status != model.SolverOptimal {
		t.Fatalf("status = %s", res.Status)
	}
	if len(res.Coefficients) != 2 {
		t.Fatalf("coefficients = %d, want 2", len(res.Coefficients))
	}

	key := m.KeyOf("Excavation", "m3")
	var seen []float64
	for _, ib := range res.Items {
		if ib.Key == key {
			seen = append(seen, ib.Coefficient)
		}
	}
	if len(seen) != 2 || seen[0] != seen[1] {
		t.Fatalf("excavation coefficients across files = %v", seen)
	}
	if !floatEquals(seen[0], 1.2) {
		t.Fatalf("excavation coefficient = %v, want 1.2", seen[0])
	}

	for _, sb := range res.PerStage {
		if sb.Proposed > sb.Forecast {
			t.Errorf("stage %s proposed %v > forecast %v", sb.StageCode, sb.Proposed, sb.Forecast)
		}
		if sb.Gap < 0 {
			t.Errorf("stage %s gap %v < 0", sb.StageCode, sb.Gap)
		}
	}
	if !floatEquals(res.OverallForecast, 3000) || !floatEquals(res.OverallProposed, 3000) {
		t.Errorf("overall = %v / %v", res.OverallProposed, res.OverallForecast)
	}

	var unmatched int
	for _, fb := range res.PerFile {
		unmatched += fb.Unmatched
	}
	if unmatched != 1 {
		t.Errorf("unmatched items in file breakdown = %d, want 1", unmatched)
	}
	last := res.Items[len(res.Items)-1]
	if last.Matched || last.Total != 0 {
		t.Errorf("unmatched item should contribute nothing: %+v", last)
	}
}

// TestOptimizeNotReady 测试前置条件
func TestOptimizeNotReady(t *testing.T) {
	c := NewController(nil, nil, nil)

	empty := session.New("s", "", model.OptimizeParams{Bounds: model.Bounds{Min: 0.4, Max: 2}})
	if _, err := c.Optimize(empty.Snapshot(), model.NewMatchResult(), 1, nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("no documents err = %v", err)
	}

	s, _ := newTestSession(t)
	snap := s.Snapshot()
	if _, err := c.Optimize(snap, nil, 1, nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("nil match err = %v", err)
	}
	snap.Forecasts = map[string]float64{}
	if _, err := c.Optimize(snap, snap.Match, 1, nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("no forecasts err = %v", err)
	}
}

// TestOptimizeStaleMatch 测试匹配结果未覆盖新文件
func TestOptimizeStaleMatch(t *testing.T) {
	s, _ := newTestSession(t)
	s.AddDocument(model.Document{FileID: "f3", Items: []model.LineItem{
		{StageCode: "S1", Name: "Backfill", Unit: "m3", Quantity: 1, SourceFileID: "f3", SourceRow: 2},
	}})
	snap := s.Snapshot()
	if snap.MatchCurrent {
		t.Fatal("match should be stale")
	}
	if _, err := NewController(nil, nil, nil).Optimize(snap, snap.Match, 1, nil); !errors.Is(err, ErrStaleMatch) {
		t.Fatalf("err = %v, want ErrStaleMatch", err)
	}
}

// TestOptimizeAdaptsLambda 测试根据上一轮缺口调整 λ，且不修改上一轮结果
func TestOptimizeAdaptsLambda(t *testing.T) {
	s, _ := newTestSession(t)
	snap := s.Snapshot()
	adj := calculator.NewAdjuster(calculator.AdaptiveConfig{TargetGapPercent: 2, GapTolerancePercent: 1, MinLambda: 1, MaxLambda: 1e6})
	c := NewController(nil, adj, nil)

	previous := &model.IterationResult{
		Iteration:       1,
		OverallForecast: 3000,
		OverallGap:      600,
		Status:          model.SolverOptimal,
		Params:          model.OptimizeParams{Bounds: model.Bounds{Min: 0.4, Max: 2}, Lambda: 40},
		Coefficients:    map[model.UnifiedKey]model.CoefficientAssignment{},
	}
	before := *previous

	res, err := c.Optimize(snap, snap.Match, 2, previous)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if res.Params.Lambda != 20 {
		t.Fatalf("lambda = %v, want 20 (halved from previous)", res.Params.Lambda)
	}
	if res.Params.Bounds != snap.Params.Bounds {
		t.Fatalf("bounds changed: %+v", res.Params.Bounds)
	}
	if !reflect.DeepEqual(before, *previous) {
		t.Fatal("previous iteration was mutated")
	}
	if res.Iteration != 2 {
		t.Fatalf("iteration = %d, want 2", res.Iteration)
	}

	again, err := c.Optimize(snap, snap.Match, 2, previous)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if again.Params != res.Params || !reflect.DeepEqual(again.Coefficients, res.Coefficients) {
		t.Fatal("same inputs should give the same parameters and coefficients")
	}
}

// TestOptimizeUsesSessionParamsAfterEdit 测试会话参数修改后不沿用上一轮 λ
func TestOptimizeUsesSessionParamsAfterEdit(t *testing.T) {
	s, _ := newTestSession(t)
	adj := calculator.NewAdjuster(calculator.AdaptiveConfig{TargetGapPercent: 2, GapTolerancePercent: 1, MinLambda: 1, MaxLambda: 1e6})
	c := NewController(nil, adj, nil)

	previous := &model.IterationResult{Iteration: 1, OverallForecast: 100, OverallGap: 2, Params: model.OptimizeParams{Lambda: 999}}
	if err := s.AppendIteration(s.Version(), previous); err != nil {
		t.Fatalf("AppendIteration: %v", err)
	}
	s.SetParams(model.OptimizeParams{Bounds: model.Bounds{Min: 0.5, Max: 1.5}, Lambda: 7})

	got := c.NextParams(s.Snapshot(), previous)
	if got.Lambda != 7 || got.Bounds.Min != 0.5 {
		t.Fatalf("params = %+v, want session params", got)
	}
}
