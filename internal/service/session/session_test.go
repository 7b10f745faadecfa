package session

import (
	"errors"
	"sync"
	"testing"

	"boqbalance/internal/model"
)

func testParams() model.OptimizeParams {
	return model.OptimizeParams{Bounds: model.Bounds{Min: 0.4, Max: 2}, Lambda: 500}
}

func testDocument(id string, qty float64) model.Document {
	return model.Document{
		FileID:   id,
		FileName: id + ".xlsx",
		Items: []model.LineItem{
			{StageCode: "S1", Name: "Excavation", Unit: "m3", Quantity: qty, SourceFileID: id, SourceRow: 2},
		},
	}
}

// TestNewSession 测试创建会话
func TestNewSession(t *testing.T) {
	s := New("s1", "Tower A", testParams())
	if s.ID() != "s1" || s.Name() != "Tower A" {
		t.Fatalf("unexpected identity: %s %s", s.ID(), s.Name())
	}
	if s.Version() != 0 {
		t.Errorf("new session version = %d, want 0", s.Version())
	}
	if _, ok := s.Selected(); ok {
		t.Error("new session should have no selected iteration")
	}
}

// TestAddDocumentReplacesSameFile 测试同一文件重复上传覆盖
func TestAddDocumentReplacesSameFile(t *testing.T) {
	s := New("s1", "", testParams())
	s.AddDocument(testDocument("f1", 10))
	s.AddDocument(testDocument("f2", 20))
	s.AddDocument(testDocument("f1", 30))

	snap := s.Snapshot()
	if len(snap.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(snap.Documents))
	}
	if snap.Documents[0].FileID != "f1" || snap.Documents[0].Items[0].Quantity != 30 {
		t.Fatalf("f1 not replaced in place: %+v", snap.Documents[0])
	}
	if snap.Version != 3 {
		t.Errorf("version = %d, want 3", snap.Version)
	}

	if err := s.RemoveDocument("nope"); !errors.Is(err, ErrUnknownDocument) {
		t.Errorf("RemoveDocument err = %v", err)
	}
	if err := s.RemoveDocument("f2"); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if got := len(s.Snapshot().Documents); got != 1 {
		t.Errorf("documents after remove = %d, want 1", got)
	}
}

// TestSnapshotIsolation 测试快照与会话互不影响
func TestSnapshotIsolation(t *testing.T) {
	s := New("s1", "", testParams())
	s.AddDocument(testDocument("f1", 10))
	if err := s.SetForecasts([]model.StageForecast{{StageCode: "S1", Amount: 1000}}); err != nil {
		t.Fatalf("SetForecasts: %v", err)
	}

	snap := s.Snapshot()
	snap.Documents[0].Items[0].Quantity = 999
	snap.Forecasts["S1"] = 1

	again := s.Snapshot()
	if again.Documents[0].Items[0].Quantity != 10 {
		t.Error("snapshot mutation leaked into session documents")
	}
	if again.Forecasts["S1"] != 1000 {
		t.Error("snapshot mutation leaked into session forecasts")
	}
}

// TestStaleSnapshotRejected 测试快照过期后回写被拒绝
func TestStaleSnapshotRejected(t *testing.T) {
	s := New("s1", "", testParams())
	s.AddDocument(testDocument("f1", 10))

	snap := s.Snapshot()
	if err := s.SetForecast("S1", 500); err != nil {
		t.Fatalf("SetForecast: %v", err)
	}

	err := s.AppendIteration(snap.Version, &model.IterationResult{Iteration: 1})
	if !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("AppendIteration err = %v, want ErrStaleSnapshot", err)
	}
	if err := s.CommitMatch(snap.Version, model.NewMatchResult()); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("CommitMatch err = %v, want ErrStaleSnapshot", err)
	}

	fresh := s.Snapshot()
	if err := s.AppendIteration(fresh.Version, &model.IterationResult{Iteration: 1}); err != nil {
		t.Fatalf("AppendIteration: %v", err)
	}
	if len(s.History()) != 1 {
		t.Fatalf("history = %d, want 1", len(s.History()))
	}
}

// TestSelectIteration 测试固定与取消固定导出迭代
func TestSelectIteration(t *testing.T) {
	s := New("s1", "", testParams())
	for i := 1; i <= 3; i++ {
		if err := s.AppendIteration(s.Version(), &model.IterationResult{Iteration: i}); err != nil {
			t.Fatalf("AppendIteration: %v", err)
		}
	}

	if r, _ := s.Selected(); r.Iteration != 3 {
		t.Fatalf("default selected = %d, want latest 3", r.Iteration)
	}
	if err := s.Select(2); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := s.AppendIteration(s.Version(), &model.IterationResult{Iteration: 4}); err != nil {
		t.Fatalf("AppendIteration: %v", err)
	}
	if r, _ := s.Selected(); r.Iteration != 2 {
		t.Fatalf("pinned selected = %d, want 2", r.Iteration)
	}
	if err := s.Select(9); !errors.Is(err, ErrUnknownIteration) {
		t.Fatalf("Select(9) err = %v", err)
	}
	if err := s.Select(0); err != nil {
		t.Fatalf("Select(0): %v", err)
	}
	if r, _ := s.Selected(); r.Iteration != 4 {
		t.Fatalf("unpinned selected = %d, want 4", r.Iteration)
	}
}

// TestUpdateMatch 测试写锁内修改匹配结果
func TestUpdateMatch(t *testing.T) {
	s := New("s1", "", testParams())
	if err := s.UpdateMatch(func(*model.MatchResult) error { return nil }); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("UpdateMatch without match err = %v", err)
	}

	r := model.NewMatchResult()
	r.Groups["a|m"] = &model.KeyGroup{Key: "a|m"}
	r.Order = append(r.Order, "a|m")
	if err := s.CommitMatch(s.Version(), r); err != nil {
		t.Fatalf("CommitMatch: %v", err)
	}

	boom := errors.New("boom")
	if err := s.UpdateMatch(func(m *model.MatchResult) error {
		m.Decisions["a|m"] = &model.MatchDecision{Key: "a|m"}
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("UpdateMatch err = %v", err)
	}
	if _, ok := s.Match().Decision("a|m"); ok {
		t.Fatal("failed update must not be applied")
	}

	if err := s.UpdateMatch(func(m *model.MatchResult) error {
		m.Decisions["a|m"] = &model.MatchDecision{Key: "a|m", IsManualOverride: true}
		return nil
	}); err != nil {
		t.Fatalf("UpdateMatch: %v", err)
	}
	if d, ok := s.Match().Decision("a|m"); !ok || !d.IsManualOverride {
		t.Fatal("update not applied")
	}
}

// TestStateRoundTrip 测试持久化状态导出与恢复
func TestStateRoundTrip(t *testing.T) {
	s := New("s1", "Tower A", testParams())
	s.AddDocument(testDocument("f1", 10))
	s.AppendCatalogue([]model.CatalogueEntry{{ID: "c1", Name: "Excavation", Unit: "m3", BasePrice: 10}})
	if err := s.SetForecasts([]model.StageForecast{{StageCode: "S2", Amount: 50}, {StageCode: "S1", Amount: 100}}); err != nil {
		t.Fatalf("SetForecasts: %v", err)
	}
	r := model.NewMatchResult()
	r.Groups["excavation|m3"] = &model.KeyGroup{Key: "excavation|m3"}
	r.Order = []model.UnifiedKey{"excavation|m3"}
	r.Decisions["excavation|m3"] = &model.MatchDecision{Key: "excavation|m3", Entry: model.CatalogueEntry{ID: "c1"}, IsManualOverride: true}
	if err := s.CommitMatch(s.Version(), r); err != nil {
		t.Fatalf("CommitMatch: %v", err)
	}

	st := s.State()
	if len(st.Overrides) != 1 || st.Forecasts[0].StageCode != "S1" {
		t.Fatalf("state = %+v", st)
	}

	history := []*model.IterationResult{{Iteration: 2}, {Iteration: 1}}
	st.Selected = 1
	restored := Restore(st, history)
	if restored.Name() != "Tower A" || len(restored.Forecasts()) != 2 {
		t.Fatalf("restored session mismatch: %+v", restored.Summary())
	}
	if h := restored.History(); h[0].Iteration != 1 || h[1].Iteration != 2 {
		t.Fatalf("history not sorted: %d %d", h[0].Iteration, h[1].Iteration)
	}
	if sel, _ := restored.Selected(); sel.Iteration != 1 {
		t.Fatalf("selected = %d, want 1", sel.Iteration)
	}

	prev := OverridesAsPrevious(st.Overrides)
	if d, ok := prev.Decision("excavation|m3"); !ok || !d.IsManualOverride {
		t.Fatal("override not carried into previous result")
	}
}

// TestConcurrentAccess 测试并发读写
func TestConcurrentAccess(t *testing.T) {
	s := New("s1", "", testParams())
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			s.AddDocument(testDocument("f", float64(i+1)))
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
			_ = s.Summary()
		}()
		go func(i int) {
			defer wg.Done()
			_ = s.SetForecast("S1", float64(i+1))
		}(i)
	}
	wg.Wait()

	if got := s.Version(); got != 100 {
		t.Errorf("version = %d, want 100", got)
	}
}

// TestRegistry 测试会话注册表
func TestRegistry(t *testing.T) {
	reg := NewRegistry(testParams())
	a := reg.Create("A")
	reg.Create("B")

	if reg.Count() != 2 {
		t.Fatalf("count = %d, want 2", reg.Count())
	}
	got, err := reg.Get(a.ID())
	if err != nil || got != a {
		t.Fatalf("Get: %v", err)
	}
	if got.Params() != testParams() {
		t.Errorf("new session should inherit default params")
	}
	if len(reg.List()) != 2 {
		t.Errorf("List len = %d", len(reg.List()))
	}
	if err := reg.Delete(a.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := reg.Get(a.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if err := reg.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete missing err = %v", err)
	}
}

// TestMatchCurrent 测试清单变化后匹配结果标记为过期
func TestMatchCurrent(t *testing.T) {
	s := New("s1", "", testParams())
	s.AddDocument(testDocument("f1", 10))
	if s.Snapshot().MatchCurrent {
		t.Fatal("no match yet")
	}

	if err := s.CommitMatch(s.Version(), model.NewMatchResult()); err != nil {
		t.Fatalf("CommitMatch: %v", err)
	}
	if !s.Snapshot().MatchCurrent {
		t.Fatal("match should be current after commit")
	}

	if err := s.SetForecast("S1", 100); err != nil {
		t.Fatalf("SetForecast: %v", err)
	}
	if !s.Snapshot().MatchCurrent {
		t.Fatal("forecast edits must not invalidate the match")
	}

	s.AddDocument(testDocument("f2", 5))
	if s.Snapshot().MatchCurrent {
		t.Fatal("new document should invalidate the match")
	}
}
