package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"boqbalance/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "data", "boqbalance.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testIteration(n int, lambda float64) *model.IterationResult {
	return &model.IterationResult{
		Iteration: n,
		Coefficients: map[model.UnifiedKey]model.CoefficientAssignment{
			"excavation|m3": {Key: "excavation|m3", EntryID: "exc", Coefficient: 1.2, BasePrice: 10, WorkPrice: 12},
		},
		PerStage:        []model.StageBreakdown{{StageCode: "S1", Forecast: 1800, Proposed: 1800}},
		OverallProposed: 1800,
		OverallForecast: 1800,
		Status:          model.SolverOptimal,
		ObjectiveValue:  1795,
		Params:          model.OptimizeParams{Bounds: model.Bounds{Min: 0.4, Max: 2}, Lambda: lambda},
		CreatedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

// TestIterationsRoundTrip 测试迭代结果保存与读取
func TestIterationsRoundTrip(t *testing.T) {
	st := openTestStore(t)

	if err := st.SaveIteration("s1", testIteration(1, 500)); err != nil {
		t.Fatalf("SaveIteration: %v", err)
	}
	if err := st.SaveIteration("s1", testIteration(2, 250)); err != nil {
		t.Fatalf("SaveIteration: %v", err)
	}
	if err := st.SaveIteration("s2", testIteration(1, 1)); err != nil {
		t.Fatalf("SaveIteration: %v", err)
	}
	// 同一轮次覆盖
	if err := st.SaveIteration("s1", testIteration(2, 125)); err != nil {
		t.Fatalf("SaveIteration overwrite: %v", err)
	}

	rows, err := st.ListIterations("s1")
	if err != nil {
		t.Fatalf("ListIterations: %v", err)
	}
	if len(rows) != 2 || rows[0].Number != 1 || rows[1].Lambda != 125 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Status != model.SolverOptimal {
		t.Errorf("status = %s", rows[0].Status)
	}

	got, err := st.GetIteration("s1", 1)
	if err != nil {
		t.Fatalf("GetIteration: %v", err)
	}
	ca := got.Coefficients["excavation|m3"]
	if ca.Coefficient != 1.2 || ca.EntryID != "exc" {
		t.Fatalf("coefficient = %+v", ca)
	}
	if !got.CreatedAt.Equal(testIteration(1, 0).CreatedAt) {
		t.Errorf("createdAt = %v", got.CreatedAt)
	}

	if _, err := st.GetIteration("s1", 9); !errors.Is(err, ErrIterationNotFound) {
		t.Fatalf("missing iteration err = %v", err)
	}

	history, err := st.LoadHistory("s1")
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 2 || history[1].Params.Lambda != 125 {
		t.Fatalf("history = %d entries", len(history))
	}
}

// TestOverrideAudit 测试人工覆盖审计
func TestOverrideAudit(t *testing.T) {
	st := openTestStore(t)
	d := model.MatchDecision{Key: "excavation|m3", Entry: model.CatalogueEntry{ID: "exc", Name: "Excavation"}, Score: 0.8, IsManualOverride: true}

	if err := st.RecordOverride("s1", d, OverrideSet); err != nil {
		t.Fatalf("RecordOverride: %v", err)
	}
	if err := st.RecordOverride("s1", d, OverrideClear); err != nil {
		t.Fatalf("RecordOverride: %v", err)
	}

	recs, err := st.ListOverrides("s1")
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	if len(recs) != 2 || recs[0].Action != OverrideSet || recs[1].Action != OverrideClear {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Key != "excavation|m3" || recs[0].EntryName != "Excavation" {
		t.Errorf("record = %+v", recs[0])
	}
}

// TestImportLogs 测试导入日志
func TestImportLogs(t *testing.T) {
	st := openTestStore(t)

	id, err := st.CreateImportLog("s1", "boq", "tower.xlsx", "/tmp/tower.xlsx", 1024, "abc")
	if err != nil {
		t.Fatalf("CreateImportLog: %v", err)
	}
	if err := st.UpdateImportLog(id, 2, 40, 38, 2, "success", ""); err != nil {
		t.Fatalf("UpdateImportLog: %v", err)
	}

	logs, err := st.ListImportLogs("s1")
	if err != nil {
		t.Fatalf("ListImportLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	l := logs[0]
	if l.Kind != "boq" || l.ImportedRows != 38 || l.Status != "success" || l.CompletedAt == nil {
		t.Fatalf("log = %+v", l)
	}
}

// TestConfigKV 测试键值配置
func TestConfigKV(t *testing.T) {
	st := openTestStore(t)

	if _, err := st.GetConfig("export_folder"); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("missing key err = %v", err)
	}
	if err := st.SetConfig("export_folder", "reports"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if err := st.SetConfig("export_folder", "out"); err != nil {
		t.Fatalf("SetConfig upsert: %v", err)
	}
	if v, _ := st.GetConfig("export_folder"); v != "out" {
		t.Fatalf("value = %q, want out", v)
	}

	if err := st.SetConfigFloat("table_zoom", 312.5); err != nil {
		t.Fatalf("SetConfigFloat: %v", err)
	}
	if v, err := st.GetConfigFloat("table_zoom"); err != nil || v != 312.5 {
		t.Fatalf("GetConfigFloat = %v, %v", v, err)
	}

	all, err := st.GetAllConfig()
	if err != nil || len(all) != 2 {
		t.Fatalf("GetAllConfig = %v, %v", all, err)
	}
	if err := st.DeleteConfig("export_folder"); err != nil {
		t.Fatalf("DeleteConfig: %v", err)
	}
	if _, err := st.GetConfig("export_folder"); !errors.Is(err, ErrConfigNotFound) {
		t.Fatal("key should be deleted")
	}
}

// TestDeleteSession 测试删除会话历史
func TestDeleteSession(t *testing.T) {
	st := openTestStore(t)
	if err := st.SaveIteration("s1", testIteration(1, 1)); err != nil {
		t.Fatalf("SaveIteration: %v", err)
	}
	if err := st.RecordOverride("s1", model.MatchDecision{Key: "a|m"}, OverrideSet); err != nil {
		t.Fatalf("RecordOverride: %v", err)
	}
	if err := st.DeleteSession("s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if rows, _ := st.ListIterations("s1"); len(rows) != 0 {
		t.Fatalf("iterations left: %d", len(rows))
	}
	if recs, _ := st.ListOverrides("s1"); len(recs) != 0 {
		t.Fatalf("overrides left: %d", len(recs))
	}
}

// TestBackup 测试数据库快照备份
func TestBackup(t *testing.T) {
	st := openTestStore(t)
	if err := st.SaveIteration("s1", testIteration(1, 1000)); err != nil {
		t.Fatalf("SaveIteration: %v", err)
	}

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	path, err := st.Backup(filepath.Join(t.TempDir(), "backups"), now)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if filepath.Base(path) != "boqbalance-20260301-100000.db" {
		t.Fatalf("backup path = %s", path)
	}

	backup, err := New(path)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer backup.Close()
	got, err := backup.GetIteration("s1", 1)
	if err != nil || got.Iteration != 1 {
		t.Fatalf("backup GetIteration = %v, %v", got, err)
	}

	if _, err := st.Backup(filepath.Dir(path), now); err == nil {
		t.Fatal("expected error for existing backup")
	}
}
