package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, dir, name string, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		values := row
		if err := f.SetSheetRow("Sheet1", cell, &values); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	path := filepath.Join(dir, name)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return path
}

func fixtures(t *testing.T) (dir, catalogue, forecast, boq string) {
	t.Helper()
	dir = t.TempDir()
	catalogue = writeWorkbook(t, dir, "prices.xlsx", [][]interface{}{
		{"Code", "Name", "Unit", "Unit price"},
		{"exc", "Excavation", "m3", 10},
		{"con", "Concrete", "m3", 100},
	})
	forecast = writeWorkbook(t, dir, "budget.xlsx", [][]interface{}{
		{"Stage", "Budget"},
		{"S1", 1200},
		{"S2", 1100},
	})
	boq = writeWorkbook(t, dir, "tower.xlsx", [][]interface{}{
		{"Stage", "Description", "Unit", "Qty"},
		{"S1", "Excavation", "m3", 100},
		{"S2", "Concrete", "m3", 10},
		{"S2", "Scaffolding", "m2", 5},
	})
	return dir, catalogue, forecast, boq
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"BOQ_DATA_DIR", "BOQ_PORT", "BOQ_LAMBDA"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// TestMatchCommand 测试 match 子命令输出统计与未匹配项
func TestMatchCommand(t *testing.T) {
	dir, catalogue, _, boq := fixtures(t)

	out, err := run(t, "match", "--config", dir, "--catalogue", catalogue, boq)
	if err != nil {
		t.Fatalf("match: %v\n%s", err, out)
	}
	for _, want := range []string{"unique positions 3 (matched 2)", "Scaffolding"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// TestOptimizeCommand 测试 optimize 子命令求解并导出报表
func TestOptimizeCommand(t *testing.T) {
	dir, catalogue, forecast, boq := fixtures(t)
	report := filepath.Join(dir, "report.xlsx")

	out, err := run(t, "optimize", "--config", dir, "--catalogue", catalogue, "--forecast", forecast,
		"--iterations", "2", "--out", report, boq)
	if err != nil {
		t.Fatalf("optimize: %v\n%s", err, out)
	}
	if !strings.Contains(out, "iteration 1") || !strings.Contains(out, "iteration 2") {
		t.Errorf("output missing iterations:\n%s", out)
	}

	f, err := excelize.OpenFile(report)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer f.Close()
	if idx, _ := f.GetSheetIndex("Stages"); idx < 0 {
		t.Errorf("report sheets = %v", f.GetSheetList())
	}
}

// TestOptimizeRequiresForecast 测试缺少预算文件时报错
func TestOptimizeRequiresForecast(t *testing.T) {
	dir, catalogue, _, boq := fixtures(t)
	if _, err := run(t, "optimize", "--config", dir, "--catalogue", catalogue, boq); err == nil {
		t.Fatal("expected --forecast error")
	}
	if _, err := run(t, "match", "--config", dir, boq); err == nil {
		t.Fatal("expected --catalogue error")
	}
}
