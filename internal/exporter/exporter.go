// Package exporter 对账报表导出：系数、阶段汇总、逐文件明细与未匹配清单
package exporter

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"boqbalance/internal/model"
)

const (
	SheetSummary      = "Summary"
	SheetCoefficients = "Coefficients"
	SheetStages       = "Stages"
	SheetUnmatched    = "Unmatched"

	maxSheetName = 31
)

var ErrNoResult = errors.New("no iteration result to export")

// Exporter 报表导出器
type Exporter struct {
	places int32 // 币种精度（小数位）
}

// NewExporter 创建导出器；places 为金额保留的小数位
func NewExporter(places int) *Exporter {
	if places < 0 {
		places = 2
	}
	return &Exporter{places: int32(places)}
}

// ExportOptions 导出选项
type ExportOptions struct {
	SessionName string
	Result      *model.IterationResult
	Match       *model.MatchResult
	Documents   []model.Document // 用于文件名与 Sheet 顺序
	Unmatched   []model.UnifiedCandidate
	Progress    func(ProgressEvent)
}

// Money 金额按币种精度四舍五入（十进制，避免二进制浮点误差）
func (e *Exporter) Money(v float64) float64 {
	return decimal.NewFromFloat(v).Round(e.places).InexactFloat64()
}

// WorkPrice 工作单价按币种精度向零截断，导出金额不会超过求解结果
func (e *Exporter) WorkPrice(v float64) float64 {
	return decimal.NewFromFloat(v).Truncate(e.places).InexactFloat64()
}

// lineTotal 行金额 = 截断后的工作单价 × 工程量，再截断
func (e *Exporter) lineTotal(qty, workPrice float64) decimal.Decimal {
	price := decimal.NewFromFloat(workPrice).Truncate(e.places)
	return price.Mul(decimal.NewFromFloat(qty)).Truncate(e.places)
}

// stageTotals 按阶段汇总导出的行金额
func (e *Exporter) stageTotals(r *model.IterationResult) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, ib := range r.Items {
		if !ib.Matched {
			continue
		}
		s := ib.Item.StageCode
		totals[s] = totals[s].Add(e.lineTotal(ib.Item.Quantity, ib.WorkPrice))
	}
	return totals
}

// Export 生成报表工作簿
func (e *Exporter) Export(opts ExportOptions) (*excelize.File, error) {
	if opts.Result == nil {
		return nil, ErrNoResult
	}
	reportProgress(opts.Progress, 0, "start")

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		_ = f.Close()
		return nil, err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E2E8F0"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w := &sheetWriter{f: f, headerStyle: headerStyle}

	steps := []struct {
		stage string
		fn    func(*sheetWriter, ExportOptions) error
	}{
		{"summary", e.writeSummary},
		{"coefficients", e.writeCoefficients},
		{"stages", e.writeStages},
		{"files", e.writeFiles},
		{"unmatched", e.writeUnmatched},
	}
	for i, step := range steps {
		if err := step.fn(w, opts); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write %s: %w", step.stage, err)
		}
		reportProgress(opts.Progress, (i+1)*100/len(steps), step.stage)
	}

	f.SetActiveSheet(0)
	return f, nil
}

func (e *Exporter) writeSummary(w *sheetWriter, opts ExportOptions) error {
	r := opts.Result
	totals := e.stageTotals(r)
	forecast, proposed := decimal.Zero, decimal.Zero
	for _, s := range r.PerStage {
		if s.Forecast > 0 {
			forecast = forecast.Add(decimal.NewFromFloat(s.Forecast))
			proposed = proposed.Add(totals[s.StageCode])
		}
	}
	gap := forecast.Sub(proposed)
	gapPercent := 0.0
	if forecast.IsPositive() {
		gapPercent = gap.Div(forecast).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	rows := [][]interface{}{
		{"Item", "Value"},
		{"Session", opts.SessionName},
		{"Iteration", r.Iteration},
		{"Status", string(r.Status)},
		{"Lambda", r.Params.Lambda},
		{"Min coefficient", r.Params.Bounds.Min},
		{"Max coefficient", r.Params.Bounds.Max},
		{"Overall forecast", e.Money(forecast.InexactFloat64())},
		{"Overall proposed", proposed.InexactFloat64()},
		{"Overall gap", e.Money(gap.InexactFloat64())},
		{"Gap %", roundPercent(gapPercent)},
		{"Objective", r.ObjectiveValue},
		{"Created at", r.CreatedAt.Format("2006-01-02 15:04:05")},
	}
	if opts.Match != nil {
		s := opts.Match.Stats
		rows = append(rows,
			[]interface{}{"Line items", s.TotalItems},
			[]interface{}{"Matched items", s.MatchedItems},
			[]interface{}{"Unique positions", s.UniquePositions},
			[]interface{}{"Matched positions", s.MatchedPositions},
			[]interface{}{"Manual overrides", s.ManualOverrides},
		)
	}
	if err := w.writeRows(SheetSummary, rows); err != nil {
		return err
	}
	return w.f.SetColWidth(SheetSummary, "A", "B", 24)
}

func (e *Exporter) writeCoefficients(w *sheetWriter, opts ExportOptions) error {
	if _, err := w.f.NewSheet(SheetCoefficients); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"Key", "Name", "Unit", "Catalogue entry", "Entry ID", "Manual", "Score", "Base price", "Coefficient", "Work price"},
	}
	for _, key := range coefficientKeys(opts.Result, opts.Match) {
		ca := opts.Result.Coefficients[key]
		name, unit := key.Split()
		entryName, manual, score := "", false, 0.0
		if opts.Match != nil {
			if g, ok := opts.Match.Groups[key]; ok {
				name, unit = g.Name, g.Unit
			}
			if d, ok := opts.Match.Decision(key); ok {
				entryName, manual, score = d.Entry.Name, d.IsManualOverride, d.Score
			}
		}
		rows = append(rows, []interface{}{
			string(key), name, unit, entryName, ca.EntryID, manual, roundPercent(score),
			e.Money(ca.BasePrice), ca.Coefficient, e.WorkPrice(ca.WorkPrice),
		})
	}
	if err := w.writeRows(SheetCoefficients, rows); err != nil {
		return err
	}
	if err := w.f.SetColWidth(SheetCoefficients, "A", "D", 30); err != nil {
		return err
	}
	return w.f.SetColWidth(SheetCoefficients, "E", "J", 14)
}

func (e *Exporter) writeStages(w *sheetWriter, opts ExportOptions) error {
	if _, err := w.f.NewSheet(SheetStages); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"Stage", "Forecast", "Base total", "Proposed", "Gap", "Gap %", "Items", "Infeasible"},
	}
	totals := e.stageTotals(opts.Result)
	forecast, proposed := decimal.Zero, decimal.Zero
	var base float64
	items := 0
	for _, s := range opts.Result.PerStage {
		f := decimal.NewFromFloat(s.Forecast)
		p := totals[s.StageCode]
		gap, gapPercent := 0.0, 0.0
		if s.Forecast > 0 {
			gap = f.Sub(p).InexactFloat64()
			gapPercent = f.Sub(p).Div(f).Mul(decimal.NewFromInt(100)).InexactFloat64()
			forecast = forecast.Add(f)
		}
		rows = append(rows, []interface{}{
			s.StageCode, e.Money(s.Forecast), e.Money(s.BaseTotal), p.InexactFloat64(),
			e.Money(gap), roundPercent(gapPercent), s.ItemCount, s.Infeasible,
		})
		proposed = proposed.Add(p)
		base += s.BaseTotal
		items += s.ItemCount
	}
	rows = append(rows, []interface{}{
		"Total", e.Money(forecast.InexactFloat64()), e.Money(base), proposed.InexactFloat64(),
		e.Money(forecast.Sub(proposed).InexactFloat64()), "", items, "",
	})
	if err := w.writeRows(SheetStages, rows); err != nil {
		return err
	}
	return w.f.SetColWidth(SheetStages, "A", "H", 16)
}

func (e *Exporter) writeFiles(w *sheetWriter, opts ExportOptions) error {
	byFile := make(map[string][]model.ItemBreakdown)
	var order []string
	for _, ib := range opts.Result.Items {
		id := ib.Item.SourceFileID
		if _, ok := byFile[id]; !ok {
			order = append(order, id)
		}
		byFile[id] = append(byFile[id], ib)
	}
	names := make(map[string]string, len(opts.Documents))
	for _, d := range opts.Documents {
		names[d.FileID] = d.FileName
	}

	for _, id := range order {
		display := names[id]
		if display == "" {
			display = id
		}
		sheet := w.uniqueSheetName(strings.TrimSuffix(display, filepath.Ext(display)))
		if _, err := w.f.NewSheet(sheet); err != nil {
			return err
		}
		rows := [][]interface{}{
			{"Row", "Stage", "Name", "Unit", "Quantity", "Catalogue entry", "Base price", "Coefficient", "Work price", "Total"},
		}
		total := decimal.Zero
		for _, ib := range byFile[id] {
			line := []interface{}{ib.Item.SourceRow, ib.Item.StageCode, ib.Item.Name, ib.Item.Unit, ib.Item.Quantity}
			if ib.Matched {
				lt := e.lineTotal(ib.Item.Quantity, ib.WorkPrice)
				total = total.Add(lt)
				line = append(line, ib.EntryName, e.Money(ib.BasePrice), ib.Coefficient, e.WorkPrice(ib.WorkPrice), lt.InexactFloat64())
			} else {
				line = append(line, "(unmatched)", "", "", "", "")
			}
			rows = append(rows, line)
		}
		rows = append(rows, []interface{}{"", "", "Total", "", "", "", "", "", "", total.InexactFloat64()})
		if err := w.writeRows(sheet, rows); err != nil {
			return err
		}
		if err := w.f.SetColWidth(sheet, "C", "C", 40); err != nil {
			return err
		}
		if err := w.f.SetColWidth(sheet, "F", "F", 30); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) writeUnmatched(w *sheetWriter, opts ExportOptions) error {
	if _, err := w.f.NewSheet(SheetUnmatched); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"Key", "Name", "Unit", "Occurrences", "Candidates"},
	}
	for _, u := range opts.Unmatched {
		parts := make([]string, 0, len(u.Candidates))
		for _, c := range u.Candidates {
			parts = append(parts, fmt.Sprintf("%s [%s] (%.2f)", c.Entry.Name, c.Entry.ID, c.Score))
		}
		rows = append(rows, []interface{}{string(u.Key), u.Name, u.Unit, u.OccurrenceCount, strings.Join(parts, "; ")})
	}
	if err := w.writeRows(SheetUnmatched, rows); err != nil {
		return err
	}
	return w.f.SetColWidth(SheetUnmatched, "A", "E", 30)
}

// coefficientKeys 按匹配顺序列出有系数的键；无匹配结果时按键排序
func coefficientKeys(r *model.IterationResult, match *model.MatchResult) []model.UnifiedKey {
	var keys []model.UnifiedKey
	if match != nil {
		for _, k := range match.Order {
			if _, ok := r.Coefficients[k]; ok {
				keys = append(keys, k)
			}
		}
		if len(keys) == len(r.Coefficients) {
			return keys
		}
		keys = keys[:0]
	}
	for k := range r.Coefficients {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func roundPercent(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

type sheetWriter struct {
	f           *excelize.File
	headerStyle int
	used        map[string]bool
}

func (w *sheetWriter) writeRows(sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return w.f.SetRowStyle(sheet, 1, 1, w.headerStyle)
}

// uniqueSheetName 清理非法字符、截断到 31 字符，并避免与已有 Sheet 重名
func (w *sheetWriter) uniqueSheetName(base string) string {
	if w.used == nil {
		w.used = map[string]bool{
			strings.ToLower(SheetSummary):      true,
			strings.ToLower(SheetCoefficients): true,
			strings.ToLower(SheetStages):       true,
			strings.ToLower(SheetUnmatched):    true,
		}
	}
	base = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(base))
	base = strings.Trim(base, "'")
	if base == "" {
		base = "File"
	}

	name := truncateRunes(base, maxSheetName)
	for n := 2; w.used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		name = truncateRunes(base, maxSheetName-len(suffix)) + suffix
	}
	w.used[strings.ToLower(name)] = true
	return name
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
