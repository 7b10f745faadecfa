package parser

import (
	"github.com/xuri/excelize/v2"

	"boqbalance/internal/model"
)

// ParseForecasts 解析阶段预算工作簿；同一阶段出现多行时金额累加，按首次出现顺序返回
func ParseForecasts(wb *excelize.File, filename string) ([]model.StageForecast, *ImportReport, error) {
	amounts := make(map[string]float64)
	var order []string
	columns := NewColumnRecognizer()

	report, err := eachSheet(wb, filename, SheetTypeForecast, func(sheet string, rows [][]string, rec SheetRecognitionResult, res *ParseResult) {
		mapping := columns.MapColumns(rows[rec.HeaderRow])
		stageCol, amountCol := column(mapping, FieldStage), column(mapping, FieldAmount)

		for i := rec.HeaderRow + 1; i < len(rows); i++ {
			row := rows[i]
			rowNo := i + 1
			if isBlankRow(row) {
				continue
			}
			stage := normalizeStage(getCell(row, stageCol))
			if stage == "" {
				res.skip("row %d: empty stage", rowNo)
				continue
			}
			amount, ok := ParseNumber(getCell(row, amountCol))
			if !ok || amount <= 0 {
				res.skip("row %d: non-positive amount %q", rowNo, getCell(row, amountCol))
				continue
			}
			if _, ok := amounts[stage]; !ok {
				order = append(order, stage)
			}
			amounts[stage] += amount
			res.ImportedRows++
		}
	})

	out := make([]model.StageForecast, 0, len(order))
	for _, stage := range order {
		out = append(out, model.StageForecast{StageCode: stage, Amount: amounts[stage]})
	}
	return out, report, err
}
