package parser

import (
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"boqbalance/internal/model"
)

var ErrNoRecognizedSheets = errors.New("no recognized sheets in workbook")

// sheetRows 读取 Sheet 原始单元格值
func sheetRows(wb *excelize.File, sheet string) ([][]string, error) {
	rows, err := wb.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

// eachSheet 依次识别每个 Sheet，类型匹配时调用 fn 解析
func eachSheet(wb *excelize.File, filename string, want SheetType, fn func(sheet string, rows [][]string, rec SheetRecognitionResult, res *ParseResult)) (*ImportReport, error) {
	start := time.Now()
	recognizer := NewSheetRecognizer()
	report := &ImportReport{Filename: filename, Sheets: []ParseResult{}}

	for _, sheet := range wb.GetSheetList() {
		sheetStart := time.Now()
		res := ParseResult{SheetName: sheet, SheetType: SheetTypeUnknown, Status: "skipped"}

		rows, err := sheetRows(wb, sheet)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			report.add(res)
			continue
		}
		rec := recognizer.Recognize(sheet, rows)
		res.SheetType = rec.SheetType
		if rec.SheetType == want {
			res.Status = "imported"
			fn(sheet, rows, rec, &res)
		}
		res.Duration = time.Since(sheetStart)
		report.add(res)
	}

	report.Duration = time.Since(start)
	if report.ImportedSheets == 0 {
		return report, fmt.Errorf("%w: %s (want %s)", ErrNoRecognizedSheets, filename, want)
	}
	return report, nil
}

// ParseBOQ 解析工程量清单工作簿。
// 阶段取自阶段列；该列为空时沿用上一行的阶段，没有阶段列时使用 Sheet 名。
func ParseBOQ(wb *excelize.File, fileID, fileName string) (model.Document, *ImportReport, error) {
	doc := model.Document{FileID: fileID, FileName: fileName, Items: []model.LineItem{}}
	columns := NewColumnRecognizer()

	report, err := eachSheet(wb, fileName, SheetTypeBOQ, func(sheet string, rows [][]string, rec SheetRecognitionResult, res *ParseResult) {
		mapping := columns.MapColumns(rows[rec.HeaderRow])
		nameCol, unitCol, qtyCol := column(mapping, FieldName), column(mapping, FieldUnit), column(mapping, FieldQuantity)
		stageCol := column(mapping, FieldStage)

		stage := normalizeStage(sheet)
		for i := rec.HeaderRow + 1; i < len(rows); i++ {
			row := rows[i]
			rowNo := i + 1
			if isBlankRow(row) {
				continue
			}
			if stageCol >= 0 {
				if s := normalizeStage(getCell(row, stageCol)); s != "" {
					stage = s
				}
			}

			name := getCell(row, nameCol)
			if name == "" {
				res.skip("row %d: empty name", rowNo)
				continue
			}
			unit := getCell(row, unitCol)
			if unit == "" {
				res.skip("row %d: empty unit", rowNo)
				continue
			}
			qty, ok := ParseNumber(getCell(row, qtyCol))
			if !ok || qty <= 0 {
				res.skip("row %d: non-positive quantity %q", rowNo, getCell(row, qtyCol))
				continue
			}

			doc.Items = append(doc.Items, model.LineItem{
				StageCode:    stage,
				Name:         name,
				Unit:         unit,
				Quantity:     qty,
				SourceFileID: fileID,
				SourceRow:    rowNo,
			})
			res.ImportedRows++
		}
	})
	return doc, report, err
}
