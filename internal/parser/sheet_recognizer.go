package parser

import (
	"strings"

	"github.com/xuri/excelize/v2"
)

const headerScanRows = 10

var sheetNameHints = map[SheetType][]string{
	SheetTypeCatalogue: {"catalogue", "catalog", "pricelist", "prices", "каталог", "ценоразпис", "价格库", "价目"},
	SheetTypeForecast:  {"forecast", "budget", "ceiling", "прогноз", "бюджет", "预算", "限额"},
}

// SheetRecognizer Sheet 类型识别器
type SheetRecognizer struct {
	columns *ColumnRecognizer
}

// NewSheetRecognizer 创建识别器
func NewSheetRecognizer() *SheetRecognizer {
	return &SheetRecognizer{columns: NewColumnRecognizer()}
}

// Recognize 根据表头识别 Sheet 类型
func (r *SheetRecognizer) Recognize(sheetName string, rows [][]string) SheetRecognitionResult {
	result := SheetRecognitionResult{
		SheetName: sheetName,
		SheetType: SheetTypeUnknown,
		HeaderRow: -1,
	}

	headerRow, mapping := r.columns.FindHeaderRow(rows, headerScanRows)
	if headerRow < 0 {
		return result
	}
	result.HeaderRow = headerRow
	for _, f := range []Field{FieldCode, FieldName, FieldUnit, FieldQuantity, FieldStage, FieldPrice, FieldAliases, FieldCategory, FieldAmount} {
		if _, ok := mapping[f]; ok {
			result.Fields = append(result.Fields, f)
		}
	}

	has := func(fields ...Field) float64 {
		n := 0
		for _, f := range fields {
			if _, ok := mapping[f]; ok {
				n++
			}
		}
		return float64(n) / float64(len(fields))
	}

	scores := map[SheetType]float64{
		SheetTypeBOQ:       has(FieldName, FieldUnit, FieldQuantity),
		SheetTypeCatalogue: has(FieldName, FieldUnit, FieldPrice),
		SheetTypeForecast:  has(FieldStage, FieldAmount),
	}
	if _, ok := mapping[FieldQuantity]; ok {
		scores[SheetTypeCatalogue] -= 0.5
		scores[SheetTypeForecast] -= 0.5
	}
	if _, ok := mapping[FieldUnit]; ok {
		scores[SheetTypeForecast] -= 0.5
	}
	name := NormalizeColumnName(sheetName)
	for t, hints := range sheetNameHints {
		if ContainsAny(name, hints) {
			scores[t] += 0.2
		}
	}

	for _, t := range []SheetType{SheetTypeBOQ, SheetTypeCatalogue, SheetTypeForecast} {
		if scores[t] > result.Confidence {
			result.SheetType = t
			result.Confidence = scores[t]
		}
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	if result.Confidence < 1 {
		// 必填字段不全的 Sheet 不参与解析
		result.SheetType = SheetTypeUnknown
	}
	return result
}

// RecognizeWorkbook 识别工作簿中每个 Sheet
func (r *SheetRecognizer) RecognizeWorkbook(wb *excelize.File) []SheetRecognitionResult {
	var out []SheetRecognitionResult
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			out = append(out, SheetRecognitionResult{SheetName: sheet, SheetType: SheetTypeUnknown, HeaderRow: -1})
			continue
		}
		out = append(out, r.Recognize(sheet, rows))
	}
	return out
}

// DetectKind 工作簿的主要类型（识别出最多 Sheet 的类型）
func (r *SheetRecognizer) DetectKind(wb *excelize.File) SheetType {
	counts := make(map[SheetType]int)
	for _, res := range r.RecognizeWorkbook(wb) {
		if res.SheetType != SheetTypeUnknown {
			counts[res.SheetType]++
		}
	}
	best, bestN := SheetTypeUnknown, 0
	for _, t := range []SheetType{SheetTypeBOQ, SheetTypeCatalogue, SheetTypeForecast} {
		if counts[t] > bestN {
			best, bestN = t, counts[t]
		}
	}
	return best
}

func normalizeStage(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
