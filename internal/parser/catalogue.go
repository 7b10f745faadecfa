package parser

import (
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"boqbalance/internal/model"
)

// ParseCatalogue 解析价格库工作簿。
// 有编码列且编码唯一时以编码为条目 ID，否则生成 UUID；别名以分号分隔。
func ParseCatalogue(wb *excelize.File, source string) ([]model.CatalogueEntry, *ImportReport, error) {
	entries := []model.CatalogueEntry{}
	seen := make(map[string]bool)
	columns := NewColumnRecognizer()

	report, err := eachSheet(wb, source, SheetTypeCatalogue, func(sheet string, rows [][]string, rec SheetRecognitionResult, res *ParseResult) {
		mapping := columns.MapColumns(rows[rec.HeaderRow])
		nameCol, unitCol, priceCol := column(mapping, FieldName), column(mapping, FieldUnit), column(mapping, FieldPrice)
		codeCol, aliasCol, catCol := column(mapping, FieldCode), column(mapping, FieldAliases), column(mapping, FieldCategory)

		for i := rec.HeaderRow + 1; i < len(rows); i++ {
			row := rows[i]
			rowNo := i + 1
			if isBlankRow(row) {
				continue
			}

			e := model.CatalogueEntry{
				Name:       getCell(row, nameCol),
				Unit:       getCell(row, unitCol),
				Category:   getCell(row, catCol),
				Aliases:    splitAliases(getCell(row, aliasCol)),
				SourceFile: source,
			}
			price, ok := ParseNumber(getCell(row, priceCol))
			if !ok {
				res.skip("row %d: invalid price %q", rowNo, getCell(row, priceCol))
				continue
			}
			e.BasePrice = price
			if errs := e.Validate(); len(errs) > 0 {
				res.skip("row %d: %s", rowNo, errs[0].Error())
				continue
			}

			if code := getCell(row, codeCol); code != "" && !seen[code] {
				e.ID = code
			} else {
				e.ID = uuid.NewString()
			}
			seen[e.ID] = true
			entries = append(entries, e)
			res.ImportedRows++
		}
	})
	return entries, report, err
}
