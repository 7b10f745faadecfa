package parser

import (
	"fmt"
	"time"
)

// SheetType Sheet 类型
type SheetType string

const (
	SheetTypeBOQ       SheetType = "boq"
	SheetTypeCatalogue SheetType = "catalogue"
	SheetTypeForecast  SheetType = "forecast"
	SheetTypeUnknown   SheetType = "unknown"
)

// Field 表头可识别的字段
type Field string

const (
	FieldName     Field = "name"
	FieldUnit     Field = "unit"
	FieldQuantity Field = "quantity"
	FieldStage    Field = "stage"
	FieldPrice    Field = "price"
	FieldAliases  Field = "aliases"
	FieldCategory Field = "category"
	FieldAmount   Field = "amount"
	FieldCode     Field = "code"
)

// SheetRecognitionResult Sheet 识别结果
type SheetRecognitionResult struct {
	SheetName  string    `json:"sheetName"`
	SheetType  SheetType `json:"sheetType"`
	Confidence float64   `json:"confidence"` // 置信度 0-1
	HeaderRow  int       `json:"headerRow"`  // 表头所在行（0 起）
	Fields     []Field   `json:"fields"`
}

// FieldMapping 字段映射结果
type FieldMapping struct {
	ColumnIndex int    `json:"columnIndex"` // Excel 列索引
	ColumnName  string `json:"columnName"`  // Excel 列名
	Field       Field  `json:"field"`
	Score       int    `json:"score"`
}

// ParseResult 单个 Sheet 的解析结果
type ParseResult struct {
	SheetName    string        `json:"sheetName"`
	SheetType    SheetType     `json:"sheetType"`
	Status       string        `json:"status"` // imported/skipped
	ImportedRows int           `json:"importedRows"`
	SkippedRows  int           `json:"skippedRows"`
	Errors       []string      `json:"errors,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// ImportReport 单个工作簿的解析报告
type ImportReport struct {
	Filename       string        `json:"filename"`
	TotalSheets    int           `json:"totalSheets"`
	ImportedSheets int           `json:"importedSheets"`
	SkippedSheets  int           `json:"skippedSheets"`
	TotalRows      int           `json:"totalRows"`
	ImportedRows   int           `json:"importedRows"`
	SkippedRows    int           `json:"skippedRows"`
	Duration       time.Duration `json:"duration"`
	Sheets         []ParseResult `json:"sheets"`
}

const maxRowErrors = 50

func (r *ParseResult) skip(format string, args ...interface{}) {
	r.SkippedRows++
	if len(r.Errors) < maxRowErrors {
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	}
}

func (rep *ImportReport) add(res ParseResult) {
	rep.TotalSheets++
	if res.Status == "imported" {
		rep.ImportedSheets++
	} else {
		rep.SkippedSheets++
	}
	rep.ImportedRows += res.ImportedRows
	rep.SkippedRows += res.SkippedRows
	rep.TotalRows += res.ImportedRows + res.SkippedRows
	rep.Sheets = append(rep.Sheets, res)
}
