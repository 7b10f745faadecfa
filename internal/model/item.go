package model

import (
	"fmt"
	"math"
	"strings"
)

// LineItem 工程量清单行（解析后不可变）
type LineItem struct {
	StageCode    string  `json:"stageCode"`    // 阶段编码（预算类别）
	Name         string  `json:"name"`         // 原始名称
	Unit         string  `json:"unit"`         // 原始计量单位
	Quantity     float64 `json:"quantity"`     // 工程量，必须大于 0
	SourceFileID string  `json:"sourceFileId"` // 来源文件
	SourceRow    int     `json:"sourceRow"`    // 来源行号（1 起）
}

// Validate 校验清单行必填字段
func (li LineItem) Validate() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(li.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required", Severity: "error"})
	}
	if strings.TrimSpace(li.Unit) == "" {
		errs = append(errs, ValidationError{Field: "unit", Message: "unit is required", Severity: "error"})
	}
	if strings.TrimSpace(li.StageCode) == "" {
		errs = append(errs, ValidationError{Field: "stageCode", Message: "stageCode is required", Severity: "error"})
	}
	if strings.TrimSpace(li.SourceFileID) == "" {
		errs = append(errs, ValidationError{Field: "sourceFileId", Message: "sourceFileId is required", Severity: "error"})
	}
	if math.IsNaN(li.Quantity) || math.IsInf(li.Quantity, 0) || li.Quantity <= 0 {
		errs = append(errs, ValidationError{Field: "quantity", Message: "quantity must be positive", Severity: "error"})
	}

	return errs
}

// Ref 返回 文件:行号 形式的定位串（用于日志与报错）
func (li LineItem) Ref() string {
	return fmt.Sprintf("%s:%d", li.SourceFileID, li.SourceRow)
}

// CatalogueEntry 价格库条目（参考数据，不可变）
type CatalogueEntry struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Unit       string   `json:"unit"`
	BasePrice  float64  `json:"basePrice"`
	Aliases    []string `json:"aliases,omitempty"`
	Category   string   `json:"category,omitempty"`
	SourceFile string   `json:"sourceFile,omitempty"`
}

// Validate 校验价格库条目
func (e CatalogueEntry) Validate() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required", Severity: "error"})
	}
	if strings.TrimSpace(e.Unit) == "" {
		errs = append(errs, ValidationError{Field: "unit", Message: "unit is required", Severity: "error"})
	}
	if math.IsNaN(e.BasePrice) || math.IsInf(e.BasePrice, 0) || e.BasePrice < 0 {
		errs = append(errs, ValidationError{Field: "basePrice", Message: "basePrice must be non-negative", Severity: "error"})
	}

	return errs
}

// StageForecast 阶段预算上限
type StageForecast struct {
	StageCode string  `json:"stageCode"`
	Amount    float64 `json:"amount"`
}

// Document 一个清单文件的解析结果
type Document struct {
	FileID   string     `json:"fileId"`
	FileName string     `json:"fileName"`
	Items    []LineItem `json:"items"`
}

// ValidationError 校验错误
type ValidationError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error or warning
}

func (v ValidationError) Error() string {
	return v.Field + ": " + v.Message
}
