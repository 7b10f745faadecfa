package parser

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// 关键词以 "=" 开头表示必须整列名相等
var defaultKeywords = map[Field][]string{
	FieldName: {
		"name", "description", "workdescription", "itemdescription", "work", "=item",
		"наименование", "описание", "видработа", "видсмр", "позиция",
		"名称", "项目名称", "清单名称", "工作内容", "分项名称",
	},
	FieldUnit: {
		"unit", "uom", "units", "unitofmeasure", "=ед", "едмярка", "мярка", "единица", "мернаединица",
		"单位", "计量单位",
	},
	FieldQuantity: {
		"quantity", "=qty", "qty", "количество", "=кво", "工程量", "数量",
	},
	FieldStage: {
		"stage", "phase", "section", "stagecode", "етап", "раздел", "阶段", "分部", "标段",
	},
	FieldPrice: {
		"price", "rate", "unitprice", "unitrate", "baseprice", "цена", "едцена", "единичнацена",
		"单价", "基价", "综合单价",
	},
	FieldAliases: {
		"alias", "aliases", "synonyms", "синоними", "синоним", "别名",
	},
	FieldCategory: {
		"category", "group", "категория", "група", "类别", "分类",
	},
	FieldAmount: {
		"amount", "forecast", "budget", "ceiling", "limit", "сума", "бюджет", "прогноз", "лимит",
		"预算", "金额", "预测", "限额",
	},
	FieldCode: {
		"code", "=id", "itemno", "=no", "entryid", "код", "шифр", "编码", "编号", "序号",
	},
}

type keyword struct {
	text  string
	exact bool
}

// ColumnRecognizer 表头识别器：把表头单元格映射到字段
type ColumnRecognizer struct {
	keywords map[Field][]keyword
}

// NewColumnRecognizer 创建识别器（使用内置关键词）
func NewColumnRecognizer() *ColumnRecognizer {
	r := &ColumnRecognizer{keywords: make(map[Field][]keyword, len(defaultKeywords))}
	for field, list := range defaultKeywords {
		for _, kw := range list {
			exact := strings.HasPrefix(kw, "=")
			text := NormalizeColumnName(strings.TrimPrefix(kw, "="))
			r.keywords[field] = append(r.keywords[field], keyword{text: text, exact: exact})
		}
	}
	return r
}

// scoreColumn 列名与字段的匹配分：完全相等优先，其次按命中关键词长度
func (r *ColumnRecognizer) scoreColumn(norm string, field Field) int {
	best := 0
	for _, kw := range r.keywords[field] {
		n := utf8.RuneCountInString(kw.text)
		switch {
		case norm == kw.text:
			if s := 100 + n; s > best {
				best = s
			}
		case !kw.exact && strings.Contains(norm, kw.text):
			if n > best {
				best = n
			}
		}
	}
	return best
}

// MapColumns 把表头映射到字段；每个字段最多一列，每列最多一个字段
func (r *ColumnRecognizer) MapColumns(headers []string) map[Field]FieldMapping {
	var all []FieldMapping
	for idx, h := range headers {
		norm := NormalizeColumnName(h)
		if norm == "" {
			continue
		}
		for field := range r.keywords {
			if s := r.scoreColumn(norm, field); s > 0 {
				all = append(all, FieldMapping{ColumnIndex: idx, ColumnName: strings.TrimSpace(h), Field: field, Score: s})
			}
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		if all[i].ColumnIndex != all[j].ColumnIndex {
			return all[i].ColumnIndex < all[j].ColumnIndex
		}
		return all[i].Field < all[j].Field
	})

	out := make(map[Field]FieldMapping)
	usedCols := make(map[int]bool)
	for _, m := range all {
		if _, ok := out[m.Field]; ok || usedCols[m.ColumnIndex] {
			continue
		}
		out[m.Field] = m
		usedCols[m.ColumnIndex] = true
	}
	return out
}

// FindHeaderRow 在前 maxScan 行中找识别字段最多的一行作为表头
func (r *ColumnRecognizer) FindHeaderRow(rows [][]string, maxScan int) (int, map[Field]FieldMapping) {
	bestRow, bestCount := -1, 0
	var bestMap map[Field]FieldMapping
	for i := 0; i < len(rows) && i < maxScan; i++ {
		m := r.MapColumns(rows[i])
		if len(m) > bestCount {
			bestRow, bestCount, bestMap = i, len(m), m
		}
	}
	if bestCount < 2 {
		return -1, nil
	}
	return bestRow, bestMap
}

func column(m map[Field]FieldMapping, f Field) int {
	if c, ok := m[f]; ok {
		return c.ColumnIndex
	}
	return -1
}
