// Package units 计量单位等价表：把各种写法归一到规范单位
package units

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed units.yaml
var defaultDefinition []byte

type definition struct {
	Units map[string][]string `yaml:"units"`
}

// Table 单位等价表（加载后只读，可并发使用）
type Table struct {
	canonical map[string]string // 规范化变体 -> 规范单位
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default 内置等价表
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Load(bytes.NewReader(defaultDefinition))
		if err != nil {
			panic(fmt.Sprintf("units: embedded definition is invalid: %v", err))
		}
		defaultTable = t
	})
	return defaultTable
}

// Load 从 YAML 定义加载等价表
func Load(r io.Reader) (*Table, error) {
	var def definition
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&def); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode unit definition: %w", err)
	}

	names := make([]string, 0, len(def.Units))
	for name := range def.Units {
		names = append(names, name)
	}
	sort.Strings(names)

	t := &Table{canonical: make(map[string]string)}
	for _, name := range names {
		canon := fold(name)
		if canon == "" {
			return nil, errors.New("empty canonical unit")
		}
		variants := append([]string{name}, def.Units[name]...)
		for _, v := range variants {
			key := fold(v)
			if key == "" {
				continue
			}
			if owner, ok := t.canonical[key]; ok && owner != canon {
				return nil, fmt.Errorf("unit variant %q claimed by both %q and %q", v, owner, canon)
			}
			t.canonical[key] = canon
		}
	}
	return t, nil
}

// Canonicalize 返回规范单位；未知单位返回其自身的规范化形式
func (t *Table) Canonicalize(unit string) string {
	key := fold(unit)
	if t == nil {
		return key
	}
	if canon, ok := t.canonical[key]; ok {
		return canon
	}
	return key
}

// AreEquivalent 两个单位是否属于同一等价类
func (t *Table) AreEquivalent(a, b string) bool {
	return t.Canonicalize(a) == t.Canonicalize(b)
}

// separators 句点与统一键分隔符 "|" 都折叠为空白
var separators = strings.NewReplacer(".", " ", "|", " ")

// fold NFKC 折叠、小写、去分隔符、压缩空白（m³ 与 M3. 折叠为同一形式）
func fold(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = separators.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
