package parser

import (
	"reflect"
	"testing"
)

func TestParseNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"100", 100, true},
		{"12.5", 12.5, true},
		{"12,5", 12.5, true},
		{"1,234", 1234, true},
		{"1,234.56", 1234.56, true},
		{"1.234,56", 1234.56, true},
		{"1 250,5", 1250.5, true},
		{"1 000", 1000, true},
		{"1.000.000", 1000000, true},
		{"-3,75", -3.75, true},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseNumber(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeColumnName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" Unit Price ": "unitprice",
		"Item No.":     "itemno",
		"Ед. мярка":    "едмярка",
		"К-во":         "кво",
		"№":            "no",
		"项目 名称\n":     "项目名称",
	}
	for in, want := range tests {
		if got := NormalizeColumnName(in); got != want {
			t.Errorf("NormalizeColumnName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitAliases(t *testing.T) {
	t.Parallel()

	got := splitAliases(" digging ; earthworks；; trenching ")
	want := []string{"digging", "earthworks", "trenching"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitAliases = %v, want %v", got, want)
	}
}
