package units

import (
	"strings"
	"testing"
)

func TestCanonicalizeAliases(t *testing.T) {
	t.Parallel()

	table := Default()
	tests := []struct {
		in   string
		want string
	}{
		{"pcs", "pcs"},
		{"Piece", "pcs"},
		{"ea.", "pcs"},
		{"  EA ", "pcs"},
		{"бр.", "pcs"},
		{"m3", "m3"},
		{"m³", "m3"},
		{"M3", "m3"},
		{"cu. m", "m3"},
		{"куб.м", "m3"},
		{"m²", "m2"},
		{"Sq.M", "m2"},
		{"lump sum", "lump sum"},
		{"LS", "lump sum"},
	}

	for _, tt := range tests {
		if got := table.Canonicalize(tt.in); got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalizeUnknownUnit(t *testing.T) {
	t.Parallel()

	table := Default()
	if got := table.Canonicalize("  Bucket  Load "); got != "bucket load" {
		t.Fatalf("unknown unit = %q, want %q", got, "bucket load")
	}
	if got := table.Canonicalize(""); got != "" {
		t.Fatalf("empty unit = %q, want empty", got)
	}
	if got := table.Canonicalize("m|run"); got != "m run" {
		t.Fatalf("pipe unit = %q, want %q", got, "m run")
	}
}

func TestAreEquivalent(t *testing.T) {
	t.Parallel()

	table := Default()
	if !table.AreEquivalent("pcs", "each") {
		t.Error("pcs and each should be equivalent")
	}
	if !table.AreEquivalent("m³", "cubic metre") {
		t.Error("m³ and cubic metre should be equivalent")
	}
	if table.AreEquivalent("m3", "pcs") {
		t.Error("m3 and pcs must not be equivalent")
	}
	if table.AreEquivalent("m2", "m3") {
		t.Error("m2 and m3 must not be equivalent")
	}
}

func TestLoadRejectsConflictingVariant(t *testing.T) {
	t.Parallel()

	def := `
units:
  pcs: [piece, item]
  set: [item]
`
	if _, err := Load(strings.NewReader(def)); err == nil {
		t.Fatal("expected conflict error")
	}
}

func TestLoadMalformed(t *testing.T) {
	t.Parallel()

	if _, err := Load(strings.NewReader("units: [1, 2")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNilTableFallsBackToFold(t *testing.T) {
	t.Parallel()

	var table *Table
	if got := table.Canonicalize(" PCS. "); got != "pcs" {
		t.Fatalf("nil table Canonicalize = %q, want %q", got, "pcs")
	}
}
