package matching

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"boqbalance/internal/model"
)

func testCatalogue() []model.CatalogueEntry {
	return []model.CatalogueEntry{
		{ID: "exc", Name: "Mechanized excavation works", Unit: "m3", BasePrice: 45.5},
		{ID: "exc-hand", Name: "Manual excavation works", Unit: "m3", BasePrice: 60},
		{ID: "conc", Name: "Concrete C20/25", Unit: "m3", BasePrice: 120},
		{ID: "rebar", Name: "Reinforcement steel", Unit: "kg", BasePrice: 1.8},
	}
}

func testDocuments() [][]model.LineItem {
	return [][]model.LineItem{
		{
			{StageCode: "S1", Name: "Excavation works - mechanized", Unit: "m3", Quantity: 100, SourceFileID: "f1", SourceRow: 2},
			{StageCode: "S1", Name: "Concrete C20/25", Unit: "m³", Quantity: 20, SourceFileID: "f1", SourceRow: 3},
			{StageCode: "S2", Name: "Painting of facades", Unit: "m2", Quantity: 300, SourceFileID: "f1", SourceRow: 4},
		},
		{
			{StageCode: "S2", Name: "excavation works mechanized", Unit: "M3", Quantity: 40, SourceFileID: "f2", SourceRow: 2},
			{StageCode: "S2", Name: "Reinforcement steel", Unit: "kg", Quantity: 900, SourceFileID: "f2", SourceRow: 3},
			{StageCode: "S2", Name: "Painting of facades", Unit: "sq.m", Quantity: 50, SourceFileID: "f2", SourceRow: 4},
			{StageCode: "S2", Name: "Scaffolding", Unit: "m2", Quantity: 50, SourceFileID: "f2", SourceRow: 5},
		},
	}
}

func TestMatchAllGroupsAndStats(t *testing.T) {
	m := newTestMatcher()
	res, err := m.MatchAll(context.Background(), testDocuments(), testCatalogue(), nil)
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}

	excKey := m.KeyOf("Mechanized works excavation", "m3")
	if excKey == m.KeyOf("Excavation works - mechanized", "m3") {
		t.Fatal("keys keep word order, different orders must not collide")
	}

	key := m.KeyOf("Excavation works - mechanized", "m3")
	g, ok := res.Groups[key]
	if !ok {
		t.Fatalf("missing group %s", key)
	}
	if len(g.Occurrences) != 2 {
		t.Fatalf("occurrences = %d, want 2", len(g.Occurrences))
	}
	if d, ok := res.Decision(key); !ok || d.Entry.ID != "exc" {
		t.Fatalf("decision for %s = %+v, want exc", key, d)
	}

	want := model.MatchStats{
		TotalItems:       7,
		MatchedItems:     4,
		UnmatchedItems:   3,
		UniquePositions:  5,
		MatchedPositions: 3,
	}
	if res.Stats != want {
		t.Fatalf("stats = %+v, want %+v", res.Stats, want)
	}
	if res.Order[0] != key {
		t.Fatalf("order[0] = %s, want first occurrence %s", res.Order[0], key)
	}
}

func TestMatchAllPreconditions(t *testing.T) {
	m := newTestMatcher()

	if _, err := m.MatchAll(context.Background(), testDocuments(), nil, nil); !errors.Is(err, ErrEmptyCatalogue) {
		t.Fatalf("empty catalogue err = %v", err)
	}
	if _, err := m.MatchAll(context.Background(), [][]model.LineItem{{}, nil}, testCatalogue(), nil); !errors.Is(err, ErrEmptyDocuments) {
		t.Fatalf("empty documents err = %v", err)
	}

	bad := [][]model.LineItem{{{StageCode: "S1", Name: "x", Unit: "m", Quantity: 0, SourceFileID: "f", SourceRow: 1}}}
	if _, err := m.MatchAll(context.Background(), bad, testCatalogue(), nil); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("invalid item err = %v", err)
	}
}

func TestOverridePersistsAcrossRematch(t *testing.T) {
	m := newTestMatcher()
	ctx := context.Background()
	cat := testCatalogue()

	res, err := m.MatchAll(ctx, testDocuments(), cat, nil)
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}

	key := m.KeyOf("Excavation works - mechanized", "m3")
	if err := m.OverrideMatch(res, key, cat[1]); err != nil {
		t.Fatalf("OverrideMatch: %v", err)
	}
	if res.Stats.ManualOverrides != 1 {
		t.Fatalf("manual overrides = %d, want 1", res.Stats.ManualOverrides)
	}

	again, err := m.MatchAll(ctx, testDocuments(), cat, res)
	if err != nil {
		t.Fatalf("rematch: %v", err)
	}
	d, ok := again.Decision(key)
	if !ok || d.Entry.ID != "exc-hand" || !d.IsManualOverride {
		t.Fatalf("override lost after rematch: %+v", d)
	}

	if err := m.ClearOverride(again, key); err != nil {
		t.Fatalf("ClearOverride: %v", err)
	}
	cleared, err := m.MatchAll(ctx, testDocuments(), cat, again)
	if err != nil {
		t.Fatalf("rematch after clear: %v", err)
	}
	if d, _ := cleared.Decision(key); d == nil || d.Entry.ID != "exc" || d.IsManualOverride {
		t.Fatalf("cleared key should be re-matched automatically, got %+v", d)
	}
}

func TestOverrideUnknownKey(t *testing.T) {
	m := newTestMatcher()
	res, err := m.MatchAll(context.Background(), testDocuments(), testCatalogue(), nil)
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}
	if err := m.OverrideMatch(res, "nope|m", testCatalogue()[0]); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("err = %v, want ErrUnknownKey", err)
	}
	if err := m.ClearOverride(res, "nope|m"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("err = %v, want ErrUnknownKey", err)
	}
}

func TestMatchAllIdempotent(t *testing.T) {
	m := newTestMatcher()
	ctx := context.Background()

	first, err := m.MatchAll(ctx, testDocuments(), testCatalogue(), nil)
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}
	second, err := m.MatchAll(ctx, testDocuments(), testCatalogue(), first)
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("MatchAll with unchanged inputs should be identical")
	}

	fresh, err := m.MatchAll(ctx, testDocuments(), testCatalogue(), nil)
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}
	if !reflect.DeepEqual(first.Order, fresh.Order) || first.Stats != fresh.Stats {
		t.Fatal("order or stats differ between runs")
	}
	for key, d := range first.Decisions {
		other, ok := fresh.Decision(key)
		if !ok || other.Entry.ID != d.Entry.ID || other.Score != d.Score {
			t.Fatalf("decision for %s differs: %+v vs %+v", key, d, other)
		}
	}
}

func TestUnmatchedCandidatesOrdering(t *testing.T) {
	m := newTestMatcher()
	cat := append(testCatalogue(), model.CatalogueEntry{ID: "paint", Name: "Facade paint coat", Unit: "m2", BasePrice: 8})

	res, err := m.MatchAll(context.Background(), testDocuments(), cat, nil)
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}

	got := m.UnmatchedCandidates(res, cat, 3)
	if len(got) != 2 {
		t.Fatalf("unmatched = %d, want 2", len(got))
	}
	if got[0].Name != "Painting of facades" || got[0].OccurrenceCount != 2 {
		t.Fatalf("first unmatched = %+v, want painting with 2 occurrences", got[0])
	}
	if got[1].Name != "Scaffolding" {
		t.Fatalf("second unmatched = %s, want Scaffolding", got[1].Name)
	}
	for _, c := range got[0].Candidates {
		if c.Entry.Unit != "m2" {
			t.Fatalf("candidate with wrong unit: %+v", c)
		}
	}
}

func TestDedupeCatalogueMergesAliases(t *testing.T) {
	m := newTestMatcher()
	cat := []model.CatalogueEntry{
		{ID: "a", Name: "Concrete C20", Unit: "m3", BasePrice: 100, Aliases: []string{"beton c20"}, SourceFile: "one.xlsx"},
		{ID: "b", Name: "concrete  c20", Unit: "m³", BasePrice: 90, Aliases: []string{"Beton C20", "бетон c20"}, SourceFile: "two.xlsx"},
		{ID: "c", Name: "Concrete C20", Unit: "pcs", BasePrice: 5},
	}

	got := m.DedupeCatalogue(cat)
	if len(got) != 2 {
		t.Fatalf("deduped len = %d, want 2", len(got))
	}
	if got[0].ID != "a" || got[0].BasePrice != 100 {
		t.Fatalf("first occurrence should win, got %+v", got[0])
	}
	want := []string{"beton c20", "бетон c20"}
	if !reflect.DeepEqual(got[0].Aliases, want) {
		t.Fatalf("aliases = %v, want %v", got[0].Aliases, want)
	}
	if len(cat[0].Aliases) != 1 {
		t.Fatal("input catalogue must not be mutated")
	}
}

// TestKeyOfSplitsWithPipeInUnit 测试单位中含分隔符时统一键仍可正确拆分
func TestKeyOfSplitsWithPipeInUnit(t *testing.T) {
	m := newTestMatcher()
	name, unit := m.KeyOf("Road marking", "lin|m").Split()
	if name != "road marking" || unit != "lin m" {
		t.Fatalf("Split = %q, %q, want %q, %q", name, unit, "road marking", "lin m")
	}
}
