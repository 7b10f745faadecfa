package calculator

import (
	"testing"

	"boqbalance/internal/model"
)

func TestLedgerBreakdowns(t *testing.T) {
	l := NewLedger()
	l.Add(model.LineItem{StageCode: "S1", SourceFileID: "f1"}, 100, 120, true)
	l.Add(model.LineItem{StageCode: "S1", SourceFileID: "f2"}, 50, 60, true)
	l.Add(model.LineItem{StageCode: "S2", SourceFileID: "f1"}, 0, 0, false)

	stages := l.StageBreakdown(map[string]float64{"S1": 200, "S3": 40}, []string{"S3"})
	if len(stages) != 3 {
		t.Fatalf("stages = %+v, want 3", stages)
	}
	s1 := stages[0]
	if s1.StageCode != "S1" || !floatEquals(s1.Proposed, 180) || !floatEquals(s1.Gap, 20) || !floatEquals(s1.GapPercent, 10) || s1.ItemCount != 2 {
		t.Errorf("S1 = %+v", s1)
	}
	if s2 := stages[1]; s2.Forecast != 0 || s2.Gap != 0 || s2.ItemCount != 1 {
		t.Errorf("S2 without forecast = %+v", s2)
	}
	if s3 := stages[2]; !s3.Infeasible || !floatEquals(s3.Gap, 40) {
		t.Errorf("S3 = %+v", s3)
	}

	files := l.FileBreakdown()
	if len(files) != 3 {
		t.Fatalf("files = %+v, want 3", files)
	}
	if files[0].SourceFileID != "f1" || files[0].StageCode != "S1" || !floatEquals(files[0].Proposed, 120) {
		t.Errorf("files[0] = %+v", files[0])
	}
	if files[2].Unmatched != 1 || files[2].ItemCount != 1 {
		t.Errorf("files[2] = %+v", files[2])
	}
	if s1 := stages[0]; s1.StageCode != "S1" || !floatEquals(s1.Proposed, 180) {
		t.Errorf("S1 = %+v, want proposed 180", s1)
	}
}
