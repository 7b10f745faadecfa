package calculator

import (
	"sort"

	"boqbalance/internal/model"
)

type ledgerEntry struct {
	base      float64
	proposed  float64
	items     int
	unmatched int
}

type fileStage struct {
	file  string
	stage string
}

// Ledger 按阶段、按文件×阶段累计基准金额与调整后金额（用于结果展开）
type Ledger struct {
	stages    map[string]*ledgerEntry
	files     map[fileStage]*ledgerEntry
	fileOrder []fileStage
}

// NewLedger 创建空账本
func NewLedger() *Ledger {
	return &Ledger{
		stages: make(map[string]*ledgerEntry),
		files:  make(map[fileStage]*ledgerEntry),
	}
}

// Add 记入一行；未匹配行只计数，不计金额
func (l *Ledger) Add(item model.LineItem, base, proposed float64, matched bool) {
	fs := fileStage{file: item.SourceFileID, stage: item.StageCode}
	fe, ok := l.files[fs]
	if !ok {
		fe = &ledgerEntry{}
		l.files[fs] = fe
		l.fileOrder = append(l.fileOrder, fs)
	}
	se, ok := l.stages[item.StageCode]
	if !ok {
		se = &ledgerEntry{}
		l.stages[item.StageCode] = se
	}

	for _, e := range []*ledgerEntry{fe, se} {
		e.items++
		if !matched {
			e.unmatched++
			continue
		}
		e.base += base
		e.proposed += proposed
	}
}

// StageBreakdown 阶段汇总；包含有预算但无清单行的阶段，按阶段编码排序
func (l *Ledger) StageBreakdown(forecasts map[string]float64, infeasible []string) []model.StageBreakdown {
	codes := make(map[string]bool, len(l.stages)+len(forecasts))
	for s := range l.stages {
		codes[s] = true
	}
	for s := range forecasts {
		codes[s] = true
	}
	sorted := make([]string, 0, len(codes))
	for s := range codes {
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)

	out := make([]model.StageBreakdown, 0, len(sorted))
	for _, s := range sorted {
		sb := model.StageBreakdown{StageCode: s, Forecast: forecasts[s], Infeasible: isIn(infeasible, s)}
		if e, ok := l.stages[s]; ok {
			sb.BaseTotal = e.base
			sb.Proposed = e.proposed
			sb.ItemCount = e.items
		}
		if _, ok := forecasts[s]; ok {
			sb.Gap = sb.Forecast - sb.Proposed
			sb.GapPercent = calcGapPercent(sb.Gap, sb.Forecast)
		}
		out = append(out, sb)
	}
	return out
}

// FileBreakdown 文件×阶段汇总，按首次出现顺序
func (l *Ledger) FileBreakdown() []model.FileBreakdown {
	out := make([]model.FileBreakdown, 0, len(l.fileOrder))
	for _, fs := range l.fileOrder {
		e := l.files[fs]
		out = append(out, model.FileBreakdown{
			SourceFileID: fs.file,
			StageCode:    fs.stage,
			BaseTotal:    e.base,
			Proposed:     e.proposed,
			ItemCount:    e.items,
			Unmatched:    e.unmatched,
		})
	}
	return out
}
