package session

import (
	"sort"
	"time"

	"boqbalance/internal/model"
)

// State 需要落盘的会话内容（匹配结果只保留人工覆盖，自动匹配可重算）
type State struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
	Documents []model.Document       `json:"documents"`
	Catalogue []model.CatalogueEntry `json:"catalogue"`
	Forecasts []model.StageForecast  `json:"forecasts"`
	Params    model.OptimizeParams   `json:"params"`
	Epoch     int                    `json:"paramsEpoch"`
	Overrides []model.MatchDecision  `json:"overrides"`
	Selected  int                    `json:"selected"`
}

// State 导出可持久化状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		ID:        s.id,
		Name:      s.name,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Documents: append([]model.Document(nil), s.documents...),
		Catalogue: append([]model.CatalogueEntry(nil), s.catalogue...),
		Forecasts: sortedForecasts(s.forecasts),
		Params:    s.params,
		Epoch:     s.paramsEpoch,
		Overrides: []model.MatchDecision{},
		Selected:  s.selected,
	}
	if s.match != nil {
		for _, key := range s.match.Order {
			if d, ok := s.match.Decision(key); ok && d.IsManualOverride {
				st.Overrides = append(st.Overrides, *d)
			}
		}
	}
	return st
}

// Restore 从持久化状态与迭代历史重建会话；匹配结果需调用方重新计算
func Restore(st State, history []*model.IterationResult) *Session {
	s := New(st.ID, st.Name, st.Params)
	if !st.CreatedAt.IsZero() {
		s.createdAt = st.CreatedAt
	}
	if !st.UpdatedAt.IsZero() {
		s.updatedAt = st.UpdatedAt
	}
	s.documents = append([]model.Document(nil), st.Documents...)
	s.catalogue = append([]model.CatalogueEntry(nil), st.Catalogue...)
	for _, f := range st.Forecasts {
		s.forecasts[f.StageCode] = f.Amount
	}

	s.history = append([]*model.IterationResult(nil), history...)
	sort.SliceStable(s.history, func(i, j int) bool { return s.history[i].Iteration < s.history[j].Iteration })
	s.paramsEpoch = st.Epoch
	if st.Selected != 0 && findIteration(s.history, st.Selected) != nil {
		s.selected = st.Selected
	}
	return s
}

// OverridesAsPrevious 把人工覆盖包装成 MatchAll 可用的上次结果
func OverridesAsPrevious(overrides []model.MatchDecision) *model.MatchResult {
	prev := model.NewMatchResult()
	for i := range overrides {
		d := overrides[i]
		d.IsManualOverride = true
		prev.Decisions[d.Key] = &d
	}
	return prev
}
