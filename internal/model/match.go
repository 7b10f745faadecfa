package model

import (
	"strings"
	"time"
)

// UnifiedKey 统一键：规范化名称 + "|" + 规范化单位
type UnifiedKey string

// Split 拆分出名称与单位部分
func (k UnifiedKey) Split() (name, unit string) {
	s := string(k)
	idx := strings.LastIndex(s, "|")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}

// MatchCandidate 候选价格库条目
type MatchCandidate struct {
	Entry CatalogueEntry `json:"entry"`
	Score float64        `json:"score"`
}

// MatchDecision 某统一键的匹配决策
type MatchDecision struct {
	Key              UnifiedKey     `json:"key"`
	Entry            CatalogueEntry `json:"entry"`
	Score            float64        `json:"score"`
	IsManualOverride bool           `json:"isManualOverride"`
	DecidedAt        time.Time      `json:"decidedAt"`
}

// KeyGroup 共享同一统一键的全部清单行
type KeyGroup struct {
	Key         UnifiedKey `json:"key"`
	Name        string     `json:"name"` // 首次出现的原始名称
	Unit        string     `json:"unit"` // 首次出现的原始单位
	Occurrences []LineItem `json:"occurrences"`
}

// Representative 代表行（首次出现）
func (g *KeyGroup) Representative() LineItem {
	if len(g.Occurrences) == 0 {
		return LineItem{Name: g.Name, Unit: g.Unit}
	}
	return g.Occurrences[0]
}

// MatchStats 匹配统计
type MatchStats struct {
	TotalItems       int `json:"totalItems"`
	MatchedItems     int `json:"matchedItems"`
	UnmatchedItems   int `json:"unmatchedItems"`
	UniquePositions  int `json:"uniquePositions"`
	MatchedPositions int `json:"matchedPositions"`
	ManualOverrides  int `json:"manualOverrides"`
}

// MatchResult 统一匹配结果
type MatchResult struct {
	Groups    map[UnifiedKey]*KeyGroup      `json:"groups"`
	Order     []UnifiedKey                  `json:"order"` // 首次出现顺序
	Decisions map[UnifiedKey]*MatchDecision `json:"decisions"`
	Stats     MatchStats                    `json:"stats"`
}

// NewMatchResult 创建空匹配结果
func NewMatchResult() *MatchResult {
	return &MatchResult{
		Groups:    make(map[UnifiedKey]*KeyGroup),
		Order:     []UnifiedKey{},
		Decisions: make(map[UnifiedKey]*MatchDecision),
	}
}

// Decision 获取某键的有效决策
func (r *MatchResult) Decision(key UnifiedKey) (*MatchDecision, bool) {
	if r == nil {
		return nil, false
	}
	d, ok := r.Decisions[key]
	return d, ok && d != nil
}

// RecomputeStats 依据分组与决策重算统计
func (r *MatchResult) RecomputeStats() {
	stats := MatchStats{UniquePositions: len(r.Order)}
	for _, key := range r.Order {
		g := r.Groups[key]
		n := len(g.Occurrences)
		stats.TotalItems += n
		if d, ok := r.Decision(key); ok {
			stats.MatchedItems += n
			stats.MatchedPositions++
			if d.IsManualOverride {
				stats.ManualOverrides++
			}
		} else {
			stats.UnmatchedItems += n
		}
	}
	r.Stats = stats
}

// Clone 深拷贝（会话快照使用）
func (r *MatchResult) Clone() *MatchResult {
	if r == nil {
		return nil
	}
	out := &MatchResult{
		Groups:    make(map[UnifiedKey]*KeyGroup, len(r.Groups)),
		Order:     append([]UnifiedKey(nil), r.Order...),
		Decisions: make(map[UnifiedKey]*MatchDecision, len(r.Decisions)),
		Stats:     r.Stats,
	}
	for k, g := range r.Groups {
		cp := *g
		cp.Occurrences = append([]LineItem(nil), g.Occurrences...)
		out.Groups[k] = &cp
	}
	for k, d := range r.Decisions {
		if d == nil {
			continue
		}
		cp := *d
		cp.Entry.Aliases = append([]string(nil), d.Entry.Aliases...)
		out.Decisions[k] = &cp
	}
	return out
}

// UnifiedCandidate 未匹配键及其候选（供人工处理）
type UnifiedCandidate struct {
	Key             UnifiedKey       `json:"key"`
	Name            string           `json:"name"`
	Unit            string           `json:"unit"`
	OccurrenceCount int              `json:"occurrenceCount"`
	Candidates      []MatchCandidate `json:"candidates"`
}
