package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"boqbalance/internal/model"
)

// MatchAll 统一匹配：按统一键分组，每个键只匹配一次，结果作用于全部出现行。
// previous 中的人工覆盖在键仍存在时原样保留，不会被自动匹配改写。
func (m *Matcher) MatchAll(ctx context.Context, documents [][]model.LineItem, catalogue []model.CatalogueEntry, previous *model.MatchResult) (*model.MatchResult, error) {
	if len(catalogue) == 0 {
		return nil, ErrEmptyCatalogue
	}

	start := time.Now()
	result := model.NewMatchResult()
	for _, doc := range documents {
		for _, item := range doc {
			if errs := item.Validate(); len(errs) > 0 {
				return nil, fmt.Errorf("%w: %s: %s", ErrInvalidItem, item.Ref(), errs[0].Error())
			}
			key := m.KeyOfItem(item)
			g, ok := result.Groups[key]
			if !ok {
				g = &model.KeyGroup{Key: key, Name: item.Name, Unit: item.Unit}
				result.Groups[key] = g
				result.Order = append(result.Order, key)
			}
			g.Occurrences = append(g.Occurrences, item)
		}
	}
	if len(result.Order) == 0 {
		return nil, ErrEmptyDocuments
	}

	idx := m.buildIndex(m.DedupeCatalogue(catalogue))
	decisions := make([]*model.MatchDecision, len(result.Order))
	now := m.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for i, key := range result.Order {
		if prev, ok := previous.Decision(key); ok && prev.IsManualOverride {
			cp := *prev
			decisions[i] = &cp
			continue
		}
		rep := result.Groups[key].Representative()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			best := m.rank(rep.Name, rep.Unit, idx, 1, m.opts.AcceptScore)
			if len(best) == 0 {
				return nil
			}
			decisions[i] = m.autoDecision(key, best[0], previous, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	for i, key := range result.Order {
		if decisions[i] != nil {
			result.Decisions[key] = decisions[i]
		}
	}
	result.RecomputeStats()

	m.logger.Info("match run complete",
		"items", result.Stats.TotalItems,
		"positions", result.Stats.UniquePositions,
		"matched_positions", result.Stats.MatchedPositions,
		"manual_overrides", result.Stats.ManualOverrides,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// autoDecision 生成自动决策；与上次结果一致时沿用其决策时间
func (m *Matcher) autoDecision(key model.UnifiedKey, best model.MatchCandidate, previous *model.MatchResult, now time.Time) *model.MatchDecision {
	decidedAt := now
	if prev, ok := previous.Decision(key); ok && prev.Entry.ID == best.Entry.ID && prev.Score == best.Score {
		decidedAt = prev.DecidedAt
	}
	return &model.MatchDecision{
		Key:       key,
		Entry:     best.Entry,
		Score:     best.Score,
		DecidedAt: decidedAt,
	}
}

// OverrideMatch 人工指定某统一键的价格库条目，作用于该键的全部出现行
func (m *Matcher) OverrideMatch(result *model.MatchResult, key model.UnifiedKey, entry model.CatalogueEntry) error {
	if result == nil {
		return ErrUnknownKey
	}
	g, ok := result.Groups[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if !m.units.AreEquivalent(g.Unit, entry.Unit) {
		m.logger.Warn("override with non-equivalent unit", "key", key, "entry", entry.Name, "unit", entry.Unit)
	}
	rep := g.Representative()
	result.Decisions[key] = &model.MatchDecision{
		Key:              key,
		Entry:            entry,
		Score:            m.scorer.Score(rep.Name, entry.Name, entry.Aliases),
		IsManualOverride: true,
		DecidedAt:        m.now(),
	}
	result.RecomputeStats()
	return nil
}

// ClearOverride 撤销人工覆盖，下次 MatchAll 时重新自动匹配
func (m *Matcher) ClearOverride(result *model.MatchResult, key model.UnifiedKey) error {
	if result == nil {
		return ErrUnknownKey
	}
	if _, ok := result.Groups[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if d, ok := result.Decision(key); ok && d.IsManualOverride {
		delete(result.Decisions, key)
		result.RecomputeStats()
	}
	return nil
}

// UnmatchedCandidates 未匹配键及其最佳候选；按出现次数降序、名称升序。
// 候选不受分数阈值限制，单位过滤仍然生效。
func (m *Matcher) UnmatchedCandidates(result *model.MatchResult, catalogue []model.CatalogueEntry, topN int) []model.UnifiedCandidate {
	if result == nil {
		return nil
	}
	if topN <= 0 {
		topN = m.opts.TopN
	}

	idx := m.buildIndex(m.DedupeCatalogue(catalogue))
	out := []model.UnifiedCandidate{}
	for _, key := range result.Order {
		if _, ok := result.Decision(key); ok {
			continue
		}
		g := result.Groups[key]
		out = append(out, model.UnifiedCandidate{
			Key:             key,
			Name:            g.Name,
			Unit:            g.Unit,
			OccurrenceCount: len(g.Occurrences),
			Candidates:      m.rank(g.Name, g.Unit, idx, topN, 0),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurrenceCount != out[j].OccurrenceCount {
			return out[i].OccurrenceCount > out[j].OccurrenceCount
		}
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].Key < out[j].Key
	})
	return out
}
