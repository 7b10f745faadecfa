// Package reconcile 对账流程编排：在会话上串行执行匹配与求解，并把结果写入历史库
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"boqbalance/internal/model"
	"boqbalance/internal/service/iteration"
	"boqbalance/internal/service/matching"
	"boqbalance/internal/service/session"
	"boqbalance/internal/store"
)

const maxAttempts = 3

var ErrUnknownEntry = errors.New("unknown catalogue entry")

// HistorySink 迭代结果与人工覆盖的持久化目标（*store.Store 实现）
type HistorySink interface {
	SaveIteration(sessionID string, r *model.IterationResult) error
	RecordOverride(sessionID string, d model.MatchDecision, action string) error
}

// Service 对账服务（无状态，可被多个会话共享）
type Service struct {
	matcher    *matching.Matcher
	controller *iteration.Controller
	sink       HistorySink
	logger     *slog.Logger
}

// New 创建对账服务；sink 可为 nil（不落库）
func New(matcher *matching.Matcher, controller *iteration.Controller, sink HistorySink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		matcher:    matcher,
		controller: controller,
		sink:       sink,
		logger:     logger,
	}
}

// Matcher 使用的匹配器
func (s *Service) Matcher() *matching.Matcher {
	return s.matcher
}

// Match 对会话当前清单重新执行统一匹配，保留已有人工覆盖
func (s *Service) Match(ctx context.Context, sess *session.Session) (*model.MatchResult, error) {
	unlock := sess.RunLock()
	defer unlock()
	return s.matchLocked(ctx, sess, nil)
}

// Restore 会话加载后重建匹配结果；overrides 为落盘的人工覆盖
func (s *Service) Restore(ctx context.Context, sess *session.Session, overrides []model.MatchDecision) error {
	snap := sess.Snapshot()
	if len(snap.Documents) == 0 || len(snap.Catalogue) == 0 {
		return nil
	}
	unlock := sess.RunLock()
	defer unlock()
	_, err := s.matchLocked(ctx, sess, session.OverridesAsPrevious(overrides))
	return err
}

func (s *Service) matchLocked(ctx context.Context, sess *session.Session, previous *model.MatchResult) (*model.MatchResult, error) {
	for attempt := 1; ; attempt++ {
		snap := sess.Snapshot()
		prev := previous
		if prev == nil {
			prev = snap.Match
		}
		result, err := s.matcher.MatchAll(ctx, snap.LineItems(), snap.Catalogue, prev)
		if err != nil {
			return nil, err
		}
		err = sess.CommitMatch(snap.Version, result)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, session.ErrStaleSnapshot) || attempt >= maxAttempts {
			return nil, err
		}
		s.logger.Info("session changed during match, retrying", "session", sess.ID(), "attempt", attempt)
	}
}

// Optimize 执行下一轮求解并追加到会话历史。匹配结果过期时先重新匹配。
func (s *Service) Optimize(ctx context.Context, sess *session.Session) (*model.IterationResult, error) {
	unlock := sess.RunLock()
	defer unlock()
	return s.optimizeLocked(ctx, sess)
}

// Run 连续执行 n 轮自适应求解
func (s *Service) Run(ctx context.Context, sess *session.Session, n int) ([]*model.IterationResult, error) {
	if n <= 0 {
		n = 1
	}
	unlock := sess.RunLock()
	defer unlock()

	out := make([]*model.IterationResult, 0, n)
	for i := 0; i < n; i++ {
		r, err := s.optimizeLocked(ctx, sess)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) optimizeLocked(ctx context.Context, sess *session.Session) (*model.IterationResult, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap := sess.Snapshot()
		if len(snap.Documents) == 0 {
			return nil, fmt.Errorf("%w: no documents", iteration.ErrNotReady)
		}
		if len(snap.Forecasts) == 0 {
			return nil, fmt.Errorf("%w: no stage forecasts", iteration.ErrNotReady)
		}
		if !snap.MatchCurrent {
			if _, err := s.matchLocked(ctx, sess, nil); err != nil {
				return nil, err
			}
			snap = sess.Snapshot()
		}

		r, err := s.controller.Optimize(snap, snap.Match, snap.NextIteration(), snap.Latest())
		if err != nil {
			return nil, err
		}
		err = sess.AppendIteration(snap.Version, r)
		if errors.Is(err, session.ErrStaleSnapshot) && attempt < maxAttempts {
			s.logger.Info("session changed during solve, retrying", "session", sess.ID(), "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		if s.sink != nil {
			if err := s.sink.SaveIteration(sess.ID(), r); err != nil {
				s.logger.Warn("failed to persist iteration", "session", sess.ID(), "iteration", r.Iteration, "error", err)
			}
		}
		return r, nil
	}
}

// Override 人工指定统一键对应的价格库条目
func (s *Service) Override(ctx context.Context, sess *session.Session, key model.UnifiedKey, entryID string) (*model.MatchDecision, error) {
	entry, ok := findEntry(sess.Snapshot().Catalogue, entryID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntry, entryID)
	}

	var decision model.MatchDecision
	err := sess.UpdateMatch(func(r *model.MatchResult) error {
		if err := s.matcher.OverrideMatch(r, key, entry); err != nil {
			return err
		}
		decision = *r.Decisions[key]
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(sess.ID(), decision, store.OverrideSet)
	return &decision, nil
}

// ClearOverride 撤销人工覆盖并立即重新匹配
func (s *Service) ClearOverride(ctx context.Context, sess *session.Session, key model.UnifiedKey) (*model.MatchResult, error) {
	var cleared model.MatchDecision
	err := sess.UpdateMatch(func(r *model.MatchResult) error {
		if d, ok := r.Decision(key); ok {
			cleared = *d
		}
		return s.matcher.ClearOverride(r, key)
	})
	if err != nil {
		return nil, err
	}
	if cleared.IsManualOverride {
		s.record(sess.ID(), cleared, store.OverrideClear)
	}
	return s.Match(ctx, sess)
}

// Unmatched 未匹配键及候选
func (s *Service) Unmatched(sess *session.Session, topN int) ([]model.UnifiedCandidate, error) {
	snap := sess.Snapshot()
	if snap.Match == nil {
		return nil, session.ErrNoMatch
	}
	return s.matcher.UnmatchedCandidates(snap.Match, snap.Catalogue, topN), nil
}

func (s *Service) record(sessionID string, d model.MatchDecision, action string) {
	if s.sink == nil {
		return
	}
	if err := s.sink.RecordOverride(sessionID, d, action); err != nil {
		s.logger.Warn("failed to record override", "session", sessionID, "key", d.Key, "error", err)
	}
}

func findEntry(catalogue []model.CatalogueEntry, id string) (model.CatalogueEntry, bool) {
	for _, e := range catalogue {
		if e.ID == id {
			return e, true
		}
	}
	return model.CatalogueEntry{}, false
}
