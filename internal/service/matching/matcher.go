// Package matching 清单行与价格库的匹配：候选排序、统一键去重、人工覆盖
package matching

import (
	"errors"
	"log/slog"
	"runtime"
	"time"

	"boqbalance/internal/model"
	"boqbalance/internal/service/similarity"
	"boqbalance/internal/service/units"
)

var (
	ErrEmptyCatalogue = errors.New("catalogue is empty")
	ErrEmptyDocuments = errors.New("documents contain no line items")
	ErrUnknownKey     = errors.New("unknown unified key")
	ErrInvalidItem    = errors.New("invalid line item")
)

// Options 匹配参数
type Options struct {
	MinScore    float64            // 候选列表的最低分
	AcceptScore float64            // 自动采纳的最低分
	TopN        int                // 候选数量上限
	Workers     int                // 并行评分的 goroutine 上限
	Weights     similarity.Weights // 相似度权重
}

// DefaultOptions 默认匹配参数
func DefaultOptions() Options {
	return Options{
		MinScore:    0.3,
		AcceptScore: 0.6,
		TopN:        5,
		Workers:     runtime.NumCPU(),
		Weights:     similarity.DefaultWeights(),
	}
}

// Matcher 匹配器（无会话状态，可并发使用）
type Matcher struct {
	units  *units.Table
	scorer *similarity.Scorer
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New 创建匹配器；table 为 nil 时使用内置单位表
func New(table *units.Table, opts Options, logger *slog.Logger) *Matcher {
	if table == nil {
		table = units.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.TopN <= 0 {
		opts.TopN = def.TopN
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.AcceptScore < opts.MinScore {
		opts.AcceptScore = opts.MinScore
	}
	return &Matcher{
		units:  table,
		scorer: similarity.NewScorer(opts.Weights),
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Options 当前参数
func (m *Matcher) Options() Options {
	return m.opts
}

// KeyOf 计算统一键：规范化名称 | 规范单位
func (m *Matcher) KeyOf(name, unit string) model.UnifiedKey {
	return model.UnifiedKey(similarity.Normalize(name) + "|" + m.units.Canonicalize(unit))
}

// KeyOfItem 清单行的统一键
func (m *Matcher) KeyOfItem(item model.LineItem) model.UnifiedKey {
	return m.KeyOf(item.Name, item.Unit)
}
