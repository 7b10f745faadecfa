// Package session 会话：一次对账工作的全部可变状态（清单、价格库、预算、匹配、迭代历史）
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"boqbalance/internal/model"
)

var (
	ErrStaleSnapshot    = errors.New("session changed since snapshot was taken")
	ErrNotFound         = errors.New("session not found")
	ErrUnknownIteration = errors.New("unknown iteration")
	ErrUnknownDocument  = errors.New("unknown document")
	ErrNoMatch          = errors.New("session has no match result")
	ErrInvalidForecast  = errors.New("invalid forecast")
)

// Session 会话。写操作持写锁并递增版本号；
// 计算路径在读锁下取快照，无锁计算，再带版本号回写。
type Session struct {
	mu  sync.RWMutex
	run sync.Mutex // 串行化匹配与求解

	id        string
	name      string
	createdAt time.Time
	updatedAt time.Time

	documents []model.Document
	catalogue []model.CatalogueEntry
	forecasts map[string]float64
	params    model.OptimizeParams
	match     *model.MatchResult
	history   []*model.IterationResult
	selected  int // 0 表示最新一轮
	version   uint64

	paramsEpoch  int    // 最近一次设置参数时已有的迭代轮数
	dataVersion  uint64 // 清单或价格库变化时递增
	matchVersion uint64 // 当前匹配结果对应的 dataVersion
}

// New 创建空会话
func New(id, name string, params model.OptimizeParams) *Session {
	now := time.Now()
	return &Session{
		id:        id,
		name:      name,
		createdAt: now,
		updatedAt: now,
		forecasts: make(map[string]float64),
		params:    params,
	}
}

// ID 会话 ID
func (s *Session) ID() string { return s.id }

// Name 会话名称
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Rename 修改名称
func (s *Session) Rename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.updatedAt = time.Now()
}

// Version 当前版本号
func (s *Session) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// touch 写锁内调用
func (s *Session) touch() {
	s.version++
	s.updatedAt = time.Now()
}

// touchData 清单或价格库变化，使当前匹配结果过期
func (s *Session) touchData() {
	s.dataVersion++
	s.touch()
}

// AddDocument 添加清单文件；同 FileID 覆盖原文件
func (s *Session) AddDocument(doc model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc.Items = append([]model.LineItem(nil), doc.Items...)
	for i := range s.documents {
		if s.documents[i].FileID == doc.FileID {
			s.documents[i] = doc
			s.touchData()
			return
		}
	}
	s.documents = append(s.documents, doc)
	s.touchData()
}

// RemoveDocument 移除清单文件
func (s *Session) RemoveDocument(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.documents {
		if s.documents[i].FileID == fileID {
			s.documents = append(s.documents[:i], s.documents[i+1:]...)
			s.touchData()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownDocument, fileID)
}

// AppendCatalogue 追加价格库条目（多个价格库文件依次导入）
func (s *Session) AppendCatalogue(entries []model.CatalogueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catalogue = append(s.catalogue, entries...)
	s.touchData()
}

// SetCatalogue 替换价格库
func (s *Session) SetCatalogue(entries []model.CatalogueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catalogue = append([]model.CatalogueEntry(nil), entries...)
	s.touchData()
}

// SetForecasts 替换全部阶段预算
func (s *Session) SetForecasts(list []model.StageForecast) error {
	for _, f := range list {
		if f.StageCode == "" || f.Amount <= 0 {
			return fmt.Errorf("%w: stage %q amount %v", ErrInvalidForecast, f.StageCode, f.Amount)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.forecasts = make(map[string]float64, len(list))
	for _, f := range list {
		s.forecasts[f.StageCode] = f.Amount
	}
	s.touch()
	return nil
}

// SetForecast 手工修改单个阶段预算
func (s *Session) SetForecast(stage string, amount float64) error {
	if stage == "" || amount <= 0 {
		return fmt.Errorf("%w: stage %q amount %v", ErrInvalidForecast, stage, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.forecasts[stage] = amount
	s.touch()
	return nil
}

// Forecasts 预算列表（按阶段编码排序）
func (s *Session) Forecasts() []model.StageForecast {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedForecasts(s.forecasts)
}

// SetParams 设置求解参数
func (s *Session) SetParams(p model.OptimizeParams) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.params = p
	s.paramsEpoch = len(s.history)
	s.touch()
}

// Params 当前求解参数
func (s *Session) Params() model.OptimizeParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Match 当前匹配结果的副本
func (s *Session) Match() *model.MatchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.match.Clone()
}

// CommitMatch 回写匹配结果；快照之后会话被修改则丢弃
func (s *Session) CommitMatch(version uint64, r *model.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != version {
		return ErrStaleSnapshot
	}
	s.match = r.Clone()
	s.matchVersion = s.dataVersion
	s.touch()
	return nil
}

// UpdateMatch 在写锁内修改匹配结果（人工覆盖等）
func (s *Session) UpdateMatch(fn func(r *model.MatchResult) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.match == nil {
		return ErrNoMatch
	}
	next := s.match.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.match = next
	s.touch()
	return nil
}

// AppendIteration 追加迭代结果；快照之后会话被修改则丢弃
func (s *Session) AppendIteration(version uint64, r *model.IterationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != version {
		return ErrStaleSnapshot
	}
	s.history = append(s.history, r)
	s.touch()
	return nil
}

// History 迭代历史（结果本身不可变，可共享）
func (s *Session) History() []*model.IterationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.IterationResult(nil), s.history...)
}

// Select 固定导出使用的迭代；n 为 0 时恢复为最新一轮
func (s *Session) Select(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n != 0 && findIteration(s.history, n) == nil {
		return fmt.Errorf("%w: %d", ErrUnknownIteration, n)
	}
	s.selected = n
	s.updatedAt = time.Now()
	return nil
}

// Selected 当前选中的迭代（未固定时为最新一轮）
func (s *Session) Selected() (*model.IterationResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := selectedIteration(s.history, s.selected)
	return r, r != nil
}

// RunLock 获取运行锁，返回释放函数
func (s *Session) RunLock() func() {
	s.run.Lock()
	return s.run.Unlock
}

// Snapshot 读锁下的深拷贝，供无锁计算使用
func (s *Session) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]model.Document, len(s.documents))
	for i, d := range s.documents {
		d.Items = append([]model.LineItem(nil), d.Items...)
		docs[i] = d
	}
	forecasts := make(map[string]float64, len(s.forecasts))
	for k, v := range s.forecasts {
		forecasts[k] = v
	}
	return &Snapshot{
		ID:        s.id,
		Version:   s.version,
		Documents: docs,
		Catalogue: append([]model.CatalogueEntry(nil), s.catalogue...),
		Forecasts: forecasts,
		Params:    s.params,
		Match:     s.match.Clone(),
		History:   append([]*model.IterationResult(nil), s.history...),
		Selected:  s.selected,

		ParamsEpoch:  s.paramsEpoch,
		MatchCurrent: s.match != nil && s.matchVersion == s.dataVersion,
	}
}

// Summary 会话概要
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		ID:               s.id,
		Name:             s.name,
		Documents:        len(s.documents),
		CatalogueEntries: len(s.catalogue),
		Stages:           len(s.forecasts),
		Iterations:       len(s.history),
		Selected:         s.selected,
		Version:          s.version,
		CreatedAt:        s.createdAt,
		UpdatedAt:        s.updatedAt,
	}
	for _, d := range s.documents {
		sum.Items += len(d.Items)
	}
	if s.match != nil {
		stats := s.match.Stats
		sum.Match = &stats
	}
	if r := selectedIteration(s.history, s.selected); r != nil {
		sum.SelectedStatus = r.Status
	}
	return sum
}

// Snapshot 会话某一版本的只读副本
type Snapshot struct {
	ID        string
	Version   uint64
	Documents []model.Document
	Catalogue []model.CatalogueEntry
	Forecasts map[string]float64
	Params    model.OptimizeParams
	Match     *model.MatchResult
	History   []*model.IterationResult
	Selected  int

	ParamsEpoch  int  // 参数设置于第几轮之后
	MatchCurrent bool // 匹配结果基于当前清单与价格库
}

// LineItems 按文件分组的清单行
func (s *Snapshot) LineItems() [][]model.LineItem {
	out := make([][]model.LineItem, len(s.Documents))
	for i, d := range s.Documents {
		out[i] = d.Items
	}
	return out
}

// Latest 最近一轮迭代
func (s *Snapshot) Latest() *model.IterationResult {
	if len(s.History) == 0 {
		return nil
	}
	return s.History[len(s.History)-1]
}

// NextIteration 下一轮的迭代编号
func (s *Snapshot) NextIteration() int {
	if last := s.Latest(); last != nil {
		return last.Iteration + 1
	}
	return 1
}

// SelectedIteration 选中的迭代
func (s *Snapshot) SelectedIteration() *model.IterationResult {
	return selectedIteration(s.History, s.Selected)
}

// Summary 会话概要（列表展示）
type Summary struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Documents        int                `json:"documents"`
	Items            int                `json:"items"`
	CatalogueEntries int                `json:"catalogueEntries"`
	Stages           int                `json:"stages"`
	Iterations       int                `json:"iterations"`
	Selected         int                `json:"selected"`
	SelectedStatus   model.SolverStatus `json:"selectedStatus,omitempty"`
	Match            *model.MatchStats  `json:"match,omitempty"`
	Version          uint64             `json:"version"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

func findIteration(history []*model.IterationResult, n int) *model.IterationResult {
	for _, r := range history {
		if r.Iteration == n {
			return r
		}
	}
	return nil
}

func selectedIteration(history []*model.IterationResult, selected int) *model.IterationResult {
	if selected != 0 {
		if r := findIteration(history, selected); r != nil {
			return r
		}
	}
	if len(history) == 0 {
		return nil
	}
	return history[len(history)-1]
}

func sortedForecasts(m map[string]float64) []model.StageForecast {
	out := make([]model.StageForecast, 0, len(m))
	for k, v := range m {
		out = append(out, model.StageForecast{StageCode: k, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageCode < out[j].StageCode })
	return out
}
