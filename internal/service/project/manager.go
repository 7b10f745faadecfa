// Package project 会话持久化：索引维护、当前会话切换、状态落盘与自动保存
package project

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"boqbalance/internal/model"
	"boqbalance/internal/service/session"
)

const (
	schemaVersion    = 1
	maxImportHistory = 20
)

var saveDebounceDelay = time.Second

var ErrSessionNotFound = errors.New("session not found")

// HistoryLoader 迭代历史来源（*store.Store 实现）
type HistoryLoader interface {
	LoadHistory(sessionID string) ([]*model.IterationResult, error)
}

// Manager 会话管理器：负责索引维护、切换会话、持久化与自动保存
type Manager struct {
	dataDir  string
	registry *session.Registry
	history  HistoryLoader
	logger   *slog.Logger

	mu       sync.Mutex
	index    SessionsIndex
	activeID string
	timers   map[string]*time.Timer
	imports  map[string][]ImportHistoryItem // 待写入的导入记录
}

// NewManager 创建管理器并读取索引；history 可为 nil
func NewManager(dataDir string, registry *session.Registry, history HistoryLoader, logger *slog.Logger) (*Manager, error) {
	if err := requireNonEmptyString(dataDir, "dataDir is required"); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		dataDir:  dataDir,
		registry: registry,
		history:  history,
		logger:   logger,
		index: SessionsIndex{
			SchemaVersion: schemaVersion,
			Items:         []SessionSummary{},
		},
		timers:  make(map[string]*time.Timer),
		imports: make(map[string][]ImportHistoryItem),
	}

	if err := m.loadIndex(); err != nil {
		return nil, err
	}
	m.activeID = m.index.LastActiveSessionID
	return m, nil
}

func (m *Manager) indexPath() string {
	return filepath.Join(m.dataDir, "projects.json")
}

func (m *Manager) sessionDir(id string) string {
	return filepath.Join(m.dataDir, id)
}

func (m *Manager) metaPath(id string) string {
	return filepath.Join(m.sessionDir(id), "meta.json")
}

func (m *Manager) statePath(id string) string {
	return filepath.Join(m.sessionDir(id), "state.json")
}

func (m *Manager) historyPath(id string) string {
	return filepath.Join(m.sessionDir(id), "import_history.json")
}

func (m *Manager) latestXlsxPath(id string) string {
	return filepath.Join(m.sessionDir(id), "latest.xlsx")
}

func (m *Manager) loadIndex() error {
	path := m.indexPath()
	if !fileExists(path) {
		return writeJSONAtomic(path, m.index)
	}
	var idx SessionsIndex
	if err := readJSON(path, &idx); err != nil {
		return err
	}
	if idx.SchemaVersion == 0 {
		idx.SchemaVersion = schemaVersion
	}
	if idx.Items == nil {
		idx.Items = []SessionSummary{}
	}
	m.index = idx
	return nil
}

func (m *Manager) saveIndexLocked() error {
	return writeJSONAtomic(m.indexPath(), m.index)
}

// Load 把索引中的全部会话恢复到注册表。
// 单个会话读取失败只记录日志，不影响其他会话。
func (m *Manager) Load() ([]Restored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Restored, 0, len(m.index.Items))
	for _, item := range m.index.Items {
		st, err := m.readStateLocked(item)
		if err != nil {
			m.logger.Warn("failed to read session state", "session", item.SessionID, "error", err)
			continue
		}

		var history []*model.IterationResult
		if m.history != nil {
			history, err = m.history.LoadHistory(item.SessionID)
			if err != nil {
				m.logger.Warn("failed to load iteration history", "session", item.SessionID, "error", err)
			}
		}

		s := session.Restore(st, history)
		m.registry.Put(s)
		out = append(out, Restored{Session: s, Overrides: st.Overrides})
	}
	m.logger.Info("sessions restored", "count", len(out), "data_dir", m.dataDir)
	return out, nil
}

func (m *Manager) readStateLocked(item SessionSummary) (session.State, error) {
	path := m.statePath(item.SessionID)
	if !fileExists(path) {
		return session.State{
			ID:        item.SessionID,
			Name:      item.Name,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
			Params:    m.registry.Defaults(),
		}, nil
	}
	var file stateFile
	if err := readJSON(path, &file); err != nil {
		return session.State{}, err
	}
	if file.State.ID == "" {
		file.State.ID = item.SessionID
	}
	return file.State, nil
}

// List 会话索引（带最新统计）
func (m *Manager) List() SessionsIndex {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked()
	idx := m.index
	idx.Items = append([]SessionSummary(nil), m.index.Items...)
	return idx
}

// Current 当前选中会话
func (m *Manager) Current() (*CurrentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" {
		return &CurrentSession{Session: SessionSummary{}, HasData: false}, nil
	}
	summary, ok := m.findLocked(m.activeID)
	if !ok {
		return nil, fmt.Errorf("%w: current session %s", ErrSessionNotFound, m.activeID)
	}
	return &CurrentSession{Session: summary, HasData: summary.HasData}, nil
}

// ActiveID 当前会话 ID
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// CreateSession 新建会话并设为当前会话
func (m *Manager) CreateSession(name string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := requireNonEmptyString(name, "name is required"); err != nil {
		return nil, err
	}

	s := m.registry.Create(name)
	now := time.Now().UTC()
	meta := SessionMeta{
		SchemaVersion: schemaVersion,
		SessionID:     s.ID(),
		Name:          name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := writeJSONAtomic(m.metaPath(s.ID()), meta); err != nil {
		_ = m.registry.Delete(s.ID())
		return nil, err
	}
	if err := writeJSONAtomic(m.historyPath(s.ID()), []ImportHistoryItem{}); err != nil {
		_ = m.registry.Delete(s.ID())
		return nil, err
	}

	m.index.Items = append(m.index.Items, SessionSummary{
		SessionID:    s.ID(),
		Name:         name,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastOpenedAt: now,
	})
	m.index.LastActiveSessionID = s.ID()
	m.activeID = s.ID()

	if err := m.saveIndexLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// SelectSession 切换当前会话；切换前保存原会话
func (m *Manager) SelectSession(id string) (SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := requireNonEmptyString(id, "sessionId is required"); err != nil {
		return SessionSummary{}, err
	}
	summary, ok := m.findLocked(id)
	if !ok {
		return SessionSummary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if m.activeID != "" && m.activeID != id {
		if err := m.saveNowLocked(m.activeID); err != nil && !errors.Is(err, session.ErrNotFound) {
			return SessionSummary{}, err
		}
	}

	summary.LastOpenedAt = time.Now().UTC()
	m.replaceLocked(summary)
	m.index.LastActiveSessionID = id
	m.activeID = id

	if err := m.saveIndexLocked(); err != nil {
		return SessionSummary{}, err
	}
	return summary, nil
}

// Detail 会话详情
func (m *Manager) Detail(id string) (*SessionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary, ok := m.findLocked(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	var meta SessionMeta
	if err := readJSON(m.metaPath(id), &meta); err != nil {
		return nil, err
	}
	history := []ImportHistoryItem{}
	if fileExists(m.historyPath(id)) {
		_ = readJSON(m.historyPath(id), &history)
	}

	detail := &SessionDetail{Session: summary, Meta: meta, History: history}
	if s, err := m.registry.Get(id); err == nil {
		detail.Live = s.Summary()
	}
	return detail, nil
}

// DeleteSession 删除会话及其目录
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := requireNonEmptyString(id, "sessionId is required"); err != nil {
		return err
	}
	if _, ok := m.findLocked(id); !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	delete(m.imports, id)
	_ = m.registry.Delete(id)

	next := make([]SessionSummary, 0, len(m.index.Items))
	for _, item := range m.index.Items {
		if item.SessionID != id {
			next = append(next, item)
		}
	}
	m.index.Items = next

	// 先删目录再写索引，避免索引指向不存在的目录
	_ = os.RemoveAll(m.sessionDir(id))

	if m.activeID == id {
		m.activeID = ""
		m.index.LastActiveSessionID = ""
	}
	if m.index.LastEditedSessionID == id {
		m.index.LastEditedSessionID = m.activeID
	}
	return m.saveIndexLocked()
}

// RecordImport 登记一次导入，下次保存时写入导入记录
func (m *Manager) RecordImport(id string, item ImportHistoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.ImportedAt.IsZero() {
		item.ImportedAt = time.Now().UTC()
	}
	m.imports[id] = append(m.imports[id], item)
}

// SaveNow 立即保存会话
func (m *Manager) SaveNow(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveNowLocked(id)
}

// ScheduleSave 延迟保存；短时间内多次修改只落盘一次
func (m *Manager) ScheduleSave(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.findLocked(id); !ok {
		return
	}
	if t, ok := m.timers[id]; ok {
		t.Stop()
	}
	m.timers[id] = time.AfterFunc(saveDebounceDelay, func() {
		if err := m.SaveNow(id); err != nil {
			m.logger.Warn("scheduled save failed", "session", id, "error", err)
		}
	})
}

// Flush 立即保存全部待保存会话（退出前调用）
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
		if err := m.saveNowLocked(id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// SaveLatestXlsx 保存最近一次导出的报表
func (m *Manager) SaveLatestXlsx(id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		return errors.New("sessionId is required")
	}
	return writeBytesAtomic(m.latestXlsxPath(id), data)
}

func (m *Manager) saveNowLocked(id string) error {
	s, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	st := s.State()
	file := stateFile{
		SchemaVersion: schemaVersion,
		SessionID:     id,
		SavedAt:       now,
		State:         st,
	}
	if err := writeJSONAtomic(m.statePath(id), file); err != nil {
		return err
	}

	if summary, ok := m.findLocked(id); ok {
		summary.Name = st.Name
		summary.UpdatedAt = now
		if pending := m.imports[id]; len(pending) > 0 {
			last := pending[len(pending)-1]
			summary.LastImportAt = last.ImportedAt
			summary.LastFileName = last.FileName
		}
		m.replaceLocked(summary)
	}
	if pending := m.imports[id]; len(pending) > 0 {
		m.appendImportHistoryLocked(id, pending)
		delete(m.imports, id)
	}

	m.index.LastEditedSessionID = id
	m.refreshLocked()
	return m.saveIndexLocked()
}

func (m *Manager) appendImportHistoryLocked(id string, items []ImportHistoryItem) {
	history := []ImportHistoryItem{}
	if fileExists(m.historyPath(id)) {
		_ = readJSON(m.historyPath(id), &history)
	}
	for _, item := range items {
		history = append([]ImportHistoryItem{item}, history...)
	}
	if len(history) > maxImportHistory {
		history = history[:maxImportHistory]
	}
	if err := writeJSONAtomic(m.historyPath(id), history); err != nil {
		m.logger.Warn("failed to write import history", "session", id, "error", err)
	}
}

// refreshLocked 用注册表中的实时数据刷新索引统计，按最近打开时间排序
func (m *Manager) refreshLocked() {
	for i := range m.index.Items {
		item := &m.index.Items[i]
		s, err := m.registry.Get(item.SessionID)
		if err != nil {
			continue
		}
		sum := s.Summary()
		item.Name = sum.Name
		item.DocumentCount = sum.Documents
		item.ItemCount = sum.Items
		item.Iterations = sum.Iterations
		item.HasData = sum.Documents > 0
	}
	sort.SliceStable(m.index.Items, func(i, j int) bool {
		return m.index.Items[i].LastOpenedAt.After(m.index.Items[j].LastOpenedAt)
	})
}

func (m *Manager) findLocked(id string) (SessionSummary, bool) {
	for _, item := range m.index.Items {
		if item.SessionID == id {
			return item, true
		}
	}
	return SessionSummary{}, false
}

func (m *Manager) replaceLocked(summary SessionSummary) {
	for i := range m.index.Items {
		if m.index.Items[i].SessionID == summary.SessionID {
			m.index.Items[i] = summary
			return
		}
	}
}
