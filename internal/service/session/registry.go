package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"boqbalance/internal/model"
)

// Registry 多会话注册表
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	defaults model.OptimizeParams
}

// NewRegistry 创建注册表；defaults 为新会话的求解参数
func NewRegistry(defaults model.OptimizeParams) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		defaults: defaults,
	}
}

// Defaults 新会话的默认求解参数
func (r *Registry) Defaults() model.OptimizeParams {
	return r.defaults
}

// Create 新建会话
func (r *Registry) Create(name string) *Session {
	id := "s_" + uuid.NewString()[:8]
	s := New(id, name, r.defaults)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = s
	return s
}

// Put 注册已有会话（从磁盘恢复时使用）
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Get 获取会话
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Delete 删除会话
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.sessions, id)
	return nil
}

// List 会话概要，按创建时间排序
func (r *Registry) List() []Summary {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(all))
	for _, s := range all {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count 会话数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
