package project

import (
	"time"

	"boqbalance/internal/model"
	"boqbalance/internal/service/session"
)

// SessionSummary 会话概要信息（用于会话列表）
type SessionSummary struct {
	SessionID     string    `json:"sessionId"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	LastOpenedAt  time.Time `json:"lastOpenedAt"`
	HasData       bool      `json:"hasData"`
	DocumentCount int       `json:"documentCount"`
	ItemCount     int       `json:"itemCount"`
	Iterations    int       `json:"iterations"`
	LastImportAt  time.Time `json:"lastImportAt"`
	LastFileName  string    `json:"lastFileName"`
}

// SessionsIndex 会话索引文件：data/projects.json
type SessionsIndex struct {
	SchemaVersion       int              `json:"schemaVersion"`
	LastActiveSessionID string           `json:"lastActiveSessionId"`
	LastEditedSessionID string           `json:"lastEditedSessionId"`
	Items               []SessionSummary `json:"items"`
}

// SessionMeta 会话目录元信息：data/{sessionId}/meta.json
type SessionMeta struct {
	SchemaVersion int       `json:"schemaVersion"`
	SessionID     string    `json:"sessionId"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// stateFile 会话状态文件：data/{sessionId}/state.json
type stateFile struct {
	SchemaVersion int           `json:"schemaVersion"`
	SessionID     string        `json:"sessionId"`
	SavedAt       time.Time     `json:"savedAt"`
	State         session.State `json:"state"`
}

// ImportHistoryItem 导入记录（用于会话详情页）
type ImportHistoryItem struct {
	ImportedAt    time.Time `json:"importedAt"`
	Kind          string    `json:"kind"`
	FileName      string    `json:"fileName"`
	ImportedCount int       `json:"importedCount"`
	SkippedCount  int       `json:"skippedCount"`
}

// SessionDetail 会话详情接口返回
type SessionDetail struct {
	Session SessionSummary      `json:"session"`
	Meta    SessionMeta         `json:"meta"`
	Live    session.Summary     `json:"live"`
	History []ImportHistoryItem `json:"history"`
}

// CurrentSession 当前选中会话
type CurrentSession struct {
	Session SessionSummary `json:"session"`
	HasData bool           `json:"hasData"`
}

// Restored 从磁盘恢复的会话及其人工覆盖（匹配结果需重新计算）
type Restored struct {
	Session   *session.Session
	Overrides []model.MatchDecision
}
