package store

import (
	"fmt"
	"time"

	"boqbalance/internal/model"
)

// 人工覆盖审计动作
const (
	OverrideSet   = "set"
	OverrideClear = "clear"
)

// OverrideRecord 人工覆盖审计记录
type OverrideRecord struct {
	ID        int64            `json:"id"`
	SessionID string           `json:"sessionId"`
	Key       model.UnifiedKey `json:"key"`
	EntryID   string           `json:"entryId"`
	EntryName string           `json:"entryName"`
	Action    string           `json:"action"`
	Score     float64          `json:"score"`
	CreatedAt time.Time        `json:"createdAt"`
}

// RecordOverride 记录一次人工覆盖或撤销
func (s *Store) RecordOverride(sessionID string, d model.MatchDecision, action string) error {
	_, err := s.db.Exec(`
		INSERT INTO match_overrides (session_id, unified_key, entry_id, entry_name, action, score)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, string(d.Key), d.Entry.ID, d.Entry.Name, action, d.Score)
	if err != nil {
		return fmt.Errorf("failed to record override: %w", err)
	}
	return nil
}

// ListOverrides 会话的覆盖审计记录，按时间顺序
func (s *Store) ListOverrides(sessionID string) ([]OverrideRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, unified_key, entry_id, entry_name, action, score, created_at
		FROM match_overrides WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	out := []OverrideRecord{}
	for rows.Next() {
		var r OverrideRecord
		var key string
		if err := rows.Scan(&r.ID, &r.SessionID, &key, &r.EntryID, &r.EntryName, &r.Action, &r.Score, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Key = model.UnifiedKey(key)
		out = append(out, r)
	}
	return out, rows.Err()
}
