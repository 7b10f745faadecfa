package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"boqbalance/internal/model"
)

var ErrIterationNotFound = errors.New("iteration not found")

// IterationRow 迭代摘要（列表展示，不含完整结果）
type IterationRow struct {
	SessionID  string             `json:"sessionId"`
	Number     int                `json:"number"`
	Status     model.SolverStatus `json:"status"`
	Objective  float64            `json:"objective"`
	Proposed   float64            `json:"proposed"`
	Forecast   float64            `json:"forecast"`
	Lambda     float64            `json:"lambda"`
	MinCoeff   float64            `json:"minCoeff"`
	MaxCoeff   float64            `json:"maxCoeff"`
	DurationMs int64              `json:"durationMs"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// SaveIteration 保存迭代结果；同一会话同一轮次覆盖
func (s *Store) SaveIteration(sessionID string, r *model.IterationResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode iteration: %w", err)
	}
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM iterations WHERE session_id = ? AND number = ?", sessionID, r.Iteration); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO iterations (session_id, number, status, objective, proposed, forecast,
				lambda, min_coeff, max_coeff, duration_ms, result_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sessionID, r.Iteration, string(r.Status), r.ObjectiveValue, r.OverallProposed, r.OverallForecast,
			r.Params.Lambda, r.Params.Bounds.Min, r.Params.Bounds.Max, r.DurationMs, string(payload), r.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to save iteration: %w", err)
		}
		return nil
	})
}

// ListIterations 迭代摘要，按轮次升序
func (s *Store) ListIterations(sessionID string) ([]IterationRow, error) {
	rows, err := s.db.Query(`
		SELECT session_id, number, status, objective, proposed, forecast, lambda, min_coeff, max_coeff, duration_ms, created_at
		FROM iterations WHERE session_id = ? ORDER BY number
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	defer rows.Close()

	out := []IterationRow{}
	for rows.Next() {
		var r IterationRow
		var status string
		if err := rows.Scan(&r.SessionID, &r.Number, &status, &r.Objective, &r.Proposed, &r.Forecast,
			&r.Lambda, &r.MinCoeff, &r.MaxCoeff, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Status = model.SolverStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetIteration 读取完整迭代结果
func (s *Store) GetIteration(sessionID string, number int) (*model.IterationResult, error) {
	var payload string
	err := s.db.QueryRow("SELECT result_json FROM iterations WHERE session_id = ? AND number = ?", sessionID, number).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s #%d", ErrIterationNotFound, sessionID, number)
		}
		return nil, err
	}
	var r model.IterationResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("failed to decode iteration: %w", err)
	}
	return &r, nil
}

// LoadHistory 读取会话全部迭代结果
func (s *Store) LoadHistory(sessionID string) ([]*model.IterationResult, error) {
	rows, err := s.db.Query("SELECT result_json FROM iterations WHERE session_id = ? ORDER BY number", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	out := []*model.IterationResult{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var r model.IterationResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("failed to decode iteration: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// DeleteSession 删除会话的全部历史记录
func (s *Store) DeleteSession(sessionID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM iterations WHERE session_id = ?",
			"DELETE FROM match_overrides WHERE session_id = ?",
			"DELETE FROM import_logs WHERE session_id = ?",
		} {
			if _, err := tx.Exec(q, sessionID); err != nil {
				return err
			}
		}
		return nil
	})
}
