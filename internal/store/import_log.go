package store

import (
	"fmt"
	"time"
)

// ImportLog 导入日志
type ImportLog struct {
	ID           int64      `json:"id"`
	SessionID    string     `json:"sessionId"`
	Kind         string     `json:"kind"`
	Filename     string     `json:"filename"`
	FileSize     int64      `json:"fileSize"`
	FileHash     string     `json:"fileHash"`
	TotalSheets  int        `json:"totalSheets"`
	TotalRows    int        `json:"totalRows"`
	ImportedRows int        `json:"importedRows"`
	SkippedRows  int        `json:"skippedRows"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// CreateImportLog 创建导入日志，返回 import_log_id
func (s *Store) CreateImportLog(sessionID, kind, filename, filePath string, fileSize int64, fileHash string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO import_logs (session_id, kind, filename, file_path, file_size, file_hash, status)
		VALUES (?, ?, ?, ?, ?, ?, 'processing')
	`, sessionID, kind, filename, filePath, fileSize, fileHash)
	if err != nil {
		return 0, fmt.Errorf("failed to create import log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get import log id: %w", err)
	}
	return id, nil
}

// UpdateImportLog 完成导入日志更新
func (s *Store) UpdateImportLog(id int64, totalSheets, totalRows, importedRows, skippedRows int, status, errorMessage string) error {
	_, err := s.db.Exec(`
		UPDATE import_logs SET
			total_sheets = ?,
			total_rows = ?,
			imported_rows = ?,
			skipped_rows = ?,
			status = ?,
			error_message = ?,
			completed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, totalSheets, totalRows, importedRows, skippedRows, status, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update import log: %w", err)
	}
	return nil
}

// ListImportLogs 会话的导入日志（最新在前）
func (s *Store) ListImportLogs(sessionID string) ([]ImportLog, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, kind, filename, file_size, file_hash, total_sheets, total_rows,
		       imported_rows, skipped_rows, status, error_message, created_at, completed_at
		FROM import_logs WHERE session_id = ? ORDER BY id DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import logs: %w", err)
	}
	defer rows.Close()

	logs := []ImportLog{}
	for rows.Next() {
		var l ImportLog
		var completed *time.Time
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Kind, &l.Filename, &l.FileSize, &l.FileHash, &l.TotalSheets,
			&l.TotalRows, &l.ImportedRows, &l.SkippedRows, &l.Status, &l.ErrorMessage, &l.CreatedAt, &completed); err != nil {
			return nil, err
		}
		l.CompletedAt = completed
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
