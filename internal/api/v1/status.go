package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatusResponse 系统状态响应
type StatusResponse struct {
	Initialized     bool   `json:"initialized"`     // 当前会话是否已有清单
	Sessions        int    `json:"sessions"`        // 会话总数
	ActiveSessionID string `json:"activeSessionId"` // 当前会话
	Documents       int    `json:"documents"`       // 当前会话清单文件数
	Items           int    `json:"items"`           // 当前会话清单行数
	Iterations      int    `json:"iterations"`      // 当前会话迭代轮数
	LastImportTime  string `json:"lastImportTime"`  // 最后导入时间
}

// GetStatus 获取系统状态
// GET /api/v1/status
func (h *Handler) GetStatus(c *gin.Context) {
	resp := StatusResponse{Sessions: h.sessions.Count()}
	if h.projects != nil {
		resp.ActiveSessionID = h.projects.ActiveID()
	}
	if resp.ActiveSessionID == "" {
		c.JSON(http.StatusOK, resp)
		return
	}

	if sess, err := h.sessions.Get(resp.ActiveSessionID); err == nil {
		sum := sess.Summary()
		resp.Documents = sum.Documents
		resp.Items = sum.Items
		resp.Iterations = sum.Iterations
		resp.Initialized = sum.Documents > 0
	}

	if h.store != nil {
		logs, err := h.store.ListImportLogs(resp.ActiveSessionID)
		if err == nil && len(logs) > 0 {
			resp.LastImportTime = logs[0].CreatedAt.Format(time.RFC3339)
		}
	}

	c.JSON(http.StatusOK, resp)
}
