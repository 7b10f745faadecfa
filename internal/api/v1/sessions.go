package v1

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CreateSessionRequest 新建会话请求
type CreateSessionRequest struct {
	Name string `json:"name"`
}

// ListSessions 会话列表
// GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.projects.List())
}

// CreateSession 新建会话并设为当前会话
// POST /api/v1/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "会话名称不能为空"})
		return
	}
	sess, err := h.projects.CreateSession(strings.TrimSpace(req.Name))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.Summary())
}

// GetSession 会话详情
// GET /api/v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	detail, err := h.projects.Detail(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// SelectSession 切换当前会话
// POST /api/v1/sessions/:id/select
func (h *Handler) SelectSession(c *gin.Context) {
	summary, err := h.projects.SelectSession(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// DeleteSession 删除会话及其历史
// DELETE /api/v1/sessions/:id
func (h *Handler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.projects.DeleteSession(id); err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.DeleteSession(id); err != nil {
		h.logger.Warn("delete session history failed", "session", id, "error", err)
	}
	c.Status(http.StatusNoContent)
}
