package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"boqbalance/internal/model"
	"boqbalance/internal/service/session"
)

// OverrideRequest 人工覆盖请求
type OverrideRequest struct {
	Key     string `json:"key"`
	EntryID string `json:"entryId"`
}

// Match 执行统一匹配（保留人工覆盖）
// POST /api/v1/sessions/:id/match
func (h *Handler) Match(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	ctx, cancel := h.runContext(c)
	defer cancel()

	result, err := h.recon.Match(ctx, sess)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetMatch 当前匹配结果
// GET /api/v1/sessions/:id/match
func (h *Handler) GetMatch(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	result := sess.Match()
	if result == nil {
		writeError(c, session.ErrNoMatch)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Unmatched 未匹配键及候选
// GET /api/v1/sessions/:id/unmatched?topN=5
func (h *Handler) Unmatched(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	topN := 0
	if v := c.Query("topN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "topN 必须是非负整数"})
			return
		}
		topN = n
	}

	list, err := h.recon.Unmatched(sess, topN)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "total": len(list)})
}

// Override 人工指定统一键的价格库条目
// POST /api/v1/sessions/:id/overrides
func (h *Handler) Override(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" || req.EntryID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key 与 entryId 不能为空"})
		return
	}

	decision, err := h.recon.Override(c.Request.Context(), sess, model.UnifiedKey(req.Key), req.EntryID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.changed(sess.ID())
	c.JSON(http.StatusOK, decision)
}

// ListOverrides 人工覆盖审计记录
// GET /api/v1/sessions/:id/overrides
func (h *Handler) ListOverrides(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	records, err := h.store.ListOverrides(sess.ID())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// ClearOverride 撤销人工覆盖并重新匹配
// DELETE /api/v1/sessions/:id/overrides/*key
func (h *Handler) ClearOverride(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 key"})
		return
	}
	ctx, cancel := h.runContext(c)
	defer cancel()

	result, err := h.recon.ClearOverride(ctx, sess, model.UnifiedKey(key))
	if err != nil {
		writeError(c, err)
		return
	}
	h.changed(sess.ID())
	c.JSON(http.StatusOK, result)
}
