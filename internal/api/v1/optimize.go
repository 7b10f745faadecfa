package v1

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"boqbalance/internal/model"
	"boqbalance/internal/service/calculator"
)

const maxIterationsPerRequest = 20

// SetForecastsRequest 整体替换预算
type SetForecastsRequest struct {
	Forecasts []model.StageForecast `json:"forecasts"`
}

// SetForecastRequest 修改单个阶段预算
type SetForecastRequest struct {
	Amount float64 `json:"amount"`
}

// OptimizeRequest 求解请求
type OptimizeRequest struct {
	Iterations int `json:"iterations"` // 连续自适应轮数，默认 1
}

// OptimizeResponse 求解响应
type OptimizeResponse struct {
	Runs   int                    `json:"runs"`
	Latest *model.IterationResult `json:"latest"`
}

// GetForecasts 阶段预算
// GET /api/v1/sessions/:id/forecasts
func (h *Handler) GetForecasts(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Forecasts())
}

// SetForecasts 整体替换阶段预算
// PUT /api/v1/sessions/:id/forecasts
func (h *Handler) SetForecasts(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req SetForecastsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}
	if err := sess.SetForecasts(req.Forecasts); err != nil {
		writeError(c, err)
		return
	}
	h.changed(sess.ID())
	c.JSON(http.StatusOK, sess.Forecasts())
}

// SetForecast 修改单个阶段预算
// PATCH /api/v1/sessions/:id/forecasts/:stage
func (h *Handler) SetForecast(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req SetForecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}
	if err := sess.SetForecast(c.Param("stage"), req.Amount); err != nil {
		writeError(c, err)
		return
	}
	h.changed(sess.ID())
	c.JSON(http.StatusOK, sess.Forecasts())
}

// GetParams 求解参数
// GET /api/v1/sessions/:id/params
func (h *Handler) GetParams(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Params())
}

// SetParams 设置求解参数（系数上下限与 λ）
// PUT /api/v1/sessions/:id/params
func (h *Handler) SetParams(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var p model.OptimizeParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}
	if err := validateParams(p); err != nil {
		writeError(c, err)
		return
	}
	sess.SetParams(p)
	h.changed(sess.ID())
	c.JSON(http.StatusOK, sess.Params())
}

func validateParams(p model.OptimizeParams) error {
	if issues := calculator.ValidateProblem(calculator.Problem{Params: p}); len(issues) > 0 {
		return fmt.Errorf("%w: %s", calculator.ErrInvalidParams, issues[0])
	}
	return nil
}

// Optimize 执行一轮或多轮求解
// POST /api/v1/sessions/:id/optimize
func (h *Handler) Optimize(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	req := OptimizeRequest{Iterations: 1}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
			return
		}
	}
	if req.Iterations <= 0 || req.Iterations > maxIterationsPerRequest {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("iterations 必须在 1 到 %d 之间", maxIterationsPerRequest)})
		return
	}

	ctx, cancel := h.runContext(c)
	defer cancel()

	results, err := h.recon.Run(ctx, sess, req.Iterations)
	if len(results) > 0 {
		h.changed(sess.ID())
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, OptimizeResponse{Runs: len(results), Latest: results[len(results)-1]})
}

// ListIterations 迭代摘要
// GET /api/v1/sessions/:id/iterations
func (h *Handler) ListIterations(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	rows, err := h.store.ListIterations(sess.ID())
	if err != nil {
		writeError(c, err)
		return
	}
	selected := 0
	if r, ok := sess.Selected(); ok {
		selected = r.Iteration
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    rows,
		"selected": selected,
		"pinned":   sess.Summary().Selected != 0,
	})
}

// GetIteration 单轮完整结果
// GET /api/v1/sessions/:id/iterations/:n
func (h *Handler) GetIteration(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	n, ok := iterationParam(c)
	if !ok {
		return
	}
	r, err := h.store.GetIteration(sess.ID(), n)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// SelectIteration 固定导出使用的迭代；n 为 0 时恢复为最新一轮
// POST /api/v1/sessions/:id/iterations/:n/select
func (h *Handler) SelectIteration(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	n, ok := iterationParam(c)
	if !ok {
		return
	}
	if err := sess.Select(n); err != nil {
		writeError(c, err)
		return
	}
	h.changed(sess.ID())
	c.JSON(http.StatusOK, sess.Summary())
}

func iterationParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 0 || n > math.MaxInt32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的迭代轮次"})
		return 0, false
	}
	return n, true
}
