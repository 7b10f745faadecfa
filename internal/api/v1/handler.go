package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"boqbalance/internal/exporter"
	"boqbalance/internal/importer"
	"boqbalance/internal/service/calculator"
	"boqbalance/internal/service/iteration"
	"boqbalance/internal/service/matching"
	"boqbalance/internal/service/project"
	"boqbalance/internal/service/reconcile"
	"boqbalance/internal/service/session"
	"boqbalance/internal/store"
)

var errBadRequest = errors.New("bad request")

// Options 处理器依赖
type Options struct {
	Projects   *project.Manager
	Sessions   *session.Registry
	Reconciler *reconcile.Service
	Importer   *importer.Coordinator
	Store      *store.Store
	Exporter   *exporter.Exporter
	UploadDir  string        // 上传文件暂存目录，为空时使用系统临时目录
	Timeout    time.Duration // 匹配与求解的请求超时，0 表示不限
	Logger     *slog.Logger
}

// Handler V1 API 处理器
type Handler struct {
	projects  *project.Manager
	sessions  *session.Registry
	recon     *reconcile.Service
	imports   *importer.Coordinator
	store     *store.Store
	exporter  *exporter.Exporter
	uploadDir string
	timeout   time.Duration
	logger    *slog.Logger
	downloads *exportDownloadStore
}

// NewHandler 创建 V1 API 处理器
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exp := opts.Exporter
	if exp == nil {
		exp = exporter.NewExporter(2)
	}
	return &Handler{
		projects:  opts.Projects,
		sessions:  opts.Sessions,
		recon:     opts.Reconciler,
		imports:   opts.Importer,
		store:     opts.Store,
		exporter:  exp,
		uploadDir: opts.UploadDir,
		timeout:   opts.Timeout,
		logger:    logger,
		downloads: newExportDownloadStore(),
	}
}

// RegisterRoutes 注册 V1 API 路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 系统状态
	router.GET("/status", h.GetStatus)

	// 全局配置
	router.GET("/config", h.GetConfig)
	router.PATCH("/config", h.UpdateConfig)

	// 会话管理
	router.GET("/sessions", h.ListSessions)
	router.POST("/sessions", h.CreateSession)
	router.GET("/sessions/:id", h.GetSession)
	router.POST("/sessions/:id/select", h.SelectSession)
	router.DELETE("/sessions/:id", h.DeleteSession)

	// 数据导入
	router.POST("/sessions/:id/import", h.Import)
	router.GET("/sessions/:id/imports", h.ListImports)
	router.DELETE("/sessions/:id/documents/:fileId", h.RemoveDocument)

	// 预算与参数
	router.GET("/sessions/:id/forecasts", h.GetForecasts)
	router.PUT("/sessions/:id/forecasts", h.SetForecasts)
	router.PATCH("/sessions/:id/forecasts/:stage", h.SetForecast)
	router.GET("/sessions/:id/params", h.GetParams)
	router.PUT("/sessions/:id/params", h.SetParams)

	// 匹配
	router.POST("/sessions/:id/match", h.Match)
	router.GET("/sessions/:id/match", h.GetMatch)
	router.GET("/sessions/:id/unmatched", h.Unmatched)
	router.POST("/sessions/:id/overrides", h.Override)
	router.GET("/sessions/:id/overrides", h.ListOverrides)
	router.DELETE("/sessions/:id/overrides/*key", h.ClearOverride)

	// 求解与迭代
	router.POST("/sessions/:id/optimize", h.Optimize)
	router.GET("/sessions/:id/iterations", h.ListIterations)
	router.GET("/sessions/:id/iterations/:n", h.GetIteration)
	router.POST("/sessions/:id/iterations/:n/select", h.SelectIteration)

	// 数据导出
	router.POST("/sessions/:id/export", h.Export)
	router.POST("/sessions/:id/export/stream", h.ExportStream)
	router.GET("/export/download/:token", h.DownloadExport)
}

// session 按路径参数取会话；失败时已写入响应
func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return sess, true
}

// runContext 计算类请求的上下文
func (h *Handler) runContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// changed 会话被修改后延迟落盘
func (h *Handler) changed(id string) {
	if h.projects != nil {
		h.projects.ScheduleSave(id)
	}
}

// statusOf 错误到 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, session.ErrInvalidForecast),
		errors.Is(err, calculator.ErrInvalidParams),
		errors.Is(err, importer.ErrUnknownKind),
		errors.Is(err, matching.ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, project.ErrSessionNotFound),
		errors.Is(err, session.ErrUnknownIteration),
		errors.Is(err, session.ErrUnknownDocument),
		errors.Is(err, matching.ErrUnknownKey),
		errors.Is(err, reconcile.ErrUnknownEntry),
		errors.Is(err, store.ErrIterationNotFound):
		return http.StatusNotFound
	case errors.Is(err, iteration.ErrNotReady),
		errors.Is(err, iteration.ErrStaleMatch),
		errors.Is(err, matching.ErrEmptyCatalogue),
		errors.Is(err, matching.ErrEmptyDocuments),
		errors.Is(err, session.ErrStaleSnapshot),
		errors.Is(err, session.ErrNoMatch),
		errors.Is(err, exporter.ErrNoResult):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Default().Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
