package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"boqbalance/internal/exporter"
	"boqbalance/internal/service/session"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type exportProgressEvent struct {
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// exportOptions 以选中迭代组装导出参数
func (h *Handler) exportOptions(sess *session.Session) (exporter.ExportOptions, error) {
	snap := sess.Snapshot()
	result := snap.SelectedIteration()
	if result == nil {
		return exporter.ExportOptions{}, exporter.ErrNoResult
	}
	unmatched, err := h.recon.Unmatched(sess, 0)
	if err != nil && !errors.Is(err, session.ErrNoMatch) {
		return exporter.ExportOptions{}, err
	}
	return exporter.ExportOptions{
		SessionName: sess.Name(),
		Result:      result,
		Match:       snap.Match,
		Documents:   snap.Documents,
		Unmatched:   unmatched,
	}, nil
}

func exportFilename(name string, iteration int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "boq"
	}
	return fmt.Sprintf("%s-iteration-%d.xlsx", name, iteration)
}

func contentDisposition(filename string) string {
	ascii := strings.Map(func(r rune) rune {
		if r > 127 || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", ascii, url.PathEscape(filename))
}

// Export 导出选中迭代的报表
// POST /api/v1/sessions/:id/export
func (h *Handler) Export(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	opts, err := h.exportOptions(sess)
	if err != nil {
		writeError(c, err)
		return
	}

	file, err := h.exporter.Export(opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "导出失败: " + err.Error()})
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "写入文件失败"})
		return
	}
	h.keepLatest(sess.ID(), buf.Bytes())

	c.Header("Content-Disposition", contentDisposition(exportFilename(opts.SessionName, opts.Result.Iteration)))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// keepLatest 保存最近一次导出到会话目录
func (h *Handler) keepLatest(id string, data []byte) {
	if h.projects == nil {
		return
	}
	if err := h.projects.SaveLatestXlsx(id, data); err != nil {
		h.logger.Warn("save latest export failed", "session", id, "error", err)
	}
}

// ExportStream 导出报表（SSE 进度 + 完成后提供下载地址）
// POST /api/v1/sessions/:id/export/stream
func (h *Handler) ExportStream(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	opts, err := h.exportOptions(sess)
	if err != nil {
		writeError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	send := func(event exportProgressEvent) {
		b, err := json.Marshal(event)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", b)
		flusher.Flush()
	}
	fail := func(msg string, err error) {
		send(exportProgressEvent{
			Type:      "error",
			Message:   msg + ": " + err.Error(),
			Data:      map[string]any{},
			Timestamp: time.Now(),
		})
	}

	send(exportProgressEvent{
		Type:    "start",
		Message: "开始导出",
		Data: map[string]any{
			"sessionId": sess.ID(),
			"iteration": opts.Result.Iteration,
		},
		Timestamp: time.Now(),
	})

	lastPercent := -1
	opts.Progress = func(p exporter.ProgressEvent) {
		if p.Percent == lastPercent {
			return
		}
		lastPercent = p.Percent
		send(exportProgressEvent{
			Type:      "progress",
			Message:   p.Stage,
			Data:      map[string]any{"percent": p.Percent},
			Timestamp: time.Now(),
		})
	}

	file, err := h.exporter.Export(opts)
	if err != nil {
		fail("导出失败", err)
		return
	}
	defer file.Close()

	tempPath := filepath.Join(os.TempDir(), fmt.Sprintf("boq_export_%d_%d.xlsx", time.Now().UnixNano(), os.Getpid()))
	if err := file.SaveAs(tempPath); err != nil {
		fail("写入导出文件失败", err)
		_ = os.Remove(tempPath)
		return
	}
	if data, err := os.ReadFile(tempPath); err == nil {
		h.keepLatest(sess.ID(), data)
	}

	token := h.downloads.put(tempPath, exportFilename(opts.SessionName, opts.Result.Iteration), 10*time.Minute)
	send(exportProgressEvent{
		Type:    "done",
		Message: "导出完成",
		Data: map[string]any{
			"percent":     100,
			"downloadUrl": fmt.Sprintf("%s/export/download/%s", routePrefix(c), token),
		},
		Timestamp: time.Now(),
	})
}

// routePrefix 取当前请求的 API 前缀（/api 或 /api/v1）
func routePrefix(c *gin.Context) string {
	full := c.FullPath()
	if i := strings.Index(full, "/sessions/"); i >= 0 {
		return full[:i]
	}
	return "/api"
}

// DownloadExport 下载导出的报表文件（一次性）
// GET /api/v1/export/download/:token
func (h *Handler) DownloadExport(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 token"})
		return
	}

	item, ok := h.downloads.take(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "下载链接已失效"})
		return
	}
	defer os.Remove(item.filePath)

	if _, err := os.Stat(item.filePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "导出文件不存在"})
		return
	}

	c.Header("Content-Disposition", contentDisposition(item.filename))
	c.Header("Content-Type", xlsxContentType)
	c.File(item.filePath)
}
