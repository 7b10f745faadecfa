package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"boqbalance/internal/importer"
	"boqbalance/internal/service/project"
)

// Import 导入 Excel 工作簿 (SSE 流式响应)
// POST /api/v1/sessions/:id/import
// 表单字段：file、kind（boq / catalogue / forecast / auto）、replace（价格库替换）
func (h *Handler) Import(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	kind, err := importer.ParseKind(c.PostForm("kind"))
	if err != nil {
		writeError(c, err)
		return
	}

	uploadedFile, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未找到上传文件"})
		return
	}

	// 保存到暂存目录
	dir := h.uploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	tempFilePath := filepath.Join(dir, fmt.Sprintf("boq_import_%d_%s", time.Now().UnixNano(), filepath.Base(uploadedFile.Filename)))
	if err := c.SaveUploadedFile(uploadedFile, tempFilePath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存文件失败"})
		return
	}
	// 清理临时文件
	defer os.Remove(tempFilePath)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return
	}

	// 设置 SSE 响应头
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	progressChan := h.imports.Import(importer.ImportOptions{
		Session:          sess,
		Kind:             kind,
		FilePath:         tempFilePath,
		OriginalFilename: uploadedFile.Filename,
		ReplaceCatalogue: c.DefaultPostForm("replace", "false") == "true",
	})

	for event := range progressChan {
		if event.Type == "done" {
			if result, ok := event.Data.(*importer.Result); ok {
				h.recordImport(sess.ID(), uploadedFile.Filename, result)
			}
		}

		eventData, err := json.Marshal(event)
		if err != nil {
			continue
		}
		// SSE 格式: data: {json}\n\n
		fmt.Fprintf(c.Writer, "data: %s\n\n", eventData)
		flusher.Flush()
	}
}

func (h *Handler) recordImport(id, filename string, result *importer.Result) {
	if h.projects == nil {
		return
	}
	item := project.ImportHistoryItem{
		Kind:     string(result.Kind),
		FileName: filename,
	}
	if result.Report != nil {
		item.ImportedCount = result.Report.ImportedRows
		item.SkippedCount = result.Report.SkippedRows
	}
	h.projects.RecordImport(id, item)
	h.changed(id)
}

// ListImports 导入日志
// GET /api/v1/sessions/:id/imports
func (h *Handler) ListImports(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	logs, err := h.store.ListImportLogs(sess.ID())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// RemoveDocument 移除一个清单文件
// DELETE /api/v1/sessions/:id/documents/:fileId
func (h *Handler) RemoveDocument(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.RemoveDocument(c.Param("fileId")); err != nil {
		writeError(c, err)
		return
	}
	h.changed(sess.ID())
	c.JSON(http.StatusOK, sess.Summary())
}
