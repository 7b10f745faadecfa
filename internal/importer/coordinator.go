// Package importer 工作簿导入：解析清单、价格库、阶段预算并写入会话，过程以进度事件流式上报
package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"boqbalance/internal/parser"
	"boqbalance/internal/service/session"
)

// Kind 导入类型
type Kind string

const (
	KindBOQ       Kind = "boq"
	KindCatalogue Kind = "catalogue"
	KindForecast  Kind = "forecast"
	KindAuto      Kind = "auto" // 按表头自动识别
)

var ErrUnknownKind = errors.New("unknown import kind")

// ParseKind 解析导入类型；空串视为自动识别
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindBOQ, KindCatalogue, KindForecast, KindAuto:
		return k, nil
	case "":
		return KindAuto, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// ImportLogger 导入日志（*store.Store 实现）
type ImportLogger interface {
	CreateImportLog(sessionID, kind, filename, filePath string, fileSize int64, fileHash string) (int64, error)
	UpdateImportLog(id int64, totalSheets, totalRows, importedRows, skippedRows int, status, errorMessage string) error
}

// Coordinator 导入协调器
type Coordinator struct {
	logs       ImportLogger
	recognizer *parser.SheetRecognizer
	logger     *slog.Logger
}

// NewCoordinator 创建导入协调器；logs 可为 nil
func NewCoordinator(logs ImportLogger, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logs:       logs,
		recognizer: parser.NewSheetRecognizer(),
		logger:     logger,
	}
}

// ImportOptions 导入选项
type ImportOptions struct {
	Session          *session.Session
	Kind             Kind
	FilePath         string
	OriginalFilename string // 上传时的文件名，为空时取 FilePath 的文件名
	ReplaceCatalogue bool   // 价格库：替换而非追加
}

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type      string      `json:"type"`      // start/info/done/error
	Message   string      `json:"message"`   // 事件消息
	Data      interface{} `json:"data"`      // 附加数据
	Timestamp time.Time   `json:"timestamp"` // 时间戳
}

// Result 导入完成时随 done 事件返回
type Result struct {
	Kind    Kind                 `json:"kind"`
	FileID  string               `json:"fileId,omitempty"`
	Items   int                  `json:"items"`
	Report  *parser.ImportReport `json:"report"`
	LogID   int64                `json:"logId,omitempty"`
	Version uint64               `json:"version"`
}

// importContext 单次导入的上下文
type importContext struct {
	opts     ImportOptions
	filename string
	progress chan ProgressEvent
	logID    int64
}

// Import 执行导入，返回进度通道
func (c *Coordinator) Import(opts ImportOptions) <-chan ProgressEvent {
	progressChan := make(chan ProgressEvent, 100)

	go func() {
		defer close(progressChan)
		c.doImport(opts, progressChan)
	}()

	return progressChan
}

// Run 同步导入，返回结果（CLI 使用）
func (c *Coordinator) Run(opts ImportOptions) (*Result, error) {
	var result *Result
	var errMsg string
	for evt := range c.Import(opts) {
		switch evt.Type {
		case "done":
			result, _ = evt.Data.(*Result)
		case "error":
			errMsg = evt.Message
		}
	}
	if errMsg != "" {
		return nil, errors.New(errMsg)
	}
	if result == nil {
		return nil, errors.New("import finished without result")
	}
	return result, nil
}

// doImport 执行导入逻辑
func (c *Coordinator) doImport(opts ImportOptions, progressChan chan ProgressEvent) {
	ictx := &importContext{
		opts:     opts,
		filename: opts.OriginalFilename,
		progress: progressChan,
	}
	if ictx.filename == "" {
		ictx.filename = filepath.Base(opts.FilePath)
	}

	c.sendProgress(progressChan, ProgressEvent{
		Type:    "start",
		Message: "开始导入 Excel 文件",
		Data: map[string]string{
			"filename": ictx.filename,
			"kind":     string(opts.Kind),
		},
		Timestamp: time.Now(),
	})

	if opts.Session == nil {
		c.fail(ictx, nil, errors.New("session is required"))
		return
	}

	c.openLog(ictx)

	file, err := excelize.OpenFile(opts.FilePath)
	if err != nil {
		c.fail(ictx, nil, fmt.Errorf("打开文件失败: %w", err))
		return
	}
	defer file.Close()

	kind := opts.Kind
	if kind == "" || kind == KindAuto {
		kind = c.detect(ictx, file)
		if kind == "" {
			c.fail(ictx, nil, errors.New("无法识别工作簿类型"))
			return
		}
	}

	result, err := c.apply(ictx, file, kind)
	if err != nil {
		c.fail(ictx, result, err)
		return
	}

	c.closeLog(ictx, result.Report, "success", "")
	result.LogID = ictx.logID
	c.logger.Info("import complete",
		"session", opts.Session.ID(),
		"kind", kind,
		"file", ictx.filename,
		"rows", result.Report.ImportedRows,
		"skipped", result.Report.SkippedRows,
	)
	progressChan <- ProgressEvent{
		Type:      "done",
		Message:   "导入完成",
		Data:      result,
		Timestamp: time.Now(),
	}
}

// detect 按识别出最多的 Sheet 类型确定导入类型
func (c *Coordinator) detect(ictx *importContext, file *excelize.File) Kind {
	for _, rec := range c.recognizer.RecognizeWorkbook(file) {
		c.sendProgress(ictx.progress, ProgressEvent{
			Type:    "info",
			Message: fmt.Sprintf("Sheet \"%s\" 识别为: %s (置信度: %.2f)", rec.SheetName, rec.SheetType, rec.Confidence),
			Data: map[string]interface{}{
				"sheet_name": rec.SheetName,
				"sheet_type": string(rec.SheetType),
				"confidence": rec.Confidence,
			},
			Timestamp: time.Now(),
		})
	}
	switch c.recognizer.DetectKind(file) {
	case parser.SheetTypeBOQ:
		return KindBOQ
	case parser.SheetTypeCatalogue:
		return KindCatalogue
	case parser.SheetTypeForecast:
		return KindForecast
	}
	return ""
}

// apply 解析并写入会话
func (c *Coordinator) apply(ictx *importContext, file *excelize.File, kind Kind) (*Result, error) {
	sess := ictx.opts.Session
	result := &Result{Kind: kind}

	switch kind {
	case KindBOQ:
		fileID := ictx.filename
		doc, report, err := parser.ParseBOQ(file, fileID, ictx.filename)
		result.Report = report
		if err != nil {
			return result, err
		}
		sess.AddDocument(doc)
		result.FileID = fileID
		result.Items = len(doc.Items)

	case KindCatalogue:
		entries, report, err := parser.ParseCatalogue(file, ictx.filename)
		result.Report = report
		if err != nil {
			return result, err
		}
		if ictx.opts.ReplaceCatalogue {
			sess.SetCatalogue(entries)
		} else {
			sess.AppendCatalogue(entries)
		}
		result.Items = len(entries)

	case KindForecast:
		forecasts, report, err := parser.ParseForecasts(file, ictx.filename)
		result.Report = report
		if err != nil {
			return result, err
		}
		if err := sess.SetForecasts(forecasts); err != nil {
			return result, err
		}
		result.Items = len(forecasts)

	default:
		return result, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	for _, sheet := range result.Report.Sheets {
		c.sendProgress(ictx.progress, ProgressEvent{
			Type:    "info",
			Message:   fmt.Sprintf("Sheet \"%s\": 导入 %d 行，跳过 %d 行", sheet.SheetName, sheet.ImportedRows, sheet.SkippedRows),
			Data:      sheet,
			Timestamp: time.Now(),
		})
	}
	result.Version = sess.Version()
	return result, nil
}

func (c *Coordinator) openLog(ictx *importContext) {
	if c.logs == nil {
		return
	}
	size, hash := fileDigest(ictx.opts.FilePath)
	id, err := c.logs.CreateImportLog(ictx.opts.Session.ID(), string(ictx.opts.Kind), ictx.filename, ictx.opts.FilePath, size, hash)
	if err != nil {
		c.logger.Warn("failed to create import log", "file", ictx.filename, "error", err)
		return
	}
	ictx.logID = id
}

func (c *Coordinator) closeLog(ictx *importContext, report *parser.ImportReport, status, errMsg string) {
	if c.logs == nil || ictx.logID == 0 {
		return
	}
	if report == nil {
		report = &parser.ImportReport{}
	}
	if err := c.logs.UpdateImportLog(ictx.logID, report.TotalSheets, report.TotalRows, report.ImportedRows, report.SkippedRows, status, errMsg); err != nil {
		c.logger.Warn("failed to update import log", "id", ictx.logID, "error", err)
	}
}

func (c *Coordinator) fail(ictx *importContext, result *Result, err error) {
	var report *parser.ImportReport
	if result != nil {
		report = result.Report
	}
	c.closeLog(ictx, report, "failed", err.Error())
	c.logger.Warn("import failed", "file", ictx.filename, "error", err)
	// 结束事件不丢弃
	ictx.progress <- ProgressEvent{
		Type:      "error",
		Message:   err.Error(),
		Data:      report,
		Timestamp: time.Now(),
	}
}

// sendProgress 发送进度事件
func (c *Coordinator) sendProgress(ch chan ProgressEvent, event ProgressEvent) {
	select {
	case ch <- event:
	default:
		// 通道已满，丢弃事件
	}
}

// fileDigest 文件大小与 SHA-256
func fileDigest(path string) (int64, string) {
	f, err := os.Open(path)
	if err != nil {
		return 0, ""
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return n, ""
	}
	return n, hex.EncodeToString(h.Sum(nil))
}
