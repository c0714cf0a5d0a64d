package controllers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/logger"
	"github.com/aihub/docqa/internal/services"
)

// DocQAController 上传、问答、清理与进度接口
type DocQAController struct {
	BaseController
	Service     *services.QAService
	UploadDir   string
	MaxFileSize int64
}

type askBody struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

// Upload 保存上传文件并开始摄取，立即返回会话ID
func (c *DocQAController) Upload() {
	file, header, err := c.GetFile("file")
	if err != nil {
		c.JSONError(apperrors.NewValidationError("file is required"))
		return
	}
	defer file.Close()

	if c.MaxFileSize > 0 && header.Size > c.MaxFileSize {
		c.JSONError(apperrors.NewValidationError(
			fmt.Sprintf("file exceeds the maximum upload size of %d bytes", c.MaxFileSize)))
		return
	}

	kind := knowledge.KindFromFilename(header.Filename)
	path, err := c.saveUpload(file, kind)
	if err != nil {
		c.JSONError(err)
		return
	}

	resp, err := c.Service.Upload(c.Ctx.Request.Context(), services.UploadRequest{
		Path:       path,
		Filename:   filepath.Base(header.Filename),
		Kind:       kind,
		Credential: c.GetString("api_key"),
	})
	if err != nil {
		c.JSONError(err)
		return
	}
	c.JSONSuccess(resp)
}

// saveUpload 写入临时文件，扩展名保留文件类型
func (c *DocQAController) saveUpload(src io.Reader, kind string) (string, error) {
	dir := c.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	pattern := "docqa-*"
	if kind != "" {
		pattern += "." + kind
	}
	dst, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

// Ask 对当前会话的文档提问，支持表单与JSON
func (c *DocQAController) Ask() {
	req := services.AskRequest{
		SessionID: c.GetString("session_id"),
		Question:  c.GetString("question"),
	}
	if strings.HasPrefix(c.Ctx.Input.Header("Content-Type"), "application/json") {
		var body askBody
		if err := json.Unmarshal(c.Ctx.Input.RequestBody, &body); err != nil {
			c.JSONError(apperrors.NewValidationError("invalid JSON body"))
			return
		}
		req.SessionID, req.Question = body.SessionID, body.Question
	}

	result, err := c.Service.Ask(c.Ctx.Request.Context(), req)
	if err != nil {
		c.JSONError(err)
		return
	}
	c.JSONSuccess(result)
}

// Clear 清理会话
func (c *DocQAController) Clear() {
	sessionID := c.GetString("session_id")
	if sessionID == "" {
		sessionID = c.Ctx.Input.Param(":session_id")
	}
	if err := c.Service.Clear(c.Ctx.Request.Context(), sessionID); err != nil {
		c.JSONError(err)
		return
	}
	c.JSONSuccess(map[string]string{"status": "success", "message": "Session cleared"})
}

// Status 摄取任务状态
func (c *DocQAController) Status() {
	status, err := c.Service.Status(c.Ctx.Input.Param(":session_id"))
	if err != nil {
		c.JSONError(err)
		return
	}
	c.JSONSuccess(status)
}

// Languages 支持的语言与模型加载状态
func (c *DocQAController) Languages() {
	c.JSONSuccess(map[string]interface{}{
		"languages":     c.Service.Languages(),
		"allowed_types": c.Service.AllowedTypes(),
	})
}

// Progress 以SSE推送摄取进度，终止事件后结束
func (c *DocQAController) Progress() {
	sessionID := c.Ctx.Input.Param(":session_id")
	if _, err := c.Service.Status(sessionID); err != nil {
		c.JSONError(err)
		return
	}

	w := c.Ctx.ResponseWriter
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if !ok {
		c.JSONError(apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "streaming unsupported"))
		return
	}
	c.EnableRender = false

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range c.Service.Progress(c.Ctx.Request.Context(), sessionID) {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Step, data); err != nil {
			logger.Debug("Progress stream closed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		flusher.Flush()
	}
}
