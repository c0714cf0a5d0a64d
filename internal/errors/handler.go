package errors

import (
	"go.uber.org/zap"
)

// ErrorHandler 错误处理器
type ErrorHandler struct {
	logger     *zap.Logger
	monitor    *ErrorMonitor
	translator *ErrorTranslator
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *zap.Logger, monitor *ErrorMonitor) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{
		logger:     logger,
		monitor:    monitor,
		translator: NewErrorTranslator(),
	}
}

// Resolve 将错误转换为HTTP状态码和响应体，同时记录日志与监控指标
func (h *ErrorHandler) Resolve(err error, endpoint string) (int, map[string]interface{}) {
	appErr := h.translator.Translate(err)
	if appErr.HTTPCode == 0 {
		appErr.HTTPCode = getHTTPCodeForError(appErr.Code)
	}

	h.monitor.RecordError(appErr, endpoint)
	h.logError(appErr, endpoint)

	body := map[string]interface{}{
		"code":    string(appErr.Code),
		"message": appErr.Message,
		"type":    getErrorTypeString(appErr.Type),
	}
	// 外部服务错误保留原始异常文本便于诊断
	if appErr.Cause != nil && appErr.Type == ErrorTypeExternal {
		body["detail"] = appErr.Error()
	}
	if appErr.Details != nil && shouldIncludeDetails(appErr) {
		body["details"] = appErr.Details
	}

	return appErr.HTTPCode, map[string]interface{}{
		"success": false,
		"error":   body,
	}
}

// logError 记录错误日志
func (h *ErrorHandler) logError(appErr *AppError, endpoint string) {
	fields := []zap.Field{
		zap.String("error_code", string(appErr.Code)),
		zap.String("error_type", getErrorTypeString(appErr.Type)),
		zap.Int("http_code", appErr.HTTPCode),
		zap.String("endpoint", endpoint),
	}
	if appErr.Cause != nil {
		fields = append(fields, zap.NamedError("cause", appErr.Cause))
	}

	switch appErr.Type {
	case ErrorTypeSystem:
		h.logger.Error("System error occurred", fields...)
	case ErrorTypeValidation:
		h.logger.Info("Validation error occurred", fields...)
	default:
		h.logger.Warn("Request failed", fields...)
	}
}

// shouldIncludeDetails 判断是否应该包含错误详情
func shouldIncludeDetails(appErr *AppError) bool {
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeBusiness:
		return true
	default:
		return false
	}
}
