package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"

	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"

	// 文档摄取
	ErrCodeUnsupportedInput    ErrorCode = "UNSUPPORTED_INPUT"
	ErrCodeDocumentTooLarge    ErrorCode = "DOCUMENT_TOO_LARGE"
	ErrCodeConversionFailed    ErrorCode = "CONVERSION_FAILED"
	ErrCodeModelUnavailable    ErrorCode = "MODEL_UNAVAILABLE"
	ErrCodeIndexCreationFailed ErrorCode = "INDEX_CREATION_FAILED"
	ErrCodeIndexingFailed      ErrorCode = "INDEXING_FAILED"

	// 会话与问答
	ErrCodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeRetrievalFailed  ErrorCode = "RETRIEVAL_FAILED"
	ErrCodeGenerationFailed ErrorCode = "GENERATION_FAILED"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较，便于 errors.Is(err, ErrSessionNotFound)
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// 哨兵错误，仅用于 errors.Is 比较
var (
	ErrUnsupportedInput    = &AppError{Code: ErrCodeUnsupportedInput}
	ErrDocumentTooLarge    = &AppError{Code: ErrCodeDocumentTooLarge}
	ErrConversionFailed    = &AppError{Code: ErrCodeConversionFailed}
	ErrModelUnavailable    = &AppError{Code: ErrCodeModelUnavailable}
	ErrIndexCreationFailed = &AppError{Code: ErrCodeIndexCreationFailed}
	ErrIndexingFailed      = &AppError{Code: ErrCodeIndexingFailed}
	ErrSessionNotFound     = &AppError{Code: ErrCodeSessionNotFound}
	ErrRetrievalFailed     = &AppError{Code: ErrCodeRetrievalFailed}
	ErrGenerationFailed    = &AppError{Code: ErrCodeGenerationFailed}
)

// 错误构造函数

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewBusinessError 创建业务错误
func NewBusinessError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeBusiness,
		HTTPCode: getHTTPCodeForError(code),
	}
}

// NewExternalError 创建外部服务错误
func NewExternalError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeExternal,
		HTTPCode: getHTTPCodeForError(code),
		Cause:    cause,
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// UnsupportedInput 文件类型不被允许
func UnsupportedInput(kind string, allowed []string) *AppError {
	return NewBusinessError(ErrCodeUnsupportedInput,
		fmt.Sprintf("Unsupported file type %q. Allowed: %v", kind, allowed))
}

// DocumentTooLarge 页数超过限制
func DocumentTooLarge(pages, max int, estimated bool) *AppError {
	if estimated {
		return NewBusinessError(ErrCodeDocumentTooLarge,
			fmt.Sprintf("Document too large! Estimated %d pages. Maximum: %d.", pages, max)).
			WithDetails(map[string]int{"pages": pages, "max_pages": max})
	}
	return NewBusinessError(ErrCodeDocumentTooLarge,
		fmt.Sprintf("Document has %d pages. Maximum allowed: %d pages.", pages, max)).
		WithDetails(map[string]int{"pages": pages, "max_pages": max})
}

// ConversionFailed 文档转换失败
func ConversionFailed(cause error) *AppError {
	return NewExternalError(ErrCodeConversionFailed, "Error converting document", cause)
}

// ModelUnavailable 语言模型无法加载
func ModelUnavailable(language string, cause error) *AppError {
	return NewExternalError(ErrCodeModelUnavailable,
		fmt.Sprintf("Embedding model for language %q is unavailable", language), cause)
}

// IndexCreationFailed 向量集合创建失败
func IndexCreationFailed(name string, cause error) *AppError {
	return NewExternalError(ErrCodeIndexCreationFailed,
		fmt.Sprintf("Error creating vector collection %s", name), cause)
}

// IndexingFailed 向量写入失败
func IndexingFailed(name string, cause error) *AppError {
	return NewExternalError(ErrCodeIndexingFailed,
		fmt.Sprintf("Error storing vectors in collection %s", name), cause)
}

// SessionNotFound 会话不存在
func SessionNotFound(sessionID string) *AppError {
	return NewBusinessError(ErrCodeSessionNotFound,
		"Session not found. Please upload a document first.").
		WithDetails(map[string]string{"session_id": sessionID})
}

// RetrievalFailed 检索失败
func RetrievalFailed(cause error) *AppError {
	return NewExternalError(ErrCodeRetrievalFailed, "Error searching", cause)
}

// GenerationFailed 生成答案失败
func GenerationFailed(cause error) *AppError {
	return NewExternalError(ErrCodeGenerationFailed, "Error generating answer", cause)
}

// getHTTPCodeForError 根据错误码获取HTTP状态码
func getHTTPCodeForError(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound, ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeBadRequest,
		ErrCodeUnsupportedInput, ErrCodeDocumentTooLarge:
		return http.StatusBadRequest
	case ErrCodeModelUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// IsCode 检查错误链中是否包含指定错误码
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}
