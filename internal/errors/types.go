package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 配置错误
	ErrCodeConfigInvalid     ErrorCode = "CONFIG_INVALID"
	ErrCodeUnknownModelKind  ErrorCode = "UNKNOWN_MODEL_KIND"
	ErrCodeMissingCredential ErrorCode = "MISSING_CREDENTIAL"

	// 外部服务错误
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeBackend          ErrorCode = "BACKEND_ERROR"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
	ErrCodeTransport        ErrorCode = "TRANSPORT_ERROR"
	ErrCodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"

	// 业务错误
	ErrCodeQuotaExhausted ErrorCode = "QUOTA_EXHAUSTED"
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// String 返回错误类型名称
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeSystem:
		return "system"
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// AppError 应用错误结构体
type AppError struct {
	Code    ErrorCode
	Message string
	Type    ErrorType
	Details interface{}
	Cause   error
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

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeSystem}
}

// NewBusinessError 创建业务错误
func NewBusinessError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeBusiness}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message, Type: ErrorTypeValidation}
}

// NewExternalError 创建外部服务错误
func NewExternalError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Type: ErrorTypeExternal}
}

// NewConfigError 创建配置错误，启动阶段直接失败
func NewConfigError(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Type: ErrorTypeSystem}
}

// IsAppError 检查错误链中是否有AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// IsCode 检查错误链中是否有指定错误码的AppError
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternal, "internal error").WithCause(err)
}
