package errors

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields 将错误转换为结构化日志字段
func Fields(err error) []zap.Field {
	if err == nil {
		return nil
	}
	appErr := GetAppError(err)
	fields := []zap.Field{
		zap.String("error_code", string(appErr.Code)),
		zap.String("error_type", appErr.Type.String()),
		zap.Error(err),
	}
	if appErr.Details != nil {
		fields = append(fields, zap.Any("error_details", appErr.Details))
	}
	return fields
}

// Log 按错误类型选择日志级别记录错误
func Log(l *zap.Logger, msg string, err error, fields ...zap.Field) {
	if l == nil || err == nil {
		return
	}
	level := zapcore.ErrorLevel
	switch GetAppError(err).Type {
	case ErrorTypeBusiness:
		level = zapcore.InfoLevel
	case ErrorTypeValidation:
		level = zapcore.InfoLevel
	case ErrorTypeExternal:
		level = zapcore.WarnLevel
	}
	if ce := l.Check(level, msg); ce != nil {
		ce.Write(append(fields, Fields(err)...)...)
	}
}
