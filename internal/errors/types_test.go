package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAppError_WrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("403 forbidden")
	err := NewExternalError(ErrCodePermissionDenied, "model access denied").WithCause(cause)

	assert.Equal(t, "model access denied: 403 forbidden", err.Error())
	assert.True(t, stderrors.Is(err, cause))

	wrapped := fmt.Errorf("stream pro: %w", err)
	assert.True(t, IsAppError(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodePermissionDenied))
	assert.False(t, IsCode(wrapped, ErrCodeTimeout))
}

func TestIsCode_NestedAppErrors(t *testing.T) {
	inner := NewExternalError(ErrCodeTimeout, "deadline")
	outer := NewSystemError(ErrCodeBackend, "backend failed").WithCause(inner)

	assert.True(t, IsCode(outer, ErrCodeBackend))
	assert.True(t, IsCode(outer, ErrCodeTimeout))
	assert.False(t, IsCode(stderrors.New("plain"), ErrCodeTimeout))
}

func TestGetAppError_WrapsPlainErrors(t *testing.T) {
	appErr := GetAppError(stderrors.New("boom"))
	assert.Equal(t, ErrCodeInternal, appErr.Code)
	assert.Equal(t, ErrorTypeSystem, appErr.Type)
}

func TestLog_LevelByType(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := zap.New(core)

	Log(l, "quota", NewBusinessError(ErrCodeQuotaExhausted, "no quota"))
	Log(l, "backend", NewExternalError(ErrCodeBackend, "503"))
	Log(l, "config", NewConfigError(ErrCodeUnknownModelKind, "unknown kind %q", "ultra"))

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, zap.InfoLevel, entries[0].Level)
		assert.Equal(t, zap.WarnLevel, entries[1].Level)
		assert.Equal(t, zap.ErrorLevel, entries[2].Level)
		assert.Equal(t, "UNKNOWN_MODEL_KIND", entries[2].ContextMap()["error_code"])
	}
}
