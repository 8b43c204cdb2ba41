package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHelpersWriteToGlobalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Logger
	Logger = zap.New(core)
	t.Cleanup(func() { Logger = prev })

	Debug("d", zap.String("k", "v"))
	Info("i")
	Warn("w")
	Error("e")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	levels := make([]zapcore.Level, 0, len(entries))
	for _, e := range entries {
		levels = append(levels, e.Level)
	}
	assert.Equal(t, []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}, levels)
	assert.Equal(t, "v", entries[0].ContextMap()["k"])
}

func TestGetLogger_FallsBackWhenUninitialized(t *testing.T) {
	prev := Logger
	Logger = nil
	t.Cleanup(func() { Logger = prev })

	assert.NotNil(t, GetLogger())
	assert.NotPanics(t, Sync)
}

func TestInitLogger_DebugLevel(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })
	t.Setenv("LOG_LEVEL", "debug")

	require.NoError(t, InitLogger())
	assert.True(t, GetLogger().Core().Enabled(zapcore.DebugLevel))
}
