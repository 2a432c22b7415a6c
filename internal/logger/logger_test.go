package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/prog28c/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInit_FileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.LogConfig{
		Level:  "debug",
		Format: "json",
		Output: "file",
		File: config.LogFileConfig{
			Path:     dir,
			Filename: "prog28c.log",
			MaxSize:  1,
		},
		Modules: map[string]string{"serial": "debug"},
	}

	require.NoError(t, Init(cfg))
	defer Cleanup()

	Info("打开设备")
	Error("写入失败", zap.Error(errors.New("broken pipe")))
	LogExchange("s-1", "v", "Version 0.0.1", 5*time.Millisecond, nil)
	require.NoError(t, Sync())

	data, err := os.ReadFile(filepath.Join(dir, "prog28c.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "打开设备")
	assert.Contains(t, string(data), "写入失败")

	errData, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errData), "broken pipe")
	assert.NotContains(t, string(errData), "打开设备")
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, Init(&config.LogConfig{Level: "warn", Output: "stderr"}))
	assert.Equal(t, zapcore.WarnLevel, Level())

	SetLevel("debug")
	assert.Equal(t, zapcore.DebugLevel, Level())
	assert.True(t, GetLogger().Core().Enabled(zapcore.DebugLevel))

	SetLevel("bogus")
	assert.Equal(t, zapcore.InfoLevel, Level())
}

func TestGetModuleLogger_Fallback(t *testing.T) {
	require.NoError(t, Init(&config.LogConfig{Level: "info", Output: "stderr"}))
	assert.NotNil(t, GetModuleLogger("emulator"))
	assert.NotNil(t, WithModule("database"))
}
