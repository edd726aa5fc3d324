// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/kepco-scraper/internal/config"
)

// initToBuffer initializes the global logger against an in-memory writer.
func initToBuffer(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("console format colors the level", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "kepco",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Info("driver ready")
		Sync()

		out := buf.String()
		assert.Contains(t, out, colorMap["green"]+"INFO"+colorReset)
		assert.Contains(t, out, "kepco.")
		assert.Contains(t, out, "driver ready")
	})

	t.Run("unknown color falls back to plain level", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{
			Level:  "info",
			Format: "console",
			Colors: config.ColorConfig{Warn: "mauve"},
		})
		GetLogger().Warn("plain")
		Sync()

		assert.Contains(t, buf.String(), "WARN")
		assert.NotContains(t, buf.String(), colorReset)
	})

	t.Run("json format emits structured entries", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		})
		GetLogger().Warn("row dropped", zap.String("row", "r1"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "row dropped", entry["msg"])
		assert.Equal(t, "r1", entry["row"])
	})

	t.Run("level below threshold is dropped", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Info("quiet")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("invalid level defaults to info", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "chatty", Format: "json"})
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		Sync()
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("log file receives json copy", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kepco.log")
		initToBuffer(t, config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: path,
			MaxSize: 1,
		})
		GetLogger().Error("written to file")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"written to file"`)
	})

	t.Run("only the first call takes effect", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"})
		first := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		second := GetLogger()
		assert.Same(t, first, second)

		second.Info("test")
		Sync()
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		assert.NotNil(t, GetLogger())
	})

	t.Run("global after initialization", func(t *testing.T) {
		initToBuffer(t, config.LoggerConfig{Level: "info"})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}

func TestComponent(t *testing.T) {
	assert.NotNil(t, Component(nil, "Driver"))

	var buf bytes.Buffer
	core := zapcore.NewCore(newEncoder(config.LoggerConfig{Format: "json"}), zapcore.AddSync(&buf), zap.InfoLevel)
	Component(zap.New(core), "Driver").Info("up")
	assert.Contains(t, buf.String(), `"logger":"Driver"`)
}
