package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOutputRedirectsDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(Init)

	Info("hello", "answer", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, float64(42), entry["answer"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestForServiceAddsServiceAttr(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(Init)

	ForService("resolver").Info("lookup done")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "resolver", entry["service"])
}

func TestTraceUsesCustomLevelName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")

	// The default handler filters at debug; log through a trace-level
	// file logger instead.
	logger, closeFn, err := NewFileLogger(path, "test", LevelTrace)
	require.NoError(t, err)

	prev := slog.Default()
	slog.SetDefault(logger)
	Trace("fine-grained detail")
	slog.SetDefault(prev)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"TRACE"`)
	assert.Contains(t, string(data), "fine-grained detail")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.name), tt.name)
	}
}

func TestNewFileLoggerCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "svc.log")

	logger, closeFn, err := NewFileLogger(path, "svc", slog.LevelDebug)
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Info("first line")
	require.NoError(t, closeFn())
}
