package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AutoFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, FormatAuto, "info")
	require.NoError(t, err)

	logger.Info("submitted", "host", "api.example.com", "status", 200)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "submitted", entry["msg"])
	assert.Equal(t, "api.example.com", entry["host"])
	assert.EqualValues(t, 200, entry["status"])
}

func TestNew_TextWithoutTerminalHasNoColor(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, FormatText, "debug")
	require.NoError(t, err)

	logger.Debug("encoding body", "bytes", 42)

	out := buf.String()
	assert.Contains(t, out, "encoding body")
	assert.Contains(t, out, "bytes=42")
	assert.NotContains(t, out, "\033[")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, FormatJSON, "warn")
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "xml", "info")
	assert.Error(t, err)

	_, err = New(&bytes.Buffer{}, FormatJSON, "loud")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
