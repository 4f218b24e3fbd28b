package logger

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, Service: "test"})

	l.WithField("subscription_id", "sub-1").
		WithError(errors.New("boom")).
		Info("[Manager] renewed %d of %d", 1, 2)

	line := decodeLine(t, &buf)
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "test", line["service"])
	assert.Equal(t, "sub-1", line["subscription_id"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "[Manager] renewed 1 of 2", line["message"])
}

func TestLogger_WithDuration(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf})

	l.WithDuration(1500 * time.Microsecond).Info("done")

	assert.InDelta(t, 1.5, decodeLine(t, &buf)["duration_ms"], 0.0001)
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Equal(t, "shown", decodeLine(t, &buf)["message"])
}

func TestLogger_Zerolog(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf})

	zl := l.Zerolog("fetch_queue")
	zl.Info().Msg("started")

	assert.Equal(t, "fetch_queue", decodeLine(t, &buf)["component"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARNING": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
