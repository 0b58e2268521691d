// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line %q", line)
		out = append(out, entry)
	}
	return out
}

// TestLogger_JSONShape verifies the entry layout.
func TestLogger_JSONShape(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Info("queue drained", map[string]interface{}{"synced": 2})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "queue drained", entries[0]["message"])
	assert.Equal(t, "info", entries[0]["level"])
	assert.NotEmpty(t, entries[0]["timestamp"])
	ctx, ok := entries[0]["context"].(map[string]interface{})
	require.True(t, ok, "context should be an object")
	assert.EqualValues(t, 2, ctx["synced"])
}

// TestLogger_MinLevel verifies filtering below the minimum level.
func TestLogger_MinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown too", errors.New("boom"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "boom", entries[1]["error"])
}

// TestLogger_ErrorWithCode verifies the code lands in the context.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.ErrorWithCode("drain failed", "STORAGE_ERROR", errors.New("disk"), map[string]interface{}{"id": "a1"})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	ctx := entries[0]["context"].(map[string]interface{})
	assert.Equal(t, "STORAGE_ERROR", ctx["code"])
	assert.Equal(t, "a1", ctx["id"])
}

// TestLogger_With verifies child loggers carry their fields.
func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo).With(map[string]interface{}{"component": "engine"})

	l.Info("started")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0]["component"])
}

// TestMergeContext verifies multiple maps are merged.
func TestMergeContext(t *testing.T) {
	assert.Nil(t, mergeContext())
	merged := mergeContext(map[string]interface{}{"a": 1}, map[string]interface{}{"b": 2})
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, merged)
}

// TestParseLevel verifies configuration strings.
func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}
