package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
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
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLevelsFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn, FormatJSON)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "w", lines[0]["msg"])
	assert.Equal(t, "ERROR", lines[1]["level"])
}

func TestChildLoggersCarryAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelDebug, FormatJSON)
	child := l.WithRun("run-1").WithPhase("research").With("state", "RESEARCH")
	child.Info("transition", "to", "FORMULATE_HYPOTHESIS")
	l.Info("parent")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Equal(t, "research", lines[0]["phase"])
	assert.Equal(t, "RESEARCH", lines[0]["state"])
	assert.Equal(t, "FORMULATE_HYPOTHESIS", lines[0]["to"])
	assert.NotContains(t, lines[1], "run_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, LevelInfo, FormatText).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := NewFileLogger(dir, LevelInfo, FormatJSON)
	require.NoError(t, err)
	l.WithRun("r").Info("written")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"r"`)
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Error("ignored")
	assert.NoError(t, l.Close())
	assert.NotNil(t, l.Slog())
}
