package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, level, err := New(&buf, Options{Level: "warn"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.With("component", "engine").Warn("执行器命令失败", "op", "gas")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "gas", line["op"])

	buf.Reset()
	require.NoError(t, SetLevel(level, "debug"))
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestInvalidLevel(t *testing.T) {
	_, _, err := New(&bytes.Buffer{}, Options{Level: "verbose"})
	assert.Error(t, err)

	level := new(slog.LevelVar)
	require.NoError(t, SetLevel(level, ""))
	assert.Equal(t, slog.LevelInfo, level.Level())
}

func TestJournalKey(t *testing.T) {
	assert.Equal(t, "RUN_ID", toJournalKey("run_id"))
	assert.Equal(t, "TRACE_ID", toJournalKey("trace-id"))
}
