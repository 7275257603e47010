package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	logger := slog.Default().With("module", "test")
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestSetup_UnknownLevelFallsBackToInfo(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	Setup("verbose", FormatText)

	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}

func TestNew_Levels(t *testing.T) {
	for level, enabled := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		logger := New(&bytes.Buffer{}, level, FormatText)

		assert.True(t, logger.Enabled(context.Background(), enabled), level)
		assert.False(t, logger.Enabled(context.Background(), enabled-1), level)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	New(&buf, "info", "JSON").Info("Workflow started", "workflow_id", 42)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "Workflow started", record["msg"])
	assert.EqualValues(t, 42, record["workflow_id"])
}
