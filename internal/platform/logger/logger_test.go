package logger_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/phrazzld/tunesmith-api/internal/config"
	"github.com/phrazzld/tunesmith-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithWriter_Levels(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	tests := []struct {
		level      string
		debugShown bool
		infoShown  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"WARN", false, false},
		{"error", false, false},
		{"bogus", false, true},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			buf := &logger.TestLogBuffer{}
			l, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: tc.level}, buf)
			require.NoError(t, err)
			require.NotNil(t, l)

			l.Debug("debug message")
			l.Info("info message")

			assert.Equal(t, tc.debugShown, strings.Contains(buf.String(), "debug message"))
			assert.Equal(t, tc.infoShown, strings.Contains(buf.String(), "info message"))
		})
	}
}

func TestSetup_JSONFields(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &logger.TestLogBuffer{}
	l, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: "info"}, buf)
	require.NoError(t, err)

	l.Info("job submitted", "job_id", "abc", "choice_count", 2)

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job submitted", entries[0]["msg"])
	assert.Equal(t, "INFO", entries[0]["level"])
	logger.AssertLogField(t, buf, "job_id", "abc")
	logger.AssertLogField(t, buf, "choice_count", float64(2))
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	buf, l := logger.NewTestLogger(t)
	ctx := logger.WithLogger(context.Background(), l.With("job_id", "j-1"))

	logger.FromContext(ctx).Info("from context")
	logger.AssertLogField(t, buf, "job_id", "j-1")

	fallback := logger.DiscardLogger()
	assert.Same(t, fallback, logger.FromContextOrDefault(context.Background(), fallback))
	assert.NotNil(t, logger.FromContext(context.Background()))
	assert.Equal(t, context.Background(), logger.WithLogger(context.Background(), nil))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	level, ok := logger.ParseLevel(" Warning ")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelWarn, level)

	level, ok = logger.ParseLevel("trace")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, level)
}
