package infra

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "warn"
	cfg.Logging.Dir = filepath.Join(t.TempDir(), "logs")

	logger := NewLogger(cfg)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	logger.Warn("feed reconnecting", slog.String("feed", "order"))

	data, err := os.ReadFile(filepath.Join(cfg.Logging.Dir, "optiondesk.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"feed reconnecting"`)
}
