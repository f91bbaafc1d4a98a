package log_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evergreenhq/journeys/pkg/log"
)

func TestSetupLevelThreshold(t *testing.T) {
	log.Setup("warn", "text")

	ctx := context.Background()
	assert.False(t, slog.Default().Enabled(ctx, slog.LevelInfo))
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelWarn))
}

func TestSetupJSONFormat(t *testing.T) {
	log.Setup("info", "json")

	_, ok := slog.Default().Handler().(*slog.JSONHandler)
	assert.True(t, ok)
}

func TestSetupUnknownValuesFallBack(t *testing.T) {
	log.Setup("verbose", "xml")

	ctx := context.Background()
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelInfo))
	assert.False(t, slog.Default().Enabled(ctx, slog.LevelDebug))

	_, ok := slog.Default().Handler().(*slog.TextHandler)
	assert.True(t, ok)
}
