package util

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCronTime(t *testing.T) {
	from := time.Date(2024, 3, 10, 1, 30, 0, 0, time.UTC)

	next, err := NextCronTime("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC), next)

	next, err = NextCronTime("@daily", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), next)
}

func TestValidateCronExpr(t *testing.T) {
	assert.NoError(t, ValidateCronExpr("*/15 * * * *"))
	assert.Error(t, ValidateCronExpr("not a cron"))
	assert.Error(t, ValidateCronExpr("* * * * * *"))
}

func TestMinCronInterval(t *testing.T) {
	from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	d, err := MinCronInterval("*/5 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	_, err = MinCronInterval("bogus", from)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestNewLogger_LevelOverride(t *testing.T) {
	logger := NewLogger("production", "error")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))

	dev := NewLogger("development")
	assert.True(t, dev.Enabled(context.Background(), slog.LevelDebug))
}
