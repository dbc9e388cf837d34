package customerlog

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "CRITICAL", LevelCritical.String())
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestGenerateLogStreamName(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	name := GenerateLogStreamName(now)
	assert.Equal(t, "2026/03/05/14/30/"+strconv.FormatInt(now.UnixMilli(), 10), name)
}

func TestGenerateLogStreamNameStable(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, GenerateLogStreamName(now), GenerateLogStreamName(now))
}
