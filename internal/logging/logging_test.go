package logging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "booklocker.log")
	logger, err := New(Config{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)

	WithRun(logger, "run-1").Info("locked", String("target", "Books"), Int("count", 2), Err(errors.New("boom")))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"msg":"locked"`)
	assert.Contains(t, line, `"run_id":"run-1"`)
	assert.Contains(t, line, `"target":"Books"`)
	assert.Contains(t, line, `"error":"boom"`)
}

func TestSetLevel(t *testing.T) {
	_, err := New(Config{Level: "info", OutputPath: filepath.Join(t.TempDir(), "x.log")})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, globalLevel.Level())

	SetLevel("warn")
	assert.Equal(t, zapcore.WarnLevel, globalLevel.Level())

	SetLevel("nonsense")
	assert.Equal(t, zapcore.WarnLevel, globalLevel.Level())
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	_, err := New(Config{Level: "loud", OutputPath: filepath.Join(t.TempDir(), "x.log")})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, globalLevel.Level())
}

func TestL_BeforeInit(t *testing.T) {
	assert.NotNil(t, L())
	assert.NotNil(t, S())
	assert.NoError(t, Sync())
}
