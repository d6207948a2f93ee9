package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestNewHonorsLevel(t *testing.T) {
	log, err := New(Config{Level: "error", Service: "chat"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Named("reaper").Core().Enabled(zapcore.ErrorLevel))

	console, err := New(Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, console.Core().Enabled(zapcore.DebugLevel))
}

func TestSetGlobal(t *testing.T) {
	log := NewNop()
	restore := SetGlobal(log)
	defer restore()
	assert.Same(t, log.Logger, zap.L())
}
