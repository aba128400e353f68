package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitWithLevel(t *testing.T) {
	assert.Error(t, InitWithLevel("ruidoso"))

	require.NoError(t, InitWithLevel("debug"))
	assert.True(t, Logger().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, InitWithLevel(""))
	assert.False(t, Logger().Core().Enabled(zapcore.DebugLevel))
}

func TestCronAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Cron(zap.New(core))

	l.Info("wake", "now", "x")
	l.Error(errors.New("boom"), "job panic", "job", "outbox-dispatcher")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}
