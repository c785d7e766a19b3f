package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	l, err := New("WARN")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	_, err = New("loud")
	assert.Error(t, err)
}

func TestDeferLogDuration(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Use(zap.New(core))
	t.Cleanup(func() { Use(zaptest.NewLogger(t)) })

	DeferLogDuration("chat.PostMessage", time.Now().Add(-150*time.Millisecond))()

	entries := logs.FilterMessage("duration").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "chat.PostMessage", fields["fn"])
	assert.GreaterOrEqual(t, fields["duration_ms"], int64(150))
}

func TestSugarHelpers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Use(zap.New(core))
	t.Cleanup(func() { Use(zaptest.NewLogger(t)) })

	Infof("joined %s", "room-1")
	Errorf("failed: %v", "boom")
	Debugf("noise")

	assert.Equal(t, 1, logs.FilterMessage("joined room-1").Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zap.ErrorLevel).Len())
	assert.Equal(t, 3, logs.Len())
}
