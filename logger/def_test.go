package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitModes(t *testing.T) {
	defer Set(zap.NewNop())

	require.NoError(t, Init(""))
	require.NoError(t, Init("development"))
	require.NoError(t, Init("PROD"))
	assert.Error(t, Init("verbose"))
}

func TestSetAndNamed(t *testing.T) {
	defer Set(zap.NewNop())

	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))

	Named("lane").Info("hello", zap.Int("frames", 3))
	S().Infow("sugared", "k", "v")
	Log().Debug("dropped")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "lane", entries[0].LoggerName)
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, int64(3), entries[0].ContextMap()["frames"])
	assert.Equal(t, "sugared", entries[1].Message)
	assert.Same(t, zap.L(), Log())
}
