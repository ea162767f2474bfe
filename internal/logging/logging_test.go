package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/inboxguard/inboxguard/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("json at debug", func(t *testing.T) {
		log, err := New(config.LoggingConfig{Level: "debug", Format: "json"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("empty settings default to json at info", func(t *testing.T) {
		log, err := New(config.LoggingConfig{})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	})

	t.Run("console at warn", func(t *testing.T) {
		log, err := New(config.LoggingConfig{Level: " WARN ", Format: "Console"})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("unknown level", func(t *testing.T) {
		log, err := New(config.LoggingConfig{Level: "loud", Format: "console"})
		assert.ErrorContains(t, err, "logging level")
		assert.Nil(t, log)
	})

	t.Run("unknown format", func(t *testing.T) {
		log, err := New(config.LoggingConfig{Level: "info", Format: "xml"})
		assert.ErrorContains(t, err, "logging format")
		assert.Nil(t, log)
	})
}
