package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"bigapi/backend/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("生产模式", func(t *testing.T) {
		log, err := New(config.LogConfig{Level: "warn"})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("非法级别回落到info", func(t *testing.T) {
		log, err := New(config.LogConfig{Level: "verbose"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("写入文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "bigapi.log")
		log, err := New(config.LogConfig{Level: "info", File: file})
		require.NoError(t, err)
		log.Info("hello", KeyPreview("big_live_...abcd"), AccountID("acct-1"), KeyID("key-1"))
		assert.FileExists(t, file)
	})
}
