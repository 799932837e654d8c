package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"mvr-etl/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LogConfig
		level zapcore.Level
	}{
		{"json debug", config.LogConfig{Level: "debug", Encoding: "json"}, zapcore.DebugLevel},
		{"console warn", config.LogConfig{Level: "WARN", Encoding: "console"}, zapcore.WarnLevel},
		{"empty level is info", config.LogConfig{}, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.level))
			if tt.level > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.level-1))
			}
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"loud"`)
}

func TestEncoderConfig_ISO8601Time(t *testing.T) {
	entry := zapcore.Entry{Time: time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC), Message: "hi"}

	for _, encoding := range []string{"console", "json"} {
		t.Run(encoding, func(t *testing.T) {
			var enc zapcore.Encoder
			if encoding == "console" {
				enc = zapcore.NewConsoleEncoder(encoderConfig(encoding))
			} else {
				enc = zapcore.NewJSONEncoder(encoderConfig(encoding))
			}

			buf, err := enc.EncodeEntry(entry, nil)
			require.NoError(t, err)
			assert.Contains(t, buf.String(), "2025-01-05T12:00:00.000Z")
		})
	}
}
