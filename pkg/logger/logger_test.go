package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestLogger_BasicLevels(t *testing.T) {
	for _, l := range []Logger{New("debug"), NewConsole("warn"), NewNop()} {
		assert.NotNil(t, l)
		l.Debug("dbg", "k", 1)
		l.Info("info")
		l.Warn("warn")
		l.Error("err")
		l.With("record_id", 7).Info("scoped")
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}
