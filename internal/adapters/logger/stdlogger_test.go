package logger

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newCapturedLogger(level LogLevel) (*StdLogger, *bytes.Buffer) {
	l := NewStdLogger("test", level)
	buf := &bytes.Buffer{}
	l.logger = log.New(buf, "", 0)
	return l, buf
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("Error"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newCapturedLogger(LevelWarn)
	ctx := context.Background()

	l.Debug(ctx, "debug message")
	l.Info(ctx, "info message")
	assert.Empty(t, buf.String())

	l.Warn(ctx, "warn message")
	assert.Contains(t, buf.String(), "[WARN] test: warn message")
}

func TestFieldsAreSortedByKey(t *testing.T) {
	l, buf := newCapturedLogger(LevelInfo)

	l.Info(context.Background(), "order submitted", map[string]interface{}{
		"symbol":  "SPY",
		"attempt": 1,
		"tradeID": "t-1",
	})
	assert.Contains(t, buf.String(), "attempt=1 symbol=SPY tradeID=t-1")
}

func TestErrorIncludesCause(t *testing.T) {
	l, buf := newCapturedLogger(LevelInfo)

	l.Error(context.Background(), errors.New("connection refused"), "broker unavailable")
	out := buf.String()
	assert.Contains(t, out, "[ERROR] test: broker unavailable")
	assert.Contains(t, out, "error: connection refused")
}
