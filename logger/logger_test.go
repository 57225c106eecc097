package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(5))
}

func TestInitializeWithoutOutputsIsSafe(t *testing.T) {
	require.NoError(t, Initialize(Options{}))
	Infow("should not panic", "k", "v")
	Errorf("still fine: %d", 42)
	Cleanup()
}

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *recordingSink) WriteLogEntry(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingSink) all() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry{}, r.entries...)
}

func TestStoreSinkReceivesWarnAndAbove(t *testing.T) {
	require.NoError(t, Initialize(Options{}))
	sink := &recordingSink{}
	AttachStoreSink(sink, "warn")

	Infow("harvest page complete", "page", 3)
	Warnw("disk space low", "pct", 91)
	Errorw("upstream rejected request", "status", 502)

	entries := sink.all()
	require.Len(t, entries, 2)

	assert.Equal(t, "warn", entries[0].Level)
	assert.Equal(t, "disk space low", entries[0].Message)
	assert.Contains(t, entries[0].Context, `"pct":91`)
	assert.NotZero(t, entries[0].TS)

	assert.Equal(t, "error", entries[1].Level)
	assert.Equal(t, "upstream rejected request", entries[1].Message)
}

func TestStoreSinkHonorsDebugThreshold(t *testing.T) {
	require.NoError(t, Initialize(Options{}))
	sink := &recordingSink{}
	AttachStoreSink(sink, "debug")

	Debugw("rate limiter waited", "ms", 120)

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "debug", entries[0].Level)
}

func TestConsoleEncoderLine(t *testing.T) {
	enc := newConsoleEncoder()
	ent := zapcore.Entry{
		Level:   zapcore.WarnLevel,
		Message: "task timed out",
	}
	buf, err := enc.EncodeEntry(ent, []zapcore.Field{
		{Key: "task_id", Type: zapcore.StringType, String: "ab12"},
		{Key: "timeout_sec", Type: zapcore.Int64Type, Integer: 3600},
	})
	require.NoError(t, err)
	line := buf.String()
	assert.Contains(t, line, "WARN")
	assert.Contains(t, line, "task timed out")
	assert.Contains(t, line, "task_id=ab12")
	assert.Contains(t, line, "timeout_sec=3600")
}
