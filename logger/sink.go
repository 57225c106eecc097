package logger

import (
	"encoding/json"
	"path"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Entry is one log record bound for the logs table.
type Entry struct {
	TS      float64 // unix seconds
	Level   string
	Module  string // caller file:line
	Func    string // caller function
	Message string
	Context string // structured fields as JSON, "" when none
}

// Sink receives WARN+ log entries. The store implements this; the
// interface lives here so the logger never imports the store.
type Sink interface {
	WriteLogEntry(e Entry) error
}

// AttachStoreSink tees entries at or above minLevel into sink. Sink
// failures are swallowed: a broken logs table must never take down
// logging, and the sink itself must not log through zap or every
// failed write would feed back into the sink.
func AttachStoreSink(sink Sink, minLevel string) {
	if sink == nil || Logger == nil {
		return
	}
	threshold := ParseLevel(minLevel)
	if minLevel == "" {
		threshold = zapcore.WarnLevel
	}
	sc := &sinkCore{LevelEnabler: threshold, sink: sink}
	Logger = Logger.Desugar().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, sc)
	})).Sugar()
}

type sinkCore struct {
	zapcore.LevelEnabler
	sink   Sink
	fields []zapcore.Field
}

func (c *sinkCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &sinkCore{LevelEnabler: c.LevelEnabler, sink: c.sink}
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return clone
}

func (c *sinkCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sinkCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	context := ""
	if len(enc.Fields) > 0 {
		if b, err := json.Marshal(enc.Fields); err == nil {
			context = string(b)
		}
	}

	e := Entry{
		TS:      float64(ent.Time.UnixNano()) / 1e9,
		Level:   ent.Level.String(),
		Message: ent.Message,
		Context: context,
	}
	if ent.Caller.Defined {
		e.Module = ent.Caller.TrimmedPath()
		e.Func = path.Base(ent.Caller.Function)
	}

	_ = c.sink.WriteLogEntry(e)
	return nil
}

func (c *sinkCore) Sync() error { return nil }
