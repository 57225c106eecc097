package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// ANSI codes for the console encoder. One muted palette, no themes;
// operators watching a harvest run mostly want the message column.
const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"

	colorTime    = "\x1b[38;5;108m" // muted cyan-green timestamps
	colorMessage = "\x1b[38;5;223m" // soft cream message text
	colorField   = "\x1b[38;5;245m" // dim grey key=value pairs
	colorWarn    = "\x1b[38;5;214m" // soft yellow
	colorWarnBg  = "\x1b[48;5;58m"
	colorError   = "\x1b[38;5;167m" // warm red
	colorErrorBg = "\x1b[48;5;88m"
)

// consoleEncoder renders calm, compact lines for interactive use.
// Format: "13:04:35  WARN  Task timed out  task_id=ab12 timeout_sec=3600"
type consoleEncoder struct {
	zapcore.Encoder // embedded base encoder handles With-style field state
}

func newConsoleEncoder() *consoleEncoder {
	return &consoleEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	}
}

func (enc *consoleEncoder) Clone() zapcore.Encoder {
	return &consoleEncoder{Encoder: enc.Encoder.Clone()}
}

func (enc *consoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := buffer.NewPool().Get()

	line.AppendString(colorTime)
	line.AppendString(ent.Time.Format("15:04:05"))
	line.AppendString(colorReset)

	// Level badge only for warnings and up; info stays quiet.
	if badge := levelBadge(ent.Level); badge != "" {
		line.AppendString("  ")
		line.AppendString(badge)
	}

	line.AppendString("  ")
	line.AppendString(colorMessage)
	line.AppendString(ent.Message)
	line.AppendString(colorReset)

	if len(fields) > 0 {
		line.AppendString("  ")
		line.AppendString(colorField)
		for i, f := range fields {
			if i > 0 {
				line.AppendString(" ")
			}
			line.AppendString(f.Key)
			line.AppendString("=")
			line.AppendString(fieldValue(f))
		}
		line.AppendString(colorReset)
	}

	line.AppendString("\n")
	return line, nil
}

func levelBadge(level zapcore.Level) string {
	switch level {
	case zapcore.WarnLevel:
		return colorBold + colorWarnBg + colorWarn + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + colorErrorBg + colorError + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + colorErrorBg + colorError + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// fieldValue renders a single zap field without the JSON machinery.
func fieldValue(f zapcore.Field) string {
	switch f.Type {
	case zapcore.StringType:
		return f.String
	case zapcore.BoolType:
		if f.Integer == 1 {
			return "true"
		}
		return "false"
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type,
		zapcore.DurationType:
		return fmt.Sprintf("%d", f.Integer)
	case zapcore.Float64Type, zapcore.Float32Type:
		return fmt.Sprintf("%g", asFloat(f))
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok {
			return err.Error()
		}
	}
	if f.Interface != nil {
		return fmt.Sprintf("%v", f.Interface)
	}
	if f.String != "" {
		return f.String
	}
	return fmt.Sprintf("%d", f.Integer)
}

func asFloat(f zapcore.Field) float64 {
	enc := zapcore.NewMapObjectEncoder()
	f.AddTo(enc)
	if v, ok := enc.Fields[f.Key].(float64); ok {
		return v
	}
	if v, ok := enc.Fields[f.Key].(float32); ok {
		return float64(v)
	}
	return 0
}
