package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Gruvbox-ish color palette (warm, muted, easy on eyes)
const (
	colorReset  = "\x1b[0m"
	colorTime   = "\x1b[38;5;108m" // muted cyan-green
	colorName   = "\x1b[38;5;208m" // warm orange
	colorFg     = "\x1b[38;5;223m" // soft cream
	colorKey    = "\x1b[38;5;109m" // soft blue
	colorNum    = "\x1b[38;5;175m" // muted purple
	colorSymbol = "\x1b[38;5;142m" // muted green
	colorWarn   = "\x1b[38;5;214m" // soft yellow
	colorError  = "\x1b[38;5;167m" // warm red
)

var bufPool = buffer.NewPool()

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  worker  ꩜ Job claimed  job_id=... kind=CLIP_RENDER"
type minimalEncoder struct {
	*zapcore.MapObjectEncoder // captures With()-style context fields
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder()}
}

func (e *minimalEncoder) Clone() zapcore.Encoder {
	clone := newMinimalEncoder()
	for k, v := range e.Fields {
		clone.Fields[k] = v
	}
	return clone
}

func (e *minimalEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := bufPool.Get()

	// Merge context fields with per-call fields
	merged := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		merged.Fields[k] = v
	}
	for _, f := range fields {
		f.AddTo(merged)
	}

	// Timestamp
	line.AppendString(colorTime)
	line.AppendString(entry.Time.Format("15:04:05"))
	line.AppendString(colorReset)
	line.AppendString("  ")

	// Logger name (subsystem)
	if entry.LoggerName != "" {
		line.AppendString(colorName)
		line.AppendString(entry.LoggerName)
		line.AppendString(colorReset)
		line.AppendString("  ")
	}

	// Symbol field renders in front of the message
	if symVal, ok := merged.Fields[FieldSymbol]; ok {
		line.AppendString(colorSymbol)
		line.AppendString(fmt.Sprint(symVal))
		line.AppendString(colorReset)
		line.AppendString(" ")
		delete(merged.Fields, FieldSymbol)
	}

	// Message, level-tinted
	msgColor := colorFg
	switch entry.Level {
	case zapcore.WarnLevel:
		msgColor = colorWarn
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		msgColor = colorError
	}
	line.AppendString(msgColor)
	line.AppendString(entry.Message)
	line.AppendString(colorReset)

	// Fields in stable order
	if len(merged.Fields) > 0 {
		keys := make([]string, 0, len(merged.Fields))
		for k := range merged.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		line.AppendString("  ")
		for i, k := range keys {
			if i > 0 {
				line.AppendString(" ")
			}
			line.AppendString(colorKey)
			line.AppendString(k)
			line.AppendString(colorReset)
			line.AppendString("=")
			line.AppendString(formatValue(merged.Fields[k]))
		}
	}

	line.AppendString("\n")
	return line, nil
}

// formatValue renders a field value compactly, tinting numbers.
func formatValue(v interface{}) string {
	s := fmt.Sprint(v)
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return colorNum + s + colorReset
	}
	if strings.ContainsAny(s, " \t") {
		return colorFg + fmt.Sprintf("%q", s) + colorReset
	}
	return colorFg + s + colorReset
}
