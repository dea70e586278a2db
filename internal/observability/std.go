package observability

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// stdLogger adapts the standard library logger to the Logger interface.
// Fields render as space-separated key=value pairs after the message.
type stdLogger struct {
	inner *log.Logger
}

// NewStd wraps a standard library logger.
func NewStd(inner *log.Logger) Logger {
	return stdLogger{inner: inner}
}

func (l stdLogger) Debug(msg string, fields ...Field) { l.emit("DEBUG", msg, fields) }
func (l stdLogger) Info(msg string, fields ...Field)  { l.emit("INFO", msg, fields) }
func (l stdLogger) Error(msg string, fields ...Field) { l.emit("ERROR", msg, fields) }

func (l stdLogger) emit(level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		switch v := f.Value.(type) {
		case string:
			b.WriteString(strconv.Quote(v))
		case error:
			b.WriteString(strconv.Quote(v.Error()))
		default:
			b.WriteString(fmt.Sprint(v))
		}
	}
	l.inner.Print(b.String())
}
