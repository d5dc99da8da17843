package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process wide logger. Runs and cases derive scoped loggers
// from it with With.
var Log *Logger

type Logger struct {
	z zerolog.Logger
}

func init() {
	Log = newLogger(os.Stderr, "console")
}

func newLogger(w io.Writer, format string) *Logger {
	if !strings.EqualFold(format, "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return &Logger{z: zerolog.New(w).With().Timestamp().Logger()}
}

// ParseLevel maps a config log level to zerolog. Unknown names are info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup configures the global logger on stderr from the log_level and
// log_format settings.
func Setup(level string, format string) {
	SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with output sent to w.
func SetupWriter(w io.Writer, level string, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	Log = newLogger(w, format)
}

// With returns a child logger that adds the key-value pairs to every
// entry, e.g. With("run_id", id, "case", name).
func (l *Logger) With(args ...interface{}) *Logger {
	c := l.z.With()
	for i := 0; i+1 < len(args); i += 2 {
		c = c.Interface(key(args[i]), args[i+1])
	}
	return &Logger{z: c.Logger()}
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level string) bool {
	lv := ParseLevel(level)
	return lv >= zerolog.GlobalLevel() && lv >= l.z.GetLevel()
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.write(l.z.Info(), msg, args)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.write(l.z.Debug(), msg, args)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.write(l.z.Warn(), msg, args)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.write(l.z.Error(), msg, args)
}

func (l *Logger) write(e *zerolog.Event, msg string, args []interface{}) {
	if e == nil {
		return
	}
	addFields(e, args...)
	e.Msg(msg)
}

func key(k interface{}) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", k)
}

// addFields adds variadic key-value pairs to the event. A trailing key
// without a value is dropped.
func addFields(e *zerolog.Event, args ...interface{}) {
	for i := 0; i+1 < len(args); i += 2 {
		k := key(args[i])
		switch v := args[i+1].(type) {
		case error:
			e.AnErr(k, v)
		case time.Duration:
			e.Dur(k, v)
		case string:
			e.Str(k, v)
		case int:
			e.Int(k, v)
		case fmt.Stringer:
			e.Stringer(k, v)
		default:
			e.Interface(k, v)
		}
	}
}
