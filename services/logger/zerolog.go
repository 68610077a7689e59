package logsvc

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/azardenmark/dashboard-sub000/core"
)

// ZeroLogger prints structured log lines through zerolog.
// expected args: error, map[string]interface{}, fmt.Stringer or anything printable
type ZeroLogger struct {
	zl zerolog.Logger
}

var _ core.Logger = (*ZeroLogger)(nil)

func NewZeroLogger(zl zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{zl: zl}
}

// NewConsoleLogger writes human-friendly lines to w (stderr when nil).
func NewConsoleLogger(w io.Writer, debug bool) *ZeroLogger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
	return &ZeroLogger{zl: zl}
}

func (l *ZeroLogger) log(evt *zerolog.Event, msg string, args []interface{}) {
	extra := 0
	for _, arg := range args {
		switch v := arg.(type) {
		case nil:
		case error:
			evt = evt.Err(v)
		case map[string]interface{}:
			evt = evt.Fields(v)
		default:
			evt = evt.Interface("arg"+strconv.Itoa(extra), v)
			extra++
		}
	}
	evt.Msg(msg)
}

func (l *ZeroLogger) Debug(msg string, args ...interface{}) { l.log(l.zl.Debug(), msg, args) }
func (l *ZeroLogger) Info(msg string, args ...interface{})  { l.log(l.zl.Info(), msg, args) }
func (l *ZeroLogger) Warn(msg string, args ...interface{})  { l.log(l.zl.Warn(), msg, args) }
func (l *ZeroLogger) Error(msg string, args ...interface{}) { l.log(l.zl.Error(), msg, args) }

// Fatal logs and exits.
func (l *ZeroLogger) Fatal(msg string, args ...interface{}) { l.log(l.zl.Fatal(), msg, args) }
