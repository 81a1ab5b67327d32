package logs

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger handed to every component. Args are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type ZeroLogger struct {
	logger zerolog.Logger
}

func New(level, service string) *ZeroLogger {
	return NewWithWriter(os.Stdout, level, service)
}

func NewWithWriter(w io.Writer, level, service string) *ZeroLogger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
	return &ZeroLogger{logger: l}
}

// Nop discards everything; handy in tests.
func Nop() *ZeroLogger {
	return &ZeroLogger{logger: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
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

func (z *ZeroLogger) Debug(msg string, args ...any) { z.emit(z.logger.Debug(), msg, args) }
func (z *ZeroLogger) Info(msg string, args ...any)  { z.emit(z.logger.Info(), msg, args) }
func (z *ZeroLogger) Warn(msg string, args ...any)  { z.emit(z.logger.Warn(), msg, args) }
func (z *ZeroLogger) Error(msg string, args ...any) { z.emit(z.logger.Error(), msg, args) }

func (z *ZeroLogger) emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "arg"
		}
		if i+1 >= len(args) {
			ev = ev.Interface(key, nil)
			break
		}
		if err, isErr := args[i+1].(error); isErr {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
