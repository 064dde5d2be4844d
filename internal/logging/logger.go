// Package logging owns process-wide log configuration.
//
// Callers log through the printf-style helpers (Infof, Warnf, Errf, ...)
// using the "pkg.Type.method key=value" message convention. Output is
// rendered by zerolog; Bypass switches from the console writer to raw
// JSON lines for log shippers.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	TraceLevel = zerolog.TraceLevel
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	Disabled   = zerolog.Disabled
)

// Config controls rendering of the shared logger.
type Config struct {
	Level     Level
	Timestamp bool
	NoColor   bool
	Bypass    bool
	Out       io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		Timestamp: true,
		Out:       os.Stderr,
	}
}

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(InfoLevel)
)

// Apply replaces the shared logger. Configure wraps it with profile defaults.
func Apply(cfg Config) {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if !cfg.Bypass {
		cw := zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
		if !cfg.Timestamp {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		out = cw
	}
	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	l := ctx.Logger().Level(cfg.Level)

	mu.Lock()
	logger = l
	mu.Unlock()
}

// Logger returns the shared zerolog logger for structured call sites.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Tracef(format string, args ...any) { emit(TraceLevel, format, args...) }
func Debugf(format string, args ...any) { emit(DebugLevel, format, args...) }
func Infof(format string, args ...any)  { emit(InfoLevel, format, args...) }
func Warnf(format string, args ...any)  { emit(WarnLevel, format, args...) }
func Errf(format string, args ...any)   { emit(ErrorLevel, format, args...) }

// Logf writes at info level without a level tag, for test narration.
func Logf(format string, args ...any) {
	l := Logger()
	l.Log().Msg(fmt.Sprintf(format, args...))
}

func emit(level Level, format string, args ...any) {
	l := Logger()
	l.WithLevel(level).Msg(fmt.Sprintf(format, args...))
}
