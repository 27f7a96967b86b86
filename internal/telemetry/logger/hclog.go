package logger

import (
	"context"
	"io"
	"log"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// HCLog adapts l to hashicorp/go-hclog.Logger for raft and memberlist.
// Trace maps to slog debug; names are joined with '.' and carried in the
// "subsystem" attribute.
func HCLog(l *slog.Logger, name string) hclog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return &hcLogger{base: l, name: name, logger: withName(l, name)}
}

type hcLogger struct {
	base    *slog.Logger // logger without name or implied args
	name    string
	implied []any
	logger  *slog.Logger
}

func withName(l *slog.Logger, name string) *slog.Logger {
	if name == "" {
		return l
	}
	return l.With("subsystem", name)
}

func toSlogLevel(level hclog.Level) slog.Level {
	switch level {
	case hclog.Trace, hclog.Debug:
		return slog.LevelDebug
	case hclog.Warn:
		return slog.LevelWarn
	case hclog.Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *hcLogger) Log(level hclog.Level, msg string, args ...any) {
	l.logger.Log(context.Background(), toSlogLevel(level), msg, args...)
}

func (l *hcLogger) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hcLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *hcLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *hcLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *hcLogger) enabled(level slog.Level) bool {
	return l.logger.Enabled(context.Background(), level)
}

func (l *hcLogger) IsTrace() bool { return false }
func (l *hcLogger) IsDebug() bool { return l.enabled(slog.LevelDebug) }
func (l *hcLogger) IsInfo() bool  { return l.enabled(slog.LevelInfo) }
func (l *hcLogger) IsWarn() bool  { return l.enabled(slog.LevelWarn) }
func (l *hcLogger) IsError() bool { return l.enabled(slog.LevelError) }

func (l *hcLogger) ImpliedArgs() []any { return l.implied }

func (l *hcLogger) With(args ...any) hclog.Logger {
	implied := append(append([]any(nil), l.implied...), args...)
	return &hcLogger{base: l.base, name: l.name, implied: implied, logger: l.logger.With(args...)}
}

func (l *hcLogger) Name() string { return l.name }

func (l *hcLogger) Named(name string) hclog.Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return l.rebuild(full)
}

func (l *hcLogger) ResetNamed(name string) hclog.Logger {
	return l.rebuild(name)
}

func (l *hcLogger) rebuild(name string) hclog.Logger {
	lg := withName(l.base, name)
	if len(l.implied) > 0 {
		lg = lg.With(l.implied...)
	}
	return &hcLogger{base: l.base, name: name, implied: l.implied, logger: lg}
}

// SetLevel changes the process-wide level; slog handlers share one LevelVar.
func (l *hcLogger) SetLevel(lvl hclog.Level) { level.Set(toSlogLevel(lvl)) }

func (l *hcLogger) GetLevel() hclog.Level {
	switch level.Level() {
	case slog.LevelDebug:
		return hclog.Debug
	case slog.LevelWarn:
		return hclog.Warn
	case slog.LevelError:
		return hclog.Error
	default:
		return hclog.Info
	}
}

func (l *hcLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	lvl := slog.LevelInfo
	if opts != nil && opts.ForceLevel != hclog.NoLevel {
		lvl = toSlogLevel(opts.ForceLevel)
	}
	return slog.NewLogLogger(l.logger.Handler(), lvl)
}

func (l *hcLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return l.StandardLogger(opts).Writer()
}
