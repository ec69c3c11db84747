// Package logger provides the process-wide structured logger used by every
// component of the supervisor core.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Log is the process-wide logger. It is safe to use before Init (falls back
// to a stdout text handler at info level) so packages can log during early
// startup without a nil-check.
var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Init (re)configures the global logger. level is one of
// "debug"|"info"|"warn"|"error"; logFile, if non-empty, additionally appends
// to a file.
func Init(level string, logFile string) error {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)
	return nil
}
