package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation describes an on-disk log sink with size-based rollover. Zero
// values fall back to lumberjack's defaults.
type Rotation struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup installs a JSON slog handler as the process-wide default and returns
// it for direct use. Every line carries the service name, plus the deployment
// environment when one is configured. The standard library logger is bridged
// onto the same handler so dependencies keep logging through one sink.
func Setup(service, env string) *slog.Logger {
	return setup(os.Stdout, service, env)
}

// SetupRotating behaves like Setup but writes through a rotating file sink.
// An empty path keeps the stdout sink so callers can leave rotation
// unconfigured in development.
func SetupRotating(service, env string, rot Rotation) *slog.Logger {
	if strings.TrimSpace(rot.Path) == "" {
		return Setup(service, env)
	}
	sink := &lumberjack.Logger{
		Filename:   rot.Path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}
	return setup(sink, service, env)
}

func setup(w io.Writer, service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}

	base := slog.New(handler).With(args...)
	slog.SetDefault(base)

	bridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
