package telemetry

import (
	"log/slog"
	"os"
	"strings"

	"github.com/tagwarden/tagwarden/pkg/guard"
)

// NewLogger builds the process logger: JSON to stderr with every error and
// message attribute run through the redactor, so nothing sensitive reaches
// the log sink even on unexpected paths.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(guard.RedactString(a.Value.String()))
			}
			if err, ok := a.Value.Any().(error); ok {
				a.Value = slog.StringValue(guard.RedactError(err))
			}
			return a
		},
	})
	return slog.New(handler)
}
