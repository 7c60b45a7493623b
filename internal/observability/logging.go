package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig holds configuration for the structured logger.
type LogConfig struct {
	Level       string // "debug", "info", "warn", "error"
	Format      string // "json" or "text"
	ServiceName string
	Environment string
	Output      io.Writer // Defaults to os.Stdout
}

// sensitivePatterns contains attribute key fragments that are redacted.
// Upgrade requests carry cookies and auth headers the gateway never needs
// in its logs. Matched case-insensitively.
var sensitivePatterns = []string{
	"_key",
	"_secret",
	"_token",
	"_password",
	"authorization",
	"cookie",
	"sec-websocket-key",
	"password",
	"secret",
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger creates the process logger with secret redaction and service
// context, and installs it via slog.SetDefault.
func InitLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
	)

	slog.SetDefault(logger)
	return logger
}

// NewRedactingHandler creates a JSON slog handler that redacts sensitive
// fields, chaining any ReplaceAttr already present in opts.
func NewRedactingHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	originalReplace := opts.ReplaceAttr
	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if originalReplace != nil {
			a = originalReplace(groups, a)
		}
		return redactSecrets(groups, a)
	}

	return slog.NewJSONHandler(w, opts)
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	keyLower := strings.ToLower(a.Key)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(keyLower, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// WithTraceID returns logger annotated with the trace ID from ctx, if any.
func WithTraceID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return logger.With(slog.String("trace_id", traceID))
	}
	return logger
}

// Discard returns a logger that drops everything. Tests use it to keep
// output quiet without touching the default logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
