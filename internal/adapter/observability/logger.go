package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
)

// redactedKeys are attribute keys whose values never reach the log sink.
var redactedKeys = map[string]struct{}{
	"authorization":   {},
	"api_key":         {},
	"apikey":          {},
	"password":        {},
	"pollen_key":      {},
	"x-key":           {},
	"x-pollen-key":    {},
	"service_role":    {},
	"replicate_token": {},
}

// SetupLogger configures a JSON slog logger with environment fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       levelFor(cfg),
		ReplaceAttr: redact,
	}
	h := slog.NewJSONHandler(w, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}

func levelFor(cfg config.Config) slog.Level {
	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	// In dev, show debug level; otherwise info
	if cfg.IsDev() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok && a.Value.String() != "" {
		return slog.String(a.Key, "[redacted]")
	}
	return a
}
