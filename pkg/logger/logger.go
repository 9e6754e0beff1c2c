package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// New returns the JSON logger shared by the webhook API and the event
// processor. Local and dev environments log at debug so individual event
// deliveries are visible; everything else logs at info.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

type ctxKey struct{}

// With stores a logger in ctx. Ingestion attaches request- and
// event-scoped loggers this way so downstream handlers inherit the ids.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger carried by ctx, or slog.Default() when none was
// attached.
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ShutdownFlush exists so main can flush buffered log sinks on shutdown;
// the JSON handler writes through, so today it is a no-op.
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
