package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the process-wide slog handler. Dev mode gets a
// human-readable text handler at debug level, everything else ships
// info-and-up JSON.
func InitSlog(dev bool) {
	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	slog.SetDefault(slog.New(handler))
}
