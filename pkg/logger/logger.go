package logger

import (
	"io"
	"log/slog"
	"os"
)

func Init(debug bool) {
	slog.SetDefault(New(os.Stdout, debug))
}

// New builds the JSON logger used across the service.
func New(w io.Writer, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if debug {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, opts).WithAttrs([]slog.Attr{slog.String("service", "wmcache")}))
}
