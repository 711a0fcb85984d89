package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/log"

	"github.com/MrWong99/notescribe/internal/app"
	"github.com/MrWong99/notescribe/internal/config"
)

// newLogger builds the process logger. An empty format in cfg selects
// fallback. The returned LevelVar lets config reloads change verbosity.
func newLogger(w io.Writer, cfg *config.Config, fallback config.LogFormat) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))

	format := cfg.Server.LogFormat
	if format == "" {
		format = fallback
	}

	var handler slog.Handler
	switch format {
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case config.LogFormatPretty:
		pretty := log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Level:           log.DebugLevel,
			Prefix:          "notescribe",
		})
		handler = &leveled{Handler: pretty, level: level}
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler), level
}

// leveled gates a handler that has its own fixed level on a shared
// [slog.Leveler].
type leveled struct {
	slog.Handler
	level slog.Leveler
}

func (h *leveled) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.Handler.Enabled(ctx, l)
}

func (h *leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &leveled{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *leveled) WithGroup(name string) slog.Handler {
	return &leveled{Handler: h.Handler.WithGroup(name), level: h.level}
}
