package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/notescribe/internal/app"
	"github.com/MrWong99/notescribe/internal/config"
	"github.com/MrWong99/notescribe/internal/observe"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func newServeCmd(g *globals) *cobra.Command {
	var (
		addr  string
		watch time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the transcription HTTP API",
		Long:  "Serve POST /transcribe (multipart field \"audio\", optional \"language\") together with /healthz, /readyz and /metrics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.ListenAddr = addr
			}
			logger, level := newLogger(cmd.ErrOrStderr(), cfg, config.LogFormatText)
			slog.SetDefault(logger)
			return serve(cmd.Context(), g, cfg, level, watch)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (default from config)")
	cmd.Flags().DurationVar(&watch, "watch", 5*time.Second, "config file poll interval, 0 disables reloading")
	return cmd
}

func serve(ctx context.Context, g *globals, cfg *config.Config, level *slog.LevelVar, watch time.Duration) error {
	// ── Telemetry ────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Application ──────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, app.WithLogLevel(level))
	if err != nil {
		return err
	}

	// ── Config reload ────────────────────────────────────────────────────
	var watcher *config.Watcher
	if watch > 0 && g.explicitOrPresent() {
		w, err := config.NewWatcher(g.configPath, a.ApplyConfig, config.WithInterval(watch))
		if err != nil {
			slog.Warn("config reload disabled", "err", err)
		} else {
			watcher = w
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("notescribe listening",
		"addr", cfg.Server.ListenAddr,
		"model", cfg.Model.Name,
		"tls", cfg.Server.TLS != nil,
		"version", version,
	)

	eg, ctx := errgroup.WithContext(ctx)
	if watcher != nil {
		eg.Go(func() error { return watcher.Run(ctx) })
		eg.Go(func() error { return reloadOnHangup(ctx, watcher) })
	}
	eg.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(sctx), a.Shutdown(sctx))
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// reloadOnHangup re-reads the config file whenever the process receives
// SIGHUP, without waiting for the next poll.
func reloadOnHangup(ctx context.Context, w *config.Watcher) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if applied, err := w.Reload(); err != nil {
				slog.Warn("config reload failed", "err", err)
			} else if !applied {
				slog.Info("config unchanged")
			}
		}
	}
}
