// Package app wires the notescribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// transcoder, normalizer and transcription pipeline, Transcribe runs one
// recording through them with metrics and tracing, and Shutdown tears
// everything down in order.
//
// For testing, inject test doubles via functional options (WithLoader,
// WithTranscoder, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/notescribe/internal/config"
	"github.com/MrWong99/notescribe/internal/observe"
	"github.com/MrWong99/notescribe/internal/resilience"
	"github.com/MrWong99/notescribe/pkg/audio"
	"github.com/MrWong99/notescribe/pkg/audio/transcode"
	"github.com/MrWong99/notescribe/pkg/capture"
	"github.com/MrWong99/notescribe/pkg/transcribe"
	"github.com/MrWong99/notescribe/pkg/transcribe/whisper"
	"go.opentelemetry.io/otel/trace"
)

// App owns all subsystem lifetimes and orchestrates the transcription
// pipeline.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	logLevel *slog.LevelVar

	transcoder audio.Transcoder
	normalizer *audio.Normalizer
	pipeline   *transcribe.Pipeline

	loaderMu sync.RWMutex
	loader   transcribe.Loader
	breaker  *resilience.Breaker

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLoader injects a model loader instead of creating one from config.
func WithLoader(l transcribe.Loader) Option {
	return func(a *App) { a.loader = l }
}

// WithTranscoder injects a transcoder instead of creating an ffmpeg one.
func WithTranscoder(t audio.Transcoder) Option {
	return func(a *App) { a.transcoder = t }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry replaces the model backend registry. Defaults to
// [DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogLevel lets config reloads adjust the given level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// DefaultRegistry returns a registry with the built-in whisper backends.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()
	r.RegisterModel("whisper-native", func(e config.ModelEntry) (transcribe.Loader, error) {
		cache, err := whisper.NewCache(e.CacheDir, whisper.WithDownloadURL(e.DownloadURL))
		if err != nil {
			return nil, err
		}
		var opts []whisper.NativeOption
		if e.Threads > 0 {
			opts = append(opts, whisper.WithThreads(uint(e.Threads)))
		}
		return cache.NativeLoader(e.Model, e.ModelPath, opts...), nil
	})
	r.RegisterModel("whisper-server", func(e config.ModelEntry) (transcribe.Loader, error) {
		if e.BaseURL == "" {
			return nil, errors.New("whisper-server requires model.base_url")
		}
		return whisper.ServerLoader(e.BaseURL, whisper.WithModel(e.Model)), nil
	})
	return r
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The speech model is
// not loaded until the first transcription.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}

	// ── 1. Transcoder ────────────────────────────────────────────────────
	if a.transcoder == nil {
		ff := transcode.New(cfg.Audio.FFmpegPath, transcode.WithTempDir(cfg.Audio.TempDir))
		if err := ff.Check(ctx); err != nil {
			slog.Warn("ffmpeg unavailable; only WAV input can be transcribed", "err", err)
		}
		a.transcoder = ff
	}
	a.normalizer = audio.NewNormalizer(&timedTranscoder{next: a.transcoder, metrics: a.metrics})

	// ── 2. Model loader ──────────────────────────────────────────────────
	if a.loader == nil {
		l, err := a.registry.CreateLoader(cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("app: model: %w", err)
		}
		a.loader = l
	}

	a.breaker = resilience.NewBreaker(resilience.BreakerConfig{
		Name:   "model",
		Counts: countsAgainstModel,
	})

	// ── 3. Pipeline ──────────────────────────────────────────────────────
	a.pipeline = transcribe.New(a.loadModel,
		transcribe.WithNormalizer(a.normalizer),
		transcribe.WithLanguage(cfg.Model.Language),
	)
	a.closers = append(a.closers, a.pipeline.Close)

	return a, nil
}

// Config returns the config the app was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Pipeline returns the transcription pipeline.
func (a *App) Pipeline() *transcribe.Pipeline { return a.pipeline }

// Metrics returns the metrics instance.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Transcoder returns the configured transcoder.
func (a *App) Transcoder() audio.Transcoder { return a.transcoder }

// loadModel is the pipeline's loader. It times the load and delegates to
// the current configured loader.
func (a *App) loadModel(ctx context.Context) (transcribe.Model, error) {
	a.loaderMu.RLock()
	load := a.loader
	a.loaderMu.RUnlock()

	ctx, stage := observe.BeginStage(ctx, "model.load", a.metrics.ModelLoadDuration,
		observe.Attr("backend", a.cfg.Model.Name),
	)
	var m transcribe.Model
	err := a.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		m, err = load(ctx)
		return err
	})
	if stage.End(err) != nil {
		a.metrics.RecordError(ctx, "model_load", ErrorKind(err))
		return nil, err
	}
	observe.Logger(ctx).Info("speech model ready", "backend", a.cfg.Model.Name, "elapsed", stage.Elapsed())
	return &guardedModel{Model: m, breaker: a.breaker}, nil
}

// guardedModel routes calls through the app's breaker so a speech backend
// that keeps failing is rejected quickly instead of timing out per request.
type guardedModel struct {
	transcribe.Model
	breaker *resilience.Breaker
}

func (g *guardedModel) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	var text string
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = g.Model.Transcribe(ctx, samples, language)
		return err
	})
	return text, err
}

func countsAgainstModel(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, transcribe.ErrEmptyTranscript)
}

// ─── Transcription ───────────────────────────────────────────────────────────

// Transcribe normalizes an encoded recording and turns it into text. An
// empty language uses the configured default.
func (a *App) Transcribe(ctx context.Context, data []byte, mimeType, language string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "transcribe",
		trace.WithAttributes(observe.Attr("mime_type", mimeType), observe.Attr("language", language)),
	)
	defer span.End()
	log := observe.Logger(ctx)

	nctx, stage := observe.BeginStage(ctx, "normalize", a.metrics.NormalizeDuration)
	buf, err := a.normalizer.Normalize(nctx, data, mimeType)
	if err = stage.End(err); err != nil {
		a.fail(ctx, "normalize", err)
		return "", observe.Fail(span, err)
	}
	log.Debug("audio normalized",
		"bytes", len(data),
		"source_rate", buf.SourceRate,
		"source_channels", buf.SourceChannels,
		"seconds", buf.Duration(),
	)

	ictx, stage := observe.BeginStage(ctx, "inference", a.metrics.TranscribeDuration,
		observe.Attr("backend", a.cfg.Model.Name),
	)
	text, err := a.pipeline.Transcribe(ictx, buf, language)
	if err = stage.End(err); err != nil {
		a.fail(ctx, "transcribe", err)
		return "", observe.Fail(span, err)
	}

	a.metrics.RecordRequest(ctx, "transcribe", "ok")
	log.Info("transcription complete", "chars", len(text), "audio_seconds", buf.Duration(), "elapsed", stage.Elapsed())
	return text, nil
}

func (a *App) fail(ctx context.Context, op string, err error) {
	a.metrics.RecordRequest(ctx, op, "error")
	a.metrics.RecordError(ctx, op, ErrorKind(err))
	observe.Logger(ctx).Warn("transcription failed", "stage", op, "err", err)
}

// ErrorKind maps an error onto a short label for metrics and API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, audio.ErrDecodeFailed):
		return "decode_failed"
	case errors.Is(err, transcribe.ErrEmptyTranscript):
		return "empty_transcript"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, capture.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, capture.ErrDeviceBusy):
		return "device_busy"
	case errors.Is(err, capture.ErrDeviceNotFound):
		return "device_not_found"
	case errors.Is(err, capture.ErrEncoderUnavailable),
		errors.Is(err, capture.ErrRecorderInitFailed),
		errors.Is(err, capture.ErrEncoderFailed):
		return "encoder_failed"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "model_unavailable"
	default:
		return "internal"
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change: log
// level, default language and model selection. Other changes are logged as
// requiring a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LanguageChanged {
		a.pipeline.SetLanguage(d.NewLanguage)
		slog.Info("default language changed", "language", d.NewLanguage)
	}
	if d.ModelChanged {
		l, err := a.registry.CreateLoader(new.Model)
		if err != nil {
			slog.Error("keeping current model; new model config is unusable", "err", err)
		} else {
			a.loaderMu.Lock()
			a.loader = l
			a.loaderMu.Unlock()
			if err := a.pipeline.Reset(); err != nil {
				slog.Warn("closing previous model", "err", err)
			}
			a.breaker.Reset()
			slog.Info("speech model will reload on next request", "backend", new.Model.Name, "model", new.Model.Model)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "settings", d.RestartRequired)
	}
	a.cfg = new
}

// ParseLevel converts a config log level to slog. Unknown values map to
// info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// timedTranscoder records transcode latency and a span around another
// transcoder.
type timedTranscoder struct {
	next    audio.Transcoder
	metrics *observe.Metrics
}

func (t *timedTranscoder) ToWAV(ctx context.Context, data []byte, ext string) ([]byte, error) {
	ctx, stage := observe.BeginStage(ctx, "transcode", t.metrics.TranscodeDuration, observe.Attr("ext", ext))
	out, err := t.next.ToWAV(ctx, data, ext)
	return out, stage.End(err)
}
