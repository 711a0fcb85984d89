// Package transcribe turns normalized audio into text with a speech model.
//
// A [Pipeline] owns at most one loaded [Model]. The model is created lazily on
// first use through a [Loader]; concurrent first calls share a single load.
// Audio is fed to the model in fixed 30 second windows and the window texts
// are joined with single spaces.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/notescribe/pkg/audio"
)

// ErrEmptyTranscript is returned when the model produced no text.
var ErrEmptyTranscript = errors.New("transcribe: empty transcript")

// WindowSamples is one 30 second window at [audio.TargetSampleRate].
const WindowSamples = 30 * audio.TargetSampleRate

// Model recognizes speech in mono 16 kHz float32 samples.
//
// Implementations must be safe for concurrent use. An empty language asks the
// model to detect the language itself.
type Model interface {
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
	Close() error
}

// Loader creates a [Model]. It is called at most once per load cycle.
type Loader func(ctx context.Context) (Model, error)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithNormalizer sets the normalizer used by [Pipeline.TranscribeAudio].
// Defaults to a normalizer without transcoder, which accepts only WAV.
func WithNormalizer(n *audio.Normalizer) Option {
	return func(p *Pipeline) {
		if n != nil {
			p.normalizer = n
		}
	}
}

// WithLanguage sets the language used when a call passes none.
func WithLanguage(lang string) Option {
	return func(p *Pipeline) { p.language = lang }
}

// WithWindow overrides the window length in samples.
func WithWindow(samples int) Option {
	return func(p *Pipeline) {
		if samples > 0 {
			p.window = samples
		}
	}
}

// Pipeline transcribes audio with a lazily loaded, shared model.
type Pipeline struct {
	load       Loader
	normalizer *audio.Normalizer
	window     int
	group      singleflight.Group

	mu       sync.Mutex
	model    Model
	language string
}

// New creates a [Pipeline] that loads its model through load.
func New(load Loader, opts ...Option) *Pipeline {
	p := &Pipeline{
		load:       load,
		normalizer: audio.NewNormalizer(nil),
		window:     WindowSamples,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetLanguage changes the default language for later calls.
func (p *Pipeline) SetLanguage(lang string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.language = lang
}

// Language returns the default language.
func (p *Pipeline) Language() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.language
}

// Loaded reports whether a model is currently held.
func (p *Pipeline) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model != nil
}

// Model returns the loaded model, loading it first if necessary.
func (p *Pipeline) Model(ctx context.Context) (Model, error) {
	if m := p.current(); m != nil {
		return m, nil
	}
	if p.load == nil {
		return nil, errors.New("transcribe: no model loader configured")
	}
	v, err, _ := p.group.Do("model", func() (any, error) {
		if m := p.current(); m != nil {
			return m, nil
		}
		m, err := p.load(ctx)
		if err != nil {
			return nil, fmt.Errorf("transcribe: load model: %w", err)
		}
		if m == nil {
			return nil, errors.New("transcribe: loader returned no model")
		}
		p.mu.Lock()
		p.model = m
		p.mu.Unlock()
		slog.Info("speech model loaded")
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Model), nil
}

func (p *Pipeline) current() Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// Reset closes and drops the loaded model so the next call loads a fresh
// one. A load already in flight completes and is kept.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	m := p.model
	p.model = nil
	p.mu.Unlock()
	if m == nil {
		return nil
	}
	if err := m.Close(); err != nil {
		return fmt.Errorf("transcribe: close model: %w", err)
	}
	return nil
}

// Close releases the model.
func (p *Pipeline) Close() error { return p.Reset() }

// Transcribe recognizes speech in buf. An empty language falls back to the
// pipeline default; an invalid one is ignored with a warning.
func (p *Pipeline) Transcribe(ctx context.Context, buf audio.Buffer, language string) (string, error) {
	lang := p.resolveLanguage(language)
	if len(buf.Samples) == 0 {
		return "", ErrEmptyTranscript
	}
	m, err := p.Model(ctx)
	if err != nil {
		return "", err
	}

	var parts []string
	for start, i := 0, 0; start < len(buf.Samples); start, i = start+p.window, i+1 {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("transcribe: %w", err)
		}
		end := min(start+p.window, len(buf.Samples))
		text, err := m.Transcribe(ctx, buf.Samples[start:end], lang)
		if err != nil {
			return "", fmt.Errorf("transcribe: window %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// TranscribeAudio normalizes an encoded recording and transcribes it.
func (p *Pipeline) TranscribeAudio(ctx context.Context, data []byte, mimeType, language string) (string, error) {
	buf, err := p.normalizer.Normalize(ctx, data, mimeType)
	if err != nil {
		return "", err
	}
	slog.Debug("audio normalized",
		"source_rate", buf.SourceRate,
		"source_channels", buf.SourceChannels,
		"seconds", buf.Duration(),
	)
	return p.Transcribe(ctx, buf, language)
}

func (p *Pipeline) resolveLanguage(lang string) string {
	if lang == "" {
		lang = p.Language()
	}
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" || lang == "auto" {
		return ""
	}
	if !ValidLanguage(lang) {
		slog.Warn("ignoring invalid language hint", "language", lang)
		return ""
	}
	return lang
}

// ValidLanguage reports whether lang is a two-letter lowercase code.
func ValidLanguage(lang string) bool {
	if len(lang) != 2 {
		return false
	}
	for _, r := range lang {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
