// This file contains the Native model backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// Compile-time assertion that Native satisfies transcribe.Model.
var _ transcribe.Model = (*Native)(nil)

// Native implements transcribe.Model using the whisper.cpp Go bindings. The
// model is loaded once and shared; every call runs on its own whisper
// context.
type Native struct {
	model   whisperlib.Model
	path    string
	threads uint
}

// NativeOption is a functional option for configuring a Native model.
type NativeOption func(*Native)

// WithThreads sets the number of CPU threads per inference. Zero keeps the
// whisper.cpp default.
func WithThreads(n uint) NativeOption {
	return func(m *Native) { m.threads = n }
}

// NewNative loads the ggml model file at modelPath. The caller must call
// Close when the model is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	m := &Native{model: model, path: modelPath}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Path returns the model file the model was loaded from.
func (m *Native) Path() string { return m.path }

// Close releases the whisper model.
func (m *Native) Close() error {
	if m.model != nil {
		return m.model.Close()
	}
	return nil
}

// Transcribe runs inference over samples and returns the segment texts joined
// with spaces. An empty language enables auto-detection. Cancellation is
// honoured before inference starts; a running whisper.cpp pass is not
// interruptible.
func (m *Native) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	wctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if m.threads > 0 {
		wctx.SetThreads(m.threads)
	}

	lang := language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using auto-detect", "language", lang, "error", err)
		_ = wctx.SetLanguage("auto")
	}
	wctx.SetTranslate(false)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
