// Package transcode converts arbitrary audio containers to canonical WAV by
// running ffmpeg as a child process.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/notescribe/pkg/audio"
)

// ErrToolMissing is returned when the ffmpeg executable cannot be found.
var ErrToolMissing = errors.New("transcode: ffmpeg executable not found")

// Compile-time interface assertion.
var _ audio.Transcoder = (*FFmpeg)(nil)

// FFmpeg implements [audio.Transcoder] by writing the input to a temporary
// file and asking ffmpeg for mono 16-bit PCM WAV at [audio.TargetSampleRate].
// Both temporary files are removed before ToWAV returns, on every path.
//
// FFmpeg is safe for concurrent use; each call works on its own files.
type FFmpeg struct {
	command    string
	tempDir    string
	sampleRate int
}

// Option configures an [FFmpeg] transcoder.
type Option func(*FFmpeg)

// WithTempDir places temporary files in dir instead of [os.TempDir].
func WithTempDir(dir string) Option {
	return func(f *FFmpeg) { f.tempDir = dir }
}

// WithSampleRate overrides the output sample rate. Intended for tests.
func WithSampleRate(rate int) Option {
	return func(f *FFmpeg) {
		if rate > 0 {
			f.sampleRate = rate
		}
	}
}

// New creates an [FFmpeg] transcoder. An empty command selects "ffmpeg" from
// PATH.
func New(command string, opts ...Option) *FFmpeg {
	if command == "" {
		command = "ffmpeg"
	}
	f := &FFmpeg{command: command, sampleRate: audio.TargetSampleRate}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Command returns the executable the transcoder runs.
func (f *FFmpeg) Command() string { return f.command }

// ToWAV implements [audio.Transcoder].
func (f *FFmpeg) ToWAV(ctx context.Context, data []byte, ext string) ([]byte, error) {
	if ext == "" {
		ext = audio.DefaultExtension
	}

	in, err := os.CreateTemp(f.tempDir, "notescribe-in-*."+ext)
	if err != nil {
		return nil, fmt.Errorf("transcode: create input file: %w", err)
	}
	inPath := in.Name()
	defer removeQuietly(inPath)

	_, werr := in.Write(data)
	cerr := in.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return nil, fmt.Errorf("transcode: write input file: %w", err)
	}

	out, err := os.CreateTemp(f.tempDir, "notescribe-out-*.wav")
	if err != nil {
		return nil, fmt.Errorf("transcode: create output file: %w", err)
	}
	outPath := out.Name()
	_ = out.Close()
	defer removeQuietly(outPath)

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inPath,
		"-ac", "1",
		"-ar", strconv.Itoa(f.sampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		outPath,
	}
	cmd := exec.CommandContext(ctx, f.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrToolMissing, f.command)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("transcode: ffmpeg: %w", ctxErr)
		}
		return nil, fmt.Errorf("transcode: ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	wav, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("transcode: read output file: %w", err)
	}
	if len(wav) == 0 {
		return nil, errors.New("transcode: ffmpeg produced no output")
	}
	return wav, nil
}

// Check verifies that the ffmpeg executable runs. It is used as a readiness
// probe.
func (f *FFmpeg) Check(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, f.command, "-hide_banner", "-version")
	if out, err := cmd.CombinedOutput(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrToolMissing, f.command)
		}
		return fmt.Errorf("transcode: ffmpeg -version: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("transcode: failed to remove temp file", "path", path, "err", err)
	}
}
