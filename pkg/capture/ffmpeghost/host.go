// Package ffmpeghost implements capture.Host on top of an ffmpeg child
// process reading the system microphone.
//
// ffmpeg delivers raw 48 kHz mono PCM on stdout. The host fans frames out to
// an FFT analyser for the live waveform and to an encoder: Opus in an Ogg
// container (gopus + pion oggwriter) or 16-bit WAV (go-audio).
package ffmpeghost

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os/exec"
	"strings"

	"github.com/MrWong99/notescribe/pkg/capture"
)

const (
	// SampleRate is the capture rate requested from ffmpeg.
	SampleRate = 48000

	// Channels is the capture channel count.
	Channels = 1

	// FrameSamples is one 20 ms frame at SampleRate.
	FrameSamples = SampleRate / 50
)

// Compile-time interface assertion.
var _ capture.Host = (*Host)(nil)

// Host captures from a local input device through ffmpeg.
type Host struct {
	command     string
	inputFormat string
	inputDevice string
	lookPath    func(string) (string, error)
}

// Option configures a [Host].
type Option func(*Host)

// WithInput selects the ffmpeg input format (e.g. "pulse", "alsa",
// "avfoundation", "dshow") and device name.
func WithInput(format, device string) Option {
	return func(h *Host) {
		if format != "" {
			h.inputFormat = format
		}
		if device != "" {
			h.inputDevice = device
		}
	}
}

// New creates a [Host]. An empty command selects "ffmpeg" from PATH.
func New(command string, opts ...Option) *Host {
	if command == "" {
		command = "ffmpeg"
	}
	h := &Host{
		command:     command,
		inputFormat: "pulse",
		inputDevice: "default",
		lookPath:    exec.LookPath,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Environment implements [capture.Host]. A local process always runs in a
// secure context.
func (h *Host) Environment() capture.Environment {
	_, err := h.lookPath(h.command)
	return capture.Environment{
		RecorderAPI:    err == nil,
		DeviceAPI:      h.inputFormat != "",
		Secure:         true,
		Protocol:       "file:",
		Hostname:       "localhost",
		Engine:         "ffmpeg/" + h.inputFormat,
		DefaultEncoder: true,
	}
}

// IsTypeSupported implements [capture.Host].
func (h *Host) IsTypeSupported(mimeType string) bool {
	_, err := parseFormat(mimeType)
	return err == nil
}

// OpenStream implements [capture.Host].
func (h *Host) OpenStream(ctx context.Context) (capture.Stream, error) {
	return openStream(ctx, h.command, h.inputFormat, h.inputDevice)
}

// NewGraph implements [capture.Host].
func (h *Host) NewGraph(s capture.Stream, cfg capture.AnalyserConfig) (capture.Graph, error) {
	st, ok := s.(*stream)
	if !ok {
		return nil, fmt.Errorf("ffmpeghost: foreign stream %T", s)
	}
	a, err := newAnalyser(cfg)
	if err != nil {
		return nil, err
	}
	return newGraph(st, a), nil
}

// NewEncoder implements [capture.Host]. Nil or empty options select Ogg
// Opus.
func (h *Host) NewEncoder(s capture.Stream, opts *capture.EncoderOptions) (capture.Encoder, error) {
	st, ok := s.(*stream)
	if !ok {
		return nil, fmt.Errorf("ffmpeghost: foreign stream %T", s)
	}
	var (
		mimeType string
		bitrate  int
	)
	if opts != nil {
		mimeType, bitrate = opts.MimeType, opts.BitsPerSecond
	}
	f, err := parseFormat(mimeType)
	if err != nil {
		return nil, err
	}
	switch f {
	case formatWAV:
		return newWAVEncoder(st), nil
	default:
		return newOpusEncoder(st, bitrate), nil
	}
}

type format int

const (
	formatOggOpus format = iota
	formatWAV
)

var errUnsupportedType = errors.New("NotSupportedError: unsupported mime type")

// parseFormat maps a MIME type onto an encoder. The empty string selects the
// default Ogg Opus encoder.
func parseFormat(mimeType string) (format, error) {
	if strings.TrimSpace(mimeType) == "" {
		return formatOggOpus, nil
	}
	media, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errUnsupportedType, mimeType)
	}
	switch media {
	case "audio/ogg":
		if codecs, ok := params["codecs"]; ok && !strings.EqualFold(codecs, "opus") {
			return 0, fmt.Errorf("%w: %q", errUnsupportedType, mimeType)
		}
		return formatOggOpus, nil
	case "audio/wav", "audio/wave", "audio/x-wav":
		return formatWAV, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnsupportedType, mimeType)
	}
}
