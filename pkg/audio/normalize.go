package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrDecodeFailed wraps every failure to turn input bytes into a [Buffer].
var ErrDecodeFailed = errors.New("audio: decode failed")

// DefaultExtension is the input file extension used when the MIME type
// carries no usable subtype.
const DefaultExtension = "mp3"

// Transcoder converts an arbitrary container into a canonical WAV file
// (mono, [TargetSampleRate], 16-bit PCM). ext is the file extension the input
// is written with, which codec tools use as a format hint.
//
// Implementations must release any temporary resources before returning.
type Transcoder interface {
	ToWAV(ctx context.Context, data []byte, ext string) ([]byte, error)
}

// Normalizer turns recorded audio of any supported container into a [Buffer].
// A Normalizer holds no per-call state and is safe for concurrent use.
type Normalizer struct {
	transcoder Transcoder
	defaultExt string
}

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithDefaultExtension overrides [DefaultExtension].
func WithDefaultExtension(ext string) Option {
	return func(n *Normalizer) {
		if ext != "" {
			n.defaultExt = ext
		}
	}
}

// NewNormalizer creates a [Normalizer]. t may be nil, in which case only
// canonical WAV input is accepted.
func NewNormalizer(t Transcoder, opts ...Option) *Normalizer {
	n := &Normalizer{transcoder: t, defaultExt: DefaultExtension}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize decodes data into mono float32 samples at [TargetSampleRate].
// Input whose MIME type mentions wav, or whose bytes start with a RIFF
// header, is parsed directly; everything else goes through the transcoder
// first. Every failure wraps [ErrDecodeFailed].
func (n *Normalizer) Normalize(ctx context.Context, data []byte, mimeType string) (Buffer, error) {
	if len(data) == 0 {
		return Buffer{}, fmt.Errorf("%w: empty input", ErrDecodeFailed)
	}

	wavData := data
	if !IsCanonical(data, mimeType) {
		if n.transcoder == nil {
			return Buffer{}, fmt.Errorf("%w: %q needs transcoding but no transcoder is configured", ErrDecodeFailed, mimeType)
		}
		out, err := n.transcoder.ToWAV(ctx, data, ExtensionFor(mimeType, n.defaultExt))
		if err != nil {
			return Buffer{}, fmt.Errorf("%w: transcode: %w", ErrDecodeFailed, err)
		}
		wavData = out
	}

	pcm, err := DecodeWAV(wavData)
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	buf, err := Canonical(pcm)
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	return buf, nil
}

// IsCanonical reports whether data can be parsed as WAV without transcoding.
func IsCanonical(data []byte, mimeType string) bool {
	return strings.Contains(strings.ToLower(mimeType), "wav") || bytes.HasPrefix(data, []byte("RIFF"))
}

// ExtensionFor derives a file extension from the subtype of mimeType with
// parameters removed, e.g. "audio/webm;codecs=opus" gives "webm". Characters
// that are unsafe in file names are dropped. fallback is returned when no
// subtype remains.
func ExtensionFor(mimeType, fallback string) string {
	_, subtype, ok := strings.Cut(mimeType, "/")
	if !ok {
		return fallback
	}
	subtype, _, _ = strings.Cut(subtype, ";")
	subtype = strings.ToLower(strings.TrimSpace(subtype))
	ext := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '+':
			return r
		}
		return -1
	}, subtype)
	if ext == "" {
		return fallback
	}
	return ext
}
