// Package capture implements microphone capture on top of audio hosts whose
// capability reports cannot be trusted.
//
// A [Host] abstracts the platform audio engine: device access, the analysis
// graph used for live amplitude display and the encoder that produces the
// finished recording. [Negotiate] picks an encoder format from what the host
// claims to support, and [Recorder] drives one capture session at a time
// through acquiring, recording, stopping and processing, releasing every host
// resource on each exit path.
package capture

import "context"

// Environment describes what a [Host] offers before any device is opened.
type Environment struct {
	// RecorderAPI reports whether the host can encode recordings at all.
	RecorderAPI bool

	// DeviceAPI reports whether the host exposes microphone devices.
	DeviceAPI bool

	// Secure reports a secure context. When false, [IsSecureOrigin] is
	// consulted with Protocol and Hostname.
	Secure   bool
	Protocol string
	Hostname string

	// Engine names the host implementation, e.g. a user-agent string. It is
	// used to select a quirk [Profile].
	Engine string

	// DefaultEncoder reports whether the host can construct an encoder with
	// no format configured.
	DefaultEncoder bool
}

// Track is one audio input track of a [Stream].
type Track interface {
	Label() string
	// Live reports whether the track is delivering media. Some hosts report
	// a track as not live for a short while after the stream opens.
	Live() bool
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the underlying device. Calling Stop more than once is
	// allowed.
	Stop()
}

// Stream is an open microphone stream.
type Stream interface {
	Active() bool
	AudioTracks() []Track
}

// Analyser exposes the magnitude spectrum of the stream it is attached to.
type Analyser interface {
	// FrequencyBinCount is half the FFT size.
	FrequencyBinCount() int
	// ByteFrequencyData fills dst with the current magnitudes scaled to
	// 0..255. dst should be FrequencyBinCount long.
	ByteFrequencyData(dst []uint8)
}

// AnalyserConfig configures the analysis tap.
type AnalyserConfig struct {
	FFTSize   int
	Smoothing float64
}

// DefaultAnalyserConfig matches what the amplitude display expects.
var DefaultAnalyserConfig = AnalyserConfig{FFTSize: 256, Smoothing: 0.8}

// Graph is the live analysis graph: stream source, analyser and a silent
// sink that keeps the graph pulling data without audible output.
type Graph interface {
	Analyser() Analyser
	// Disconnect detaches every node from the stream.
	Disconnect() error
	// Close releases the engine context. Hosts may return an error when the
	// graph was already closed.
	Close() error
}

// EncoderOptions configures encoder construction. A nil *EncoderOptions and
// a zero EncoderOptions are distinct requests: some hosts only accept one of
// them.
type EncoderOptions struct {
	MimeType      string
	BitsPerSecond int
}

// EncoderState mirrors the lifecycle of a host encoder.
type EncoderState int

const (
	EncoderInactive EncoderState = iota
	EncoderRecording
	EncoderPaused
)

// String implements [fmt.Stringer].
func (s EncoderState) String() string {
	switch s {
	case EncoderInactive:
		return "inactive"
	case EncoderRecording:
		return "recording"
	case EncoderPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// EncoderHandlers receive encoder events. Handlers may be called from any
// goroutine but never concurrently with each other for one encoder.
type EncoderHandlers struct {
	// OnData receives encoded chunks in order. Chunks may be empty.
	OnData func(chunk []byte)
	// OnStop is called once after the final chunk has been delivered.
	OnStop func()
	// OnError reports a fatal encoder error.
	OnError func(err error)
}

// Encoder turns a stream into an encoded container.
type Encoder interface {
	// MimeType is the container type actually produced. May be empty.
	MimeType() string
	State() EncoderState
	// Start begins encoding and delivering events to h.
	Start(h EncoderHandlers) error
	// Stop requests finalization. The remaining data followed by OnStop is
	// delivered afterwards, possibly before Stop returns.
	Stop() error
}

// Host is a platform audio engine.
type Host interface {
	Environment() Environment
	// IsTypeSupported is advisory. Implementations may lie or panic.
	IsTypeSupported(mimeType string) bool
	// OpenStream requests microphone access. Failures should be reported as
	// *[HostError] so they can be classified.
	OpenStream(ctx context.Context) (Stream, error)
	NewGraph(stream Stream, cfg AnalyserConfig) (Graph, error)
	// NewEncoder constructs an encoder. opts may be nil.
	NewEncoder(stream Stream, opts *EncoderOptions) (Encoder, error)
}
