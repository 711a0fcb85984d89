// Package mock provides a scriptable capture.Host for tests.
//
// The mock can simulate hosts that misreport format support, panic while
// probing, deliver tracks late, reject specific encoder option shapes and
// fail while closing the analysis graph.
//
// Example:
//
//	host := &mock.Host{
//	    Env:       mock.SecureEnvironment(),
//	    Supported: map[string]bool{"audio/ogg": true},
//	}
//	rec := capture.NewRecorder(host, handoff)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/notescribe/pkg/capture"
)

// SecureEnvironment returns an environment that passes every precondition.
func SecureEnvironment() capture.Environment {
	return capture.Environment{
		RecorderAPI:    true,
		DeviceAPI:      true,
		Secure:         true,
		Engine:         "mock",
		DefaultEncoder: true,
	}
}

// Host is a mock implementation of capture.Host.
type Host struct {
	mu sync.Mutex

	// Env is returned by Environment.
	Env capture.Environment

	// Supported lists the MIME types IsTypeSupported reports as supported.
	Supported map[string]bool

	// PanicOn lists MIME types whose probe panics.
	PanicOn map[string]bool

	// Stream is returned by every OpenStream call. If nil, each call opens
	// a fresh live stream with one track, as a real host does.
	Stream *Stream

	// OpenErr, if non-nil, is returned by OpenStream.
	OpenErr error

	// Graph is returned by NewGraph. If nil a default graph is created.
	Graph *Graph

	// GraphErr, if non-nil, is returned by NewGraph.
	GraphErr error

	// RejectEncoder, if set, is consulted for every NewEncoder call. A
	// non-nil result fails that construction attempt.
	RejectEncoder func(opts *capture.EncoderOptions) error

	// PanicEncoder, if set and returning true, makes NewEncoder panic.
	PanicEncoder func(opts *capture.EncoderOptions) bool

	// EncoderTemplate configures encoders built by NewEncoder.
	EncoderTemplate Encoder

	// --- Call records ---

	// ProbeCalls records every MIME type passed to IsTypeSupported.
	ProbeCalls []string

	// OpenCallCount is the number of OpenStream calls.
	OpenCallCount int

	// Opened holds every stream OpenStream returned.
	Opened []*Stream

	// GraphCallCount is the number of NewGraph calls.
	GraphCallCount int

	// GraphConfigs records every analyser configuration requested.
	GraphConfigs []capture.AnalyserConfig

	// EncoderCalls records the options of every NewEncoder call. A nil
	// entry means the call passed no options.
	EncoderCalls []*capture.EncoderOptions

	// Encoders holds every encoder NewEncoder returned.
	Encoders []*Encoder
}

// Environment returns Env.
func (h *Host) Environment() capture.Environment {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Env
}

// IsTypeSupported records the probe and reports Supported[mimeType]. It
// panics when PanicOn[mimeType] is set.
func (h *Host) IsTypeSupported(mimeType string) bool {
	h.mu.Lock()
	h.ProbeCalls = append(h.ProbeCalls, mimeType)
	panics := h.PanicOn[mimeType]
	ok := h.Supported[mimeType]
	h.mu.Unlock()
	if panics {
		panic("mock: probe exploded for " + mimeType)
	}
	return ok
}

// OpenStream returns Stream, a fresh stream, or OpenErr.
func (h *Host) OpenStream(_ context.Context) (capture.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.OpenCallCount++
	if h.OpenErr != nil {
		return nil, h.OpenErr
	}
	s := h.Stream
	if s == nil {
		s = NewStream(NewTrack("mock microphone"))
	}
	h.Opened = append(h.Opened, s)
	return s, nil
}

// NewGraph returns Graph or GraphErr.
func (h *Host) NewGraph(_ capture.Stream, cfg capture.AnalyserConfig) (capture.Graph, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.GraphCallCount++
	h.GraphConfigs = append(h.GraphConfigs, cfg)
	if h.GraphErr != nil {
		return nil, h.GraphErr
	}
	if h.Graph == nil {
		h.Graph = &Graph{Tap: NewAnalyser(cfg.FFTSize / 2)}
	}
	return h.Graph, nil
}

// NewEncoder records opts and returns a fresh encoder unless RejectEncoder
// or PanicEncoder says otherwise.
func (h *Host) NewEncoder(_ capture.Stream, opts *capture.EncoderOptions) (capture.Encoder, error) {
	h.mu.Lock()
	var rec *capture.EncoderOptions
	if opts != nil {
		c := *opts
		rec = &c
	}
	h.EncoderCalls = append(h.EncoderCalls, rec)
	reject, panics := h.RejectEncoder, h.PanicEncoder
	h.mu.Unlock()

	if panics != nil && panics(opts) {
		panic("mock: encoder constructor exploded")
	}
	if reject != nil {
		if err := reject(opts); err != nil {
			return nil, err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	enc := &Encoder{
		Mime:         h.EncoderTemplate.Mime,
		InitialState: h.EncoderTemplate.InitialState,
		StartErr:     h.EncoderTemplate.StartErr,
		StopErr:      h.EncoderTemplate.StopErr,
		FinalChunks:  h.EncoderTemplate.FinalChunks,
		AsyncStop:    h.EncoderTemplate.AsyncStop,
	}
	if enc.Mime == "" && opts != nil {
		enc.Mime = opts.MimeType
	}
	enc.state = enc.InitialState
	h.Encoders = append(h.Encoders, enc)
	return enc, nil
}

// LastEncoder returns the most recently built encoder, or nil.
func (h *Host) LastEncoder() *Encoder {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Encoders) == 0 {
		return nil
	}
	return h.Encoders[len(h.Encoders)-1]
}

// Ensure Host implements capture.Host at compile time.
var _ capture.Host = (*Host)(nil)

// Stream is a mock implementation of capture.Stream.
type Stream struct {
	mu sync.Mutex

	// Inactive makes Active report false.
	Inactive bool

	// InactiveAfter, when positive, makes Active report false once it has
	// been called this many times.
	InactiveAfter int

	Tracks []*Track

	activeCalls int
}

// NewStream returns an active stream holding tracks.
func NewStream(tracks ...*Track) *Stream {
	return &Stream{Tracks: tracks}
}

// Active reports whether the stream is active.
func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCalls++
	if s.InactiveAfter > 0 && s.activeCalls > s.InactiveAfter {
		return false
	}
	return !s.Inactive
}

// AudioTracks returns Tracks.
func (s *Stream) AudioTracks() []capture.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capture.Track, len(s.Tracks))
	for i, t := range s.Tracks {
		out[i] = t
	}
	return out
}

var _ capture.Stream = (*Stream)(nil)

// Track is a mock implementation of capture.Track.
type Track struct {
	mu sync.Mutex

	label   string
	live    bool
	enabled bool

	// LiveAfter, when positive, makes Live report false for that many calls
	// before reporting live.
	LiveAfter int

	liveCalls int

	// StopCallCount is the number of Stop calls.
	StopCallCount int
}

// NewTrack returns a live, enabled track.
func NewTrack(label string) *Track {
	return &Track{label: label, live: true, enabled: true}
}

// NewDeadTrack returns a track that never becomes live.
func NewDeadTrack(label string) *Track {
	return &Track{label: label, enabled: true}
}

// Label returns the track label.
func (t *Track) Label() string { return t.label }

// Live reports whether the track is live, honouring LiveAfter.
func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.liveCalls++
	if t.LiveAfter > 0 && t.liveCalls <= t.LiveAfter {
		return false
	}
	return t.live && t.StopCallCount == 0
}

// Enabled reports the enabled flag.
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled sets the enabled flag.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// Stop records the call.
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.StopCallCount++
}

// Stops returns StopCallCount. Thread-safe.
func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.StopCallCount
}

var _ capture.Track = (*Track)(nil)

// ErrAlreadyClosed is returned by Graph.Close after the first call.
var ErrAlreadyClosed = errors.New("mock: graph already closed")

// Graph is a mock implementation of capture.Graph.
type Graph struct {
	mu sync.Mutex

	// Tap is returned by Analyser. Nil means the graph has no analyser.
	Tap *Analyser

	// DisconnectErr, if non-nil, is returned by Disconnect.
	DisconnectErr error

	disconnects int
	closes      int
}

// Analyser returns Tap.
func (g *Graph) Analyser() capture.Analyser {
	if g.Tap == nil {
		return nil
	}
	return g.Tap
}

// Disconnect records the call and returns DisconnectErr.
func (g *Graph) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnects++
	return g.DisconnectErr
}

// Close records the call. Every call after the first returns
// ErrAlreadyClosed.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes++
	if g.closes > 1 {
		return ErrAlreadyClosed
	}
	return nil
}

// Counts returns how often Disconnect and Close were called.
func (g *Graph) Counts() (disconnects, closes int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disconnects, g.closes
}

var _ capture.Graph = (*Graph)(nil)

// Analyser is a mock implementation of capture.Analyser returning fixed
// bins.
type Analyser struct {
	mu    sync.Mutex
	bins  []uint8
	reads int
}

// NewAnalyser returns an analyser with n silent bins.
func NewAnalyser(n int) *Analyser {
	return &Analyser{bins: make([]uint8, max(n, 0))}
}

// SetBins replaces the bins returned by subsequent reads.
func (a *Analyser) SetBins(bins []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bins = append([]uint8(nil), bins...)
}

// Reads returns how many times ByteFrequencyData was called.
func (a *Analyser) Reads() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reads
}

// FrequencyBinCount returns the number of bins.
func (a *Analyser) FrequencyBinCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bins)
}

// ByteFrequencyData copies the bins into dst.
func (a *Analyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads++
	copy(dst, a.bins)
}

var _ capture.Analyser = (*Analyser)(nil)

// Encoder is a mock implementation of capture.Encoder. Handlers are invoked
// without the encoder's lock held.
type Encoder struct {
	mu sync.Mutex

	// Mime is reported by MimeType.
	Mime string

	// InitialState is the state a new encoder reports.
	InitialState capture.EncoderState

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopErr, if non-nil, is returned by Stop and no events follow.
	StopErr error

	// FinalChunks are delivered through OnData when Stop flushes.
	FinalChunks [][]byte

	// AsyncStop delivers the flush and OnStop from a new goroutine instead
	// of before Stop returns.
	AsyncStop bool

	state    capture.EncoderState
	handlers capture.EncoderHandlers

	// StartCallCount and StopCallCount count calls.
	StartCallCount int
	StopCallCount  int
}

// MimeType returns Mime.
func (e *Encoder) MimeType() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Mime
}

// State returns the current state.
func (e *Encoder) State() capture.EncoderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start stores h and enters the recording state unless StartErr is set.
func (e *Encoder) Start(h capture.EncoderHandlers) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StartCallCount++
	if e.StartErr != nil {
		return e.StartErr
	}
	e.handlers = h
	e.state = capture.EncoderRecording
	return nil
}

// Stop flushes FinalChunks and calls OnStop.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	e.StopCallCount++
	if e.StopErr != nil {
		e.mu.Unlock()
		return e.StopErr
	}
	if e.state == capture.EncoderInactive {
		e.mu.Unlock()
		return nil
	}
	e.state = capture.EncoderInactive
	h, chunks, async := e.handlers, e.FinalChunks, e.AsyncStop
	e.mu.Unlock()

	flush := func() {
		for _, c := range chunks {
			if h.OnData != nil {
				h.OnData(c)
			}
		}
		if h.OnStop != nil {
			h.OnStop()
		}
	}
	if async {
		go flush()
	} else {
		flush()
	}
	return nil
}

// Emit delivers chunk through OnData as if the encoder produced it.
func (e *Encoder) Emit(chunk []byte) {
	e.mu.Lock()
	h := e.handlers
	e.mu.Unlock()
	if h.OnData != nil {
		h.OnData(chunk)
	}
}

// Fail reports err through OnError and stops the encoder.
func (e *Encoder) Fail(err error) {
	e.mu.Lock()
	e.state = capture.EncoderInactive
	h := e.handlers
	e.mu.Unlock()
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Stops returns StopCallCount. Thread-safe.
func (e *Encoder) Stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StopCallCount
}

var _ capture.Encoder = (*Encoder)(nil)
