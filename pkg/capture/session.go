package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/notescribe/internal/resilience"
	"github.com/MrWong99/notescribe/pkg/audio"
	"github.com/MrWong99/notescribe/pkg/waveform"
)

// State is the lifecycle state of a [Recorder].
type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateRecording  State = "recording"
	StateStopping   State = "stopping"
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateError      State = "error"
)

const (
	// DefaultMimeType tags blobs from encoders that do not report a type.
	DefaultMimeType = "audio/webm"

	// DefaultBitrate is used by the bitrate-only construction attempts.
	DefaultBitrate = 128000

	// DefaultRetryWindow is how long to wait for a track to become live.
	DefaultRetryWindow = 200 * time.Millisecond

	// DefaultTickInterval paces the amplitude sampler at roughly 60 Hz.
	DefaultTickInterval = 16 * time.Millisecond
)

// Blob is a finalized recording.
type Blob struct {
	Data     []byte
	MimeType string
	Filename string
}

// Handoff receives the finalized recording. A nil error moves the recorder
// to [StateDone], anything else to [StateError].
type Handoff func(ctx context.Context, blob Blob) error

// Snapshot is a consistent view of a [Recorder] for displays.
type Snapshot struct {
	State    State
	Elapsed  int
	Frame    waveform.Frame
	Err      error
	MimeType string
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithBars sets the number of amplitude bars per frame.
func WithBars(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.bars = n
		}
	}
}

// WithTickInterval sets the amplitude sampling interval.
func WithTickInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithTimerInterval sets the period of the elapsed-seconds counter.
func WithTimerInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.second = d
		}
	}
}

// WithRetryWindow sets how long to wait for a track to become live.
func WithRetryWindow(d time.Duration) Option {
	return func(r *Recorder) { r.retryWindow = d }
}

// WithAnalyserConfig overrides [DefaultAnalyserConfig].
func WithAnalyserConfig(cfg AnalyserConfig) Option {
	return func(r *Recorder) { r.analyser = cfg }
}

// WithSleep replaces the context-aware sleep used for warm-up and settle
// delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Recorder) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithStateListener registers fn to be called after every state change.
// fn is called without internal locks held and may call [Recorder.Snapshot].
func WithStateListener(fn func(State)) Option {
	return func(r *Recorder) { r.onState = fn }
}

// WithFrameListener registers fn to receive every amplitude frame while
// recording. fn runs on the sampler goroutine and must not call
// [Recorder.Stop], [Recorder.Reset] or [Recorder.Close].
func WithFrameListener(fn func(waveform.Frame)) Option {
	return func(r *Recorder) { r.onFrame = fn }
}

// Recorder drives one capture session at a time against a [Host].
//
// The lifecycle is idle → acquiring → recording → stopping → processing →
// done, with any failure ending in error. Done and idle accept a new
// [Recorder.Start]; error requires [Recorder.Reset]. The stream, the
// analysis graph and the encoder of a session are released together on
// every exit path.
//
// All methods are safe for concurrent use.
type Recorder struct {
	host        Host
	handoff     Handoff
	bars        int
	tick        time.Duration
	second      time.Duration
	retryWindow time.Duration
	analyser    AnalyserConfig
	sleep       func(ctx context.Context, d time.Duration) error
	onState     func(State)
	onFrame     func(waveform.Frame)

	mu      sync.Mutex
	state   State
	sess    *session
	lastErr error
	elapsed int
	frame   waveform.Frame
	mime    string
}

type session struct {
	ctx     context.Context
	choice  EncoderChoice
	stream  Stream
	graph   Graph
	encoder Encoder
	chunks  [][]byte

	done     chan struct{}
	doneOnce sync.Once
	loops    sync.WaitGroup
}

// stopLoops cancels the sampler and the elapsed timer and waits for them to
// exit. Safe to call repeatedly.
func (s *session) stopLoops() {
	s.doneOnce.Do(func() { close(s.done) })
	s.loops.Wait()
}

// NewRecorder creates a [Recorder] for host. handoff receives every
// finalized recording and may be nil.
func NewRecorder(host Host, handoff Handoff, opts ...Option) *Recorder {
	r := &Recorder{
		host:        host,
		handoff:     handoff,
		bars:        waveform.WideBars,
		tick:        DefaultTickInterval,
		second:      time.Second,
		retryWindow: DefaultRetryWindow,
		analyser:    DefaultAnalyserConfig,
		sleep:       sleepContext,
		state:       StateIdle,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns the number of whole seconds recorded so far.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Err returns the error that moved the recorder into [StateError], if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// SetBars changes the number of amplitude bars in frames sampled from now
// on, e.g. after the display was resized. Non-positive n is ignored.
func (r *Recorder) SetBars(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars = n
}

// Snapshot returns the current state, timer, last frame and error.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var frame waveform.Frame
	if r.frame != nil {
		frame = append(waveform.Frame(nil), r.frame...)
	}
	return Snapshot{
		State:    r.state,
		Elapsed:  r.elapsed,
		Frame:    frame,
		Err:      r.lastErr,
		MimeType: r.mime,
	}
}

// Start negotiates a format, opens the microphone, builds the analysis
// graph and starts the encoder. It returns once recording has begun or with
// the classified failure, in which case the recorder is in [StateError] and
// every acquired resource has been released.
//
// ctx bounds acquisition and is later passed to the [Handoff].
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle && r.state != StateDone {
		st := r.state
		r.mu.Unlock()
		return newError(ErrSessionActive, fmt.Errorf("recorder is %s", st))
	}
	sess := &session{ctx: ctx, done: make(chan struct{})}
	r.sess = sess
	r.lastErr = nil
	r.elapsed = 0
	r.frame = nil
	r.mime = ""
	notify := r.setStateLocked(StateAcquiring)
	r.mu.Unlock()
	notify()

	if err := r.acquire(ctx, sess); err != nil {
		r.fail(sess, err)
		return err
	}
	return nil
}

func (r *Recorder) acquire(ctx context.Context, sess *session) error {
	choice, err := Negotiate(r.host)
	if err != nil {
		return err
	}

	stream, err := r.host.OpenStream(ctx)
	if err != nil {
		return classify(fmt.Errorf("open stream: %w", err), false)
	}
	if err := r.attach(sess, func() { sess.stream = stream; sess.choice = choice }); err != nil {
		return err
	}
	if !stream.Active() {
		return newError(ErrRecorderInitFailed, errors.New("media stream is not active"))
	}
	if len(stream.AudioTracks()) == 0 {
		return newError(ErrDeviceNotFound, errors.New("no audio tracks in stream"))
	}
	if !anyLive(stream.AudioTracks()) {
		if err := r.sleep(ctx, r.retryWindow); err != nil {
			return newError(ErrRecorderInitFailed, err)
		}
		if !anyLive(stream.AudioTracks()) {
			return newError(ErrDeviceNotFound, errors.New("audio tracks are not ready"))
		}
	}
	for _, t := range stream.AudioTracks() {
		if t.Live() && !t.Enabled() {
			slog.Debug("capture: enabling disabled track", "track", t.Label())
			t.SetEnabled(true)
		}
	}

	// Warm-up: some engines only start delivering data once something pulls
	// on the stream.
	graph, err := r.host.NewGraph(stream, r.analyser)
	if err != nil {
		slog.Warn("capture: analysis graph unavailable, recording without waveform", "err", err)
	} else {
		if err := r.attach(sess, func() { sess.graph = graph }); err != nil {
			return err
		}
		if err := r.sleep(ctx, choice.Profile.WarmupDelay); err != nil {
			return newError(ErrRecorderInitFailed, err)
		}
	}

	if err := r.sleep(ctx, choice.Profile.SettleDelay); err != nil {
		return newError(ErrRecorderInitFailed, err)
	}
	if !stream.Active() {
		return newError(ErrRecorderInitFailed, errors.New("stream became inactive before encoder creation"))
	}

	enc, step, err := resilience.Cascade(encoderSteps(r.host, stream, choice)...)
	if err != nil {
		return newError(ErrRecorderInitFailed, err)
	}
	if err := r.attach(sess, func() { sess.encoder = enc }); err != nil {
		return err
	}
	if st := enc.State(); st != EncoderInactive {
		return newError(ErrRecorderInitFailed, fmt.Errorf("encoder is in unexpected state %s", st))
	}

	if err := r.sleep(ctx, choice.Profile.StartDelay); err != nil {
		return newError(ErrRecorderInitFailed, err)
	}
	if err := enc.Start(r.handlers(sess)); err != nil {
		return classify(fmt.Errorf("start encoder: %w", err), true)
	}

	r.mu.Lock()
	if r.sess != sess {
		r.mu.Unlock()
		return newError(ErrRecorderInitFailed, errors.New("session reset while starting"))
	}
	r.frame = waveform.Zero(r.bars)
	r.mime = enc.MimeType()
	var analyser Analyser
	if sess.graph != nil {
		analyser = sess.graph.Analyser()
	}
	sess.loops.Add(1)
	go r.runTimer(sess)
	if analyser != nil {
		sess.loops.Add(1)
		go r.runSampler(sess, analyser)
	}
	notify := r.setStateLocked(StateRecording)
	r.mu.Unlock()
	notify()

	slog.Info("capture: recording started",
		"mime", enc.MimeType(),
		"encoder_step", step,
		"profile", choice.Profile.Name,
		"waveform", analyser != nil,
	)
	return nil
}

// encoderSteps lists the construction attempts in order. Hosts disagree on
// which shape of options they accept, so each shape is tried in turn.
func encoderSteps(host Host, stream Stream, choice EncoderChoice) []resilience.Step[Encoder] {
	build := func(opts *EncoderOptions) func() (Encoder, error) {
		return func() (Encoder, error) {
			enc, err := host.NewEncoder(stream, opts)
			if err == nil && enc == nil {
				err = errors.New("host returned no encoder")
			}
			return enc, err
		}
	}

	var steps []resilience.Step[Encoder]
	if !choice.Default {
		steps = append(steps, resilience.Step[Encoder]{
			Name:  "selected-candidate",
			Build: build(&EncoderOptions{MimeType: choice.MimeType}),
		})
	}
	steps = append(steps,
		resilience.Step[Encoder]{Name: "default-no-options", Build: build(nil)},
		resilience.Step[Encoder]{Name: "explicit-empty-options", Build: build(&EncoderOptions{})},
		resilience.Step[Encoder]{Name: "fixed-bitrate", Build: build(&EncoderOptions{BitsPerSecond: DefaultBitrate})},
	)
	if !choice.Default {
		steps = append(steps, resilience.Step[Encoder]{
			Name:  "candidate-with-bitrate",
			Build: build(&EncoderOptions{MimeType: choice.MimeType, BitsPerSecond: DefaultBitrate}),
		})
	}
	return steps
}

func (r *Recorder) handlers(sess *session) EncoderHandlers {
	return EncoderHandlers{
		OnData: func(chunk []byte) {
			if len(chunk) == 0 {
				return
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.sess != sess {
				return
			}
			switch r.state {
			case StateAcquiring, StateRecording, StateStopping:
				sess.chunks = append(sess.chunks, bytes.Clone(chunk))
			}
		},
		OnStop: func() { r.finalize(sess) },
		OnError: func(err error) {
			r.mu.Lock()
			active := r.sess == sess && (r.state == StateRecording || r.state == StateStopping)
			r.mu.Unlock()
			if !active {
				return
			}
			if err == nil {
				err = errors.New("unknown encoder error")
			}
			slog.Error("capture: encoder error", "err", err)
			r.fail(sess, newError(ErrEncoderFailed, err))
		},
	}
}

// Stop asks the encoder to finalize. The finalized blob is handed off once
// the encoder has flushed, which may happen before Stop returns.
//
// Stopping a recording that is already stopping or finished is a no-op.
// Stop fails with [ErrNotRecording] only when no recording was started.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	sess := r.sess
	switch r.state {
	case StateRecording:
	case StateStopping, StateProcessing, StateDone, StateError:
		r.mu.Unlock()
		return nil
	default:
		st := r.state
		r.mu.Unlock()
		return newError(ErrNotRecording, fmt.Errorf("recorder is %s", st))
	}
	if sess == nil {
		r.mu.Unlock()
		return newError(ErrNotRecording, errors.New("no session"))
	}
	enc := sess.encoder
	notify := r.setStateLocked(StateStopping)
	r.mu.Unlock()

	sess.stopLoops()
	notify()

	if err := enc.Stop(); err != nil {
		err = newError(ErrEncoderFailed, fmt.Errorf("stop encoder: %w", err))
		r.fail(sess, err)
		return err
	}
	return nil
}

// finalize assembles the blob once the encoder has flushed and hands it
// off.
func (r *Recorder) finalize(sess *session) {
	r.mu.Lock()
	if r.sess != sess || r.state != StateStopping {
		r.mu.Unlock()
		return
	}
	mime := ""
	if sess.encoder != nil {
		mime = sess.encoder.MimeType()
	}
	if mime == "" {
		mime = DefaultMimeType
	}
	data := bytes.Join(sess.chunks, nil)
	sess.chunks = nil
	notify := r.setStateLocked(StateProcessing)
	r.mu.Unlock()
	notify()

	r.release(sess)

	blob := Blob{Data: data, MimeType: mime, Filename: FilenameFor(mime)}
	slog.Info("capture: recording finalized", "bytes", len(blob.Data), "mime", blob.MimeType)

	var err error
	if r.handoff != nil {
		err = r.handoff(sess.ctx, blob)
	}

	r.mu.Lock()
	if r.sess != sess {
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.lastErr = newError(ErrHandoffFailed, err)
		notify = r.setStateLocked(StateError)
	} else {
		notify = r.setStateLocked(StateDone)
	}
	r.mu.Unlock()
	notify()
}

// Reset discards the current session, releasing its resources, and returns
// the recorder to [StateIdle]. A hand-off in flight completes but its
// result is ignored.
func (r *Recorder) Reset() {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.lastErr = nil
	r.elapsed = 0
	r.frame = nil
	r.mime = ""
	notify := r.setStateLocked(StateIdle)
	r.mu.Unlock()

	if sess != nil {
		sess.stopLoops()
		r.release(sess)
	}
	notify()
}

// Close releases any live session. The recorder may be reused afterwards.
func (r *Recorder) Close() error {
	r.Reset()
	return nil
}

// fail moves the recorder into [StateError] with err and tears the session
// down.
func (r *Recorder) fail(sess *session, err error) {
	r.mu.Lock()
	if r.sess != sess {
		r.mu.Unlock()
		sess.stopLoops()
		r.release(sess)
		return
	}
	r.lastErr = err
	notify := r.setStateLocked(StateError)
	r.mu.Unlock()

	slog.Warn("capture: session failed", "err", err)
	sess.stopLoops()
	r.release(sess)
	notify()
}

// attach stores a freshly acquired resource on sess. If the session was
// reset meanwhile the resource is released immediately.
func (r *Recorder) attach(sess *session, store func()) error {
	r.mu.Lock()
	store()
	aborted := r.sess != sess
	r.mu.Unlock()
	if aborted {
		r.release(sess)
		return newError(ErrRecorderInitFailed, errors.New("session reset while acquiring"))
	}
	return nil
}

// release stops the encoder if still running, disconnects and closes the
// analysis graph and stops every track. Each resource is detached from the
// session before it is released, so it is released exactly once no matter
// how many exit paths call release. Release errors are logged and dropped.
func (r *Recorder) release(sess *session) {
	r.mu.Lock()
	stream, graph, enc := sess.stream, sess.graph, sess.encoder
	sess.stream, sess.graph, sess.encoder = nil, nil, nil
	sess.chunks = nil
	r.mu.Unlock()

	if enc != nil && enc.State() != EncoderInactive {
		quietly("stop encoder", enc.Stop)
	}
	if graph != nil {
		quietly("disconnect graph", graph.Disconnect)
		quietly("close graph", graph.Close)
	}
	if stream != nil {
		for _, t := range stream.AudioTracks() {
			quietly("stop track", func() error { t.Stop(); return nil })
		}
	}
}

func quietly(what string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Debug("capture: release panicked", "op", what, "panic", p)
		}
	}()
	if err := fn(); err != nil {
		slog.Debug("capture: release failed", "op", what, "err", err)
	}
}

func (r *Recorder) runTimer(sess *session) {
	defer sess.loops.Done()
	t := time.NewTicker(r.second)
	defer t.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-t.C:
			r.mu.Lock()
			if r.sess == sess && r.state == StateRecording {
				r.elapsed++
			}
			r.mu.Unlock()
		}
	}
}

func (r *Recorder) runSampler(sess *session, analyser Analyser) {
	defer sess.loops.Done()
	bins := make([]uint8, analyser.FrequencyBinCount())
	t := time.NewTicker(r.tick)
	defer t.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-t.C:
		}
		if !r.recording(sess) {
			return
		}
		analyser.ByteFrequencyData(bins)
		r.mu.Lock()
		bars := r.bars
		r.mu.Unlock()
		frame := waveform.Sample(bins, bars)

		r.mu.Lock()
		if r.sess != sess || r.state != StateRecording {
			r.mu.Unlock()
			return
		}
		r.frame = frame
		r.mu.Unlock()

		if r.onFrame != nil {
			r.onFrame(frame)
		}
	}
}

func (r *Recorder) recording(sess *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess == sess && r.state == StateRecording
}

func (r *Recorder) setStateLocked(s State) func() {
	r.state = s
	fn := r.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(s) }
}

// FilenameFor names a recording after the subtype of mimeType, e.g.
// "recording.webm" for "audio/webm;codecs=opus".
func FilenameFor(mimeType string) string {
	return "recording." + audio.ExtensionFor(mimeType, "webm")
}

func anyLive(tracks []Track) bool {
	for _, t := range tracks {
		if t.Live() {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
