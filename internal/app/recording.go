package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/notescribe/pkg/capture"
)

// ErrRecordingAbandoned is delivered when a recording is closed before it
// produced a result.
var ErrRecordingAbandoned = errors.New("app: recording abandoned")

// RecordingInfo holds metadata about the active recording.
type RecordingInfo struct {
	// ID is the unique identifier for this recording.
	ID string

	// StartedAt is when capture began.
	StartedAt time.Time

	// Language is the hint passed to the model, empty for the default.
	Language string
}

// Result is the outcome of one recording. Blob is empty when the recording
// failed before it was finalized.
type Result struct {
	ID         string
	Transcript string
	Blob       capture.Blob
	Err        error
}

// Recordings manages microphone recordings on one capture host and hands
// finished recordings to the transcription pipeline. Only one recording can
// be active at a time. All exported methods are safe for concurrent use.
type Recordings struct {
	app  *App
	host capture.Host
	opts []capture.Option

	mu      sync.Mutex
	active  bool
	info    RecordingInfo
	rec     *capture.Recorder
	onState func(capture.State)
	bars    int
}

// NewRecordings creates a recording manager for host. opts are applied to
// every recorder it creates, before the manager's own listeners.
func (a *App) NewRecordings(host capture.Host, opts ...capture.Option) *Recordings {
	return &Recordings{app: a, host: host, opts: opts}
}

// OnState registers fn to observe state changes of every recording.
func (r *Recordings) OnState(fn func(capture.State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onState = fn
}

// Start begins a new recording. The returned channel receives exactly one
// [Result] once the recording was transcribed or failed. Start itself fails
// with a classified capture error if the microphone could not be acquired.
func (r *Recordings) Start(ctx context.Context, language string) (<-chan Result, error) {
	r.mu.Lock()
	if r.active {
		id := r.info.ID
		r.mu.Unlock()
		return nil, fmt.Errorf("app: recording %s: %w", id, capture.ErrSessionActive)
	}
	info := RecordingInfo{ID: uuid.NewString(), StartedAt: time.Now(), Language: language}
	r.active = true
	r.info = info
	onState := r.onState
	bars := r.bars
	r.mu.Unlock()

	log := slog.With("recording_id", info.ID)
	results := make(chan Result, 1)
	var (
		once    sync.Once
		rec     *capture.Recorder
		timing  sync.Mutex
		started time.Time
	)
	deliver := func(res Result) {
		once.Do(func() {
			res.ID = info.ID
			results <- res
			r.finish(rec)
		})
	}

	m := r.app.metrics
	handoff := func(ctx context.Context, blob capture.Blob) error {
		log.Info("recording finalized", "bytes", len(blob.Data), "mime", blob.MimeType)
		text, err := r.app.Transcribe(ctx, blob.Data, blob.MimeType, language)
		deliver(Result{Transcript: text, Blob: blob, Err: err})
		return err
	}
	listener := func(s capture.State) {
		timing.Lock()
		switch s {
		case capture.StateRecording:
			started = time.Now()
			m.ActiveRecordings.Add(ctx, 1)
			log.Info("recording started")
		case capture.StateStopping, capture.StateError, capture.StateIdle:
			if !started.IsZero() {
				m.ActiveRecordings.Add(ctx, -1)
				m.RecordingDuration.Record(ctx, time.Since(started).Seconds())
				started = time.Time{}
			}
		}
		timing.Unlock()

		switch s {
		case capture.StateError:
			err := rec.Err()
			m.RecordError(ctx, "record", ErrorKind(err))
			deliver(Result{Err: err})
		case capture.StateIdle:
			deliver(Result{Err: ErrRecordingAbandoned})
		}
		if onState != nil {
			onState(s)
		}
	}

	opts := append(append([]capture.Option(nil), r.opts...), capture.WithStateListener(listener))
	if bars > 0 {
		opts = append(opts, capture.WithBars(bars))
	}
	rec = capture.NewRecorder(r.host, handoff, opts...)

	r.mu.Lock()
	r.rec = rec
	r.mu.Unlock()

	if err := rec.Start(ctx); err != nil {
		log.Warn("recording failed to start", "err", err)
		return nil, err
	}
	return results, nil
}

// Stop finalizes the active recording. Transcription continues in the
// background and its result arrives on the channel returned by Start.
func (r *Recordings) Stop() error {
	r.mu.Lock()
	rec := r.rec
	r.mu.Unlock()
	if rec == nil {
		return fmt.Errorf("app: %w", capture.ErrNotRecording)
	}
	return rec.Stop()
}

// SetBars changes the amplitude bar count of the current and every later
// recording. Non-positive n is ignored.
func (r *Recordings) SetBars(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.bars = n
	rec := r.rec
	r.mu.Unlock()
	if rec != nil {
		rec.SetBars(n)
	}
}

// Snapshot returns the display state of the current recorder. It reports
// idle when no recording was started yet.
func (r *Recordings) Snapshot() capture.Snapshot {
	r.mu.Lock()
	rec := r.rec
	r.mu.Unlock()
	if rec == nil {
		return capture.Snapshot{State: capture.StateIdle}
	}
	return rec.Snapshot()
}

// Info returns metadata about the active recording. The boolean is false
// when no recording is active.
func (r *Recordings) Info() (RecordingInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info, r.active
}

// IsActive reports whether a recording is in progress.
func (r *Recordings) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Close abandons any active recording and releases the microphone.
func (r *Recordings) Close() error {
	r.mu.Lock()
	rec := r.rec
	r.mu.Unlock()
	if rec == nil {
		return nil
	}
	return rec.Close()
}

func (r *Recordings) finish(rec *capture.Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec == rec {
		r.active = false
		r.info = RecordingInfo{}
	}
}
