package ffmpeghost

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/notescribe/pkg/capture"
)

// startupGrace is how long ffmpeg must survive before the device counts as
// opened.
const startupGrace = 250 * time.Millisecond

// stopTimeout bounds the wait for ffmpeg to exit after an interrupt.
const stopTimeout = 1200 * time.Millisecond

// stderrLimit is how much of ffmpeg's diagnostics is kept, counted from the
// end.
const stderrLimit = 8 << 10

// subscriber receives PCM frames from a stream. pcm must not block; end is
// called once when the stream stops delivering.
type subscriber interface {
	pcm(frame []int16)
	end(err error)
}

// stream is one running ffmpeg capture process.
type stream struct {
	process *os.Process
	stdout  io.ReadCloser
	stderr  *tailBuffer

	// done is closed once ffmpeg was reaped; exitErr is valid after that.
	done    chan struct{}
	exitErr error

	mu     sync.Mutex
	subs   map[int]subscriber
	nextID int

	live     atomic.Bool
	exited   atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once
	track    *track
}

var _ capture.Stream = (*stream)(nil)

func openStream(ctx context.Context, command, inputFormat, inputDevice string) (*stream, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", inputFormat,
		"-i", inputDevice,
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-f", "s16le",
		"-",
	}
	// The process outlives ctx; it is ended through the track.
	cmd := exec.Command(command, args...)
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	cmd.WaitDelay = stopTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeghost: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &capture.HostError{Class: capture.ClassOther, Err: fmt.Errorf("ffmpeghost: start ffmpeg: %w", err)}
	}

	s := &stream{
		process: cmd.Process,
		stdout:  stdout,
		stderr:  stderr,
		done:    make(chan struct{}),
		subs:    make(map[int]subscriber),
		stopped: make(chan struct{}),
	}
	s.track = &track{stream: s, label: inputFormat + ":" + inputDevice}
	s.track.enabled.Store(true)
	go s.read(cmd)

	select {
	case <-s.done:
		msg := strings.TrimSpace(stderr.String())
		err := s.exitErr
		if err == nil {
			err = errors.New("ffmpeg exited before capture started")
		}
		return nil, &capture.HostError{
			Class: classifyStderr(msg),
			Err:   fmt.Errorf("ffmpeghost: %w: %s", err, msg),
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-s.done
		return nil, ctx.Err()
	case <-time.After(startupGrace):
	}
	return s, nil
}

// classifyStderr maps ffmpeg's diagnostics onto capture error classes.
func classifyStderr(msg string) capture.ErrorClass {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not permitted"):
		return capture.ClassPermission
	case strings.Contains(lower, "device or resource busy"), strings.Contains(lower, "in use"):
		return capture.ClassBusy
	case strings.Contains(lower, "no such"), strings.Contains(lower, "not found"),
		strings.Contains(lower, "cannot open"), strings.Contains(lower, "connection refused"):
		return capture.ClassNotFound
	default:
		return capture.ClassOther
	}
}

// read fans frames out to subscribers until stdout ends, then reaps ffmpeg.
// Wait closes stdout, so it must not run before reading is over.
func (s *stream) read(cmd *exec.Cmd) {
	buf := make([]byte, FrameSamples*2*Channels)
	var endErr error
	for {
		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				endErr = err
			}
			break
		}
		frame := make([]int16, FrameSamples*Channels)
		if s.track.enabled.Load() {
			for i := range frame {
				frame[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
			}
		}
		s.live.Store(true)
		for _, sub := range s.subscribers() {
			sub.pcm(frame)
		}
	}
	s.exitErr = cmd.Wait()
	s.exited.Store(true)
	close(s.done)
	if endErr == nil && !s.stopping() {
		endErr = errors.New("ffmpeg capture ended unexpectedly")
	}
	for _, sub := range s.subscribers() {
		sub.end(endErr)
	}
}

func (s *stream) subscribers() []subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

func (s *stream) subscribe(sub subscriber) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.subs[s.nextID] = sub
	return s.nextID
}

func (s *stream) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Active implements [capture.Stream].
func (s *stream) Active() bool { return !s.exited.Load() }

// AudioTracks implements [capture.Stream].
func (s *stream) AudioTracks() []capture.Track { return []capture.Track{s.track} }

func (s *stream) stopping() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// stop interrupts ffmpeg, escalating to kill after stopTimeout.
func (s *stream) stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		_ = s.process.Signal(os.Interrupt)
		select {
		case <-s.done:
		case <-time.After(stopTimeout):
			_ = s.process.Kill()
			select {
			case <-s.done:
			case <-time.After(stopTimeout):
				// A leftover child still holds the pipe open.
				if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
					slog.Debug("ffmpeghost: close stdout", "err", err)
				}
				<-s.done
			}
		}
		if err := normalizeStopErr(s.exitErr); err != nil {
			slog.Debug("ffmpeghost: ffmpeg exit", "err", err, "stderr", strings.TrimSpace(s.stderr.String()))
		}
	})
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// track is the single audio track of a stream.
type track struct {
	stream  *stream
	label   string
	enabled atomic.Bool
}

var _ capture.Track = (*track)(nil)

func (t *track) Label() string { return t.label }

// Live reports whether ffmpeg has delivered audio and is still running.
func (t *track) Live() bool { return t.stream.live.Load() && !t.stream.exited.Load() }

func (t *track) Enabled() bool { return t.enabled.Load() }

// SetEnabled mutes the track when disabled; frames keep flowing as silence.
func (t *track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Stop ends the ffmpeg process.
func (t *track) Stop() { t.stream.stop() }

// tailBuffer keeps the last limit bytes written to it. It is safe for the
// concurrent writes of exec and reads of diagnostics.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if len(p) >= b.limit {
		b.buf = append(b.buf[:0], p[len(p)-b.limit:]...)
		return n, nil
	}
	if over := len(b.buf) + len(p) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
