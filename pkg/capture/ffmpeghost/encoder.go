package ffmpeghost

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"layeh.com/gopus"

	"github.com/MrWong99/notescribe/pkg/capture"
)

const (
	// frameQueue buffers about ten seconds of 20 ms frames between the
	// capture reader and an encoder.
	frameQueue = 500

	// flushBytes is the amount of encoded data collected before a chunk is
	// delivered.
	flushBytes = 16 * 1024

	// maxOpusPacket bounds a single encoded Opus packet.
	maxOpusPacket = 4000
)

// frameEncoder is the format-specific half of an encoder.
type frameEncoder interface {
	open() error
	// encode consumes one PCM frame and returns any bytes ready to deliver.
	encode(frame []int16) ([]byte, error)
	// finish flushes the container and returns the remaining bytes.
	finish() ([]byte, error)
	// abort releases resources after a failure.
	abort()
}

// encoder runs a frameEncoder on its own goroutine, fed by a stream
// subscription.
type encoder struct {
	stream *stream
	mime   string
	impl   frameEncoder

	mu       sync.Mutex
	state    capture.EncoderState
	handlers capture.EncoderHandlers
	subID    int

	frames chan []int16
	ended  chan error
	stop   chan struct{}
}

var _ capture.Encoder = (*encoder)(nil)

func newEncoder(s *stream, mime string, impl frameEncoder) *encoder {
	return &encoder{
		stream: s,
		mime:   mime,
		impl:   impl,
		frames: make(chan []int16, frameQueue),
		ended:  make(chan error, 1),
		stop:   make(chan struct{}),
	}
}

func (e *encoder) MimeType() string { return e.mime }

func (e *encoder) State() capture.EncoderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *encoder) Start(h capture.EncoderHandlers) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != capture.EncoderInactive {
		return fmt.Errorf("InvalidStateError: encoder is %s", e.state)
	}
	if !e.stream.Active() {
		return errors.New("InvalidStateError: stream is not active")
	}
	if err := e.impl.open(); err != nil {
		return err
	}
	e.handlers = h
	e.state = capture.EncoderRecording
	e.subID = e.stream.subscribe(e)
	go e.run()
	return nil
}

// Stop requests finalization and returns immediately; the flush and OnStop
// follow on the encoder goroutine.
func (e *encoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == capture.EncoderInactive {
		return nil
	}
	e.state = capture.EncoderInactive
	e.stream.unsubscribe(e.subID)
	close(e.stop)
	return nil
}

// pcm implements subscriber.
func (e *encoder) pcm(frame []int16) {
	select {
	case e.frames <- frame:
	default:
		slog.Warn("ffmpeghost: encoder queue full, dropping frame")
	}
}

// end implements subscriber.
func (e *encoder) end(err error) {
	select {
	case e.ended <- err:
	default:
	}
}

func (e *encoder) run() {
	deliver := func(b []byte) {
		if len(b) > 0 && e.handlers.OnData != nil {
			e.handlers.OnData(b)
		}
	}
	fail := func(err error) {
		e.mu.Lock()
		if e.state != capture.EncoderInactive {
			e.state = capture.EncoderInactive
			e.stream.unsubscribe(e.subID)
		}
		e.mu.Unlock()
		e.impl.abort()
		if e.handlers.OnError != nil {
			e.handlers.OnError(err)
		}
	}

	for {
		select {
		case frame := <-e.frames:
			out, err := e.impl.encode(frame)
			if err != nil {
				fail(err)
				return
			}
			deliver(out)
		case err := <-e.ended:
			if err != nil {
				fail(err)
				return
			}
		case <-e.stop:
		drain:
			for {
				select {
				case frame := <-e.frames:
					out, err := e.impl.encode(frame)
					if err != nil {
						fail(err)
						return
					}
					deliver(out)
				default:
					break drain
				}
			}
			out, err := e.impl.finish()
			if err != nil {
				fail(err)
				return
			}
			deliver(out)
			if e.handlers.OnStop != nil {
				e.handlers.OnStop()
			}
			return
		}
	}
}

// opusEncoder produces Ogg Opus via gopus and pion's oggwriter.
type opusEncoder struct {
	bitrate int
	opus    *gopus.Encoder
	ogg     *oggwriter.OggWriter
	buf     bytes.Buffer
	ts      uint32
	seq     uint16
}

func newOpusEncoder(s *stream, bitrate int) *encoder {
	return newEncoder(s, "audio/ogg;codecs=opus", &opusEncoder{bitrate: bitrate})
}

func (o *opusEncoder) open() error {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("NotSupportedError: opus encoder: %w", err)
	}
	if o.bitrate > 0 {
		enc.SetBitrate(o.bitrate)
	}
	ogg, err := oggwriter.NewWith(&o.buf, SampleRate, Channels)
	if err != nil {
		return fmt.Errorf("ogg writer: %w", err)
	}
	o.opus, o.ogg = enc, ogg
	return nil
}

func (o *opusEncoder) encode(frame []int16) ([]byte, error) {
	packet, err := o.opus.Encode(frame, FrameSamples, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	o.seq++
	if err := o.ogg.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: o.seq,
			Timestamp:      o.ts,
			SSRC:           1,
		},
		Payload: packet,
	}); err != nil {
		return nil, fmt.Errorf("ogg write: %w", err)
	}
	o.ts += FrameSamples
	if o.buf.Len() < flushBytes {
		return nil, nil
	}
	return o.take(), nil
}

func (o *opusEncoder) finish() ([]byte, error) {
	if err := o.ogg.Close(); err != nil {
		return nil, fmt.Errorf("ogg close: %w", err)
	}
	return o.take(), nil
}

func (o *opusEncoder) abort() {}

func (o *opusEncoder) take() []byte {
	out := bytes.Clone(o.buf.Bytes())
	o.buf.Reset()
	return out
}

// wavEncoder writes 16-bit PCM WAV into a temporary file, which the wav
// encoder needs for seeking back to the header, and delivers the whole file
// as one chunk when finished.
type wavEncoder struct {
	file *os.File
	wav  *wav.Encoder
}

func newWAVEncoder(s *stream) *encoder {
	return newEncoder(s, "audio/wav", &wavEncoder{})
}

func (w *wavEncoder) open() error {
	f, err := os.CreateTemp("", "notescribe-capture-*.wav")
	if err != nil {
		return fmt.Errorf("wav temp file: %w", err)
	}
	w.file = f
	w.wav = wav.NewEncoder(f, SampleRate, 16, Channels, 1)
	return nil
}

func (w *wavEncoder) encode(frame []int16) ([]byte, error) {
	data := make([]int, len(frame))
	for i, s := range frame {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := w.wav.Write(buf); err != nil {
		return nil, fmt.Errorf("wav write: %w", err)
	}
	return nil, nil
}

func (w *wavEncoder) finish() ([]byte, error) {
	defer w.cleanup()
	if err := w.wav.Close(); err != nil {
		return nil, fmt.Errorf("wav close: %w", err)
	}
	data, err := os.ReadFile(w.file.Name())
	if err != nil {
		return nil, fmt.Errorf("wav read back: %w", err)
	}
	return data, nil
}

func (w *wavEncoder) abort() { w.cleanup() }

func (w *wavEncoder) cleanup() {
	if w.file == nil {
		return
	}
	name := w.file.Name()
	_ = w.file.Close()
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("ffmpeghost: remove temp wav", "path", name, "err", err)
	}
	w.file = nil
}
