package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

// DecodeWAV parses a RIFF/WAVE container holding integer PCM (8, 16, 24 or
// 32 bit) or 32-bit IEEE float samples and returns them as interleaved
// float32 in [-1, 1] at the file's native rate and channel count.
func DecodeWAV(data []byte) (PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return PCM{}, errors.New("audio: not a valid wav file")
	}
	if d.SampleRate == 0 {
		return PCM{}, errors.New("audio: wav header has zero sample rate")
	}

	pcm := PCM{SampleRate: int(d.SampleRate), Channels: int(d.NumChans)}
	switch d.WavAudioFormat {
	case wavFormatIEEEFloat:
		samples, err := decodeFloat(d, int64(len(data)))
		if err != nil {
			return PCM{}, err
		}
		pcm.Samples = samples
	case wavFormatPCM, wavFormatExtensible:
		buf, err := d.FullPCMBuffer()
		if err != nil {
			return PCM{}, fmt.Errorf("audio: read pcm: %w", err)
		}
		samples, err := intToFloat(buf.Data, int(d.BitDepth))
		if err != nil {
			return PCM{}, err
		}
		pcm.Samples = samples
	default:
		return PCM{}, fmt.Errorf("audio: unsupported wav format tag %#x", d.WavAudioFormat)
	}
	return pcm, nil
}

// decodeFloat reads the float data chunk. The chunk size comes from the
// header and is not trusted; at most limit bytes are read.
func decodeFloat(d *wav.Decoder, limit int64) ([]float32, error) {
	if d.BitDepth != 32 {
		return nil, fmt.Errorf("audio: unsupported float bit depth %d", d.BitDepth)
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("audio: seek pcm chunk: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(d.PCMChunk, min(int64(d.PCMChunk.Size), limit)))
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("audio: read float pcm: %w", err)
	}
	raw = raw[:len(raw)-len(raw)%4]
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

func intToFloat(data []int, bitDepth int) ([]float32, error) {
	out := make([]float32, len(data))
	switch bitDepth {
	case 8:
		// 8-bit WAV is unsigned with a midpoint of 128.
		for i, v := range data {
			out[i] = float32(v-128) / 128
		}
	case 16, 24, 32:
		scale := float32(int64(1) << (bitDepth - 1))
		for i, v := range data {
			out[i] = float32(v) / scale
		}
	default:
		return nil, fmt.Errorf("audio: unsupported bit depth %d", bitDepth)
	}
	return out, nil
}

// EncodeWAV wraps mono or interleaved float32 samples in a 16-bit PCM
// RIFF/WAVE container.
func EncodeWAV(samples []float32, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("audio: invalid wav layout %d Hz / %d ch", sampleRate, channels)
	}
	q := Float32ToInt16(samples)
	ints := make([]int, len(q))
	for i, v := range q {
		ints[i] = int(v)
	}

	var out seekBuffer
	enc := wav.NewEncoder(&out, sampleRate, 16, channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalize wav: %w", err)
	}
	return out.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes once all samples are written.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("audio: negative seek position")
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte { return s.buf }
